package analytics_transport

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// isThrottleStatus reports whether the status may carry a Retry-After
// that the pipeline honours.
func isThrottleStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// parseRetryAfter parses the Retry-After header. Only non-negative
// integer seconds are accepted; HTTP dates and anything else are
// reported as invalid.
func parseRetryAfter(header string) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}

	seconds, err := strconv.ParseInt(header, 10, 64)
	if err != nil || seconds < 0 {
		return 0, false
	}
	// Durations beyond ~292 years overflow
	if seconds > int64(time.Duration(1<<63-1)/time.Second) {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}
