package main

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	analytics "github.com/your-org/roadrunner-analytics-transport"
)

const maxLineBytes = 1 << 20

// readSubmissions decodes one submission per line of r and forwards
// it to events. Blank lines are skipped and malformed lines are logged.
// It returns the number of forwarded submissions once r is exhausted
// or ctx is done.
func readSubmissions(ctx context.Context, r io.Reader, events chan<- analytics.Submission, logger *zap.Logger) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	forwarded := 0
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var submission analytics.Submission
		if err := json.Unmarshal(raw, &submission); err != nil {
			logger.Warn("Skipping malformed line", zap.Int("line", line), zap.Error(err))
			continue
		}
		if submission.Type == "" {
			logger.Warn("Skipping line without event type", zap.Int("line", line))
			continue
		}

		select {
		case events <- submission:
			forwarded++
		case <-ctx.Done():
			return forwarded, ctx.Err()
		}
	}
	return forwarded, scanner.Err()
}
