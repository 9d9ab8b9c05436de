package analytics_transport

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Endpoint represents a parsed collection endpoint
type Endpoint struct {
	String string
	Scheme string
	Host   string
	Port   int
	Path   string

	// Normalized URL the transport posts to
	URL string
}

// ParseEndpoint parses and validates a collection endpoint URL
func ParseEndpoint(raw string) (*Endpoint, error) {
	if raw == "" {
		return nil, fmt.Errorf("endpoint is empty")
	}

	parsedURL, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("the \"%s\" endpoint is invalid: %w", raw, err)
	}

	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("the \"%s\" endpoint must contain a scheme and a host", raw)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("the scheme of the \"%s\" endpoint must be either \"http\" or \"https\"", raw)
	}
	if parsedURL.User != nil {
		return nil, fmt.Errorf("the \"%s\" endpoint must not embed credentials", raw)
	}

	port := 80
	if parsedURL.Scheme == "https" {
		port = 443
	}
	if parsedURL.Port() != "" {
		portNum, err := strconv.Atoi(parsedURL.Port())
		if err != nil || portNum <= 0 || portNum > 65535 {
			return nil, fmt.Errorf("the \"%s\" endpoint has an invalid port", raw)
		}
		port = portNum
	}

	path := parsedURL.Path
	if path == "" {
		path = "/"
	}

	endpoint := &Endpoint{
		String: raw,
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Hostname(),
		Port:   port,
		Path:   path,
	}
	endpoint.URL = endpoint.buildURL(parsedURL.RawQuery)

	return endpoint, nil
}

func (e *Endpoint) buildURL(rawQuery string) string {
	host := e.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	u := fmt.Sprintf("%s://%s", e.Scheme, host)

	// Add port if non-standard
	if (e.Scheme == "http" && e.Port != 80) || (e.Scheme == "https" && e.Port != 443) {
		u += fmt.Sprintf(":%d", e.Port)
	}

	u += e.Path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

// AcceptHeader returns the vendor media type the collector expects
func AcceptHeader(vendor string) string {
	return fmt.Sprintf("application/vnd.%s.v1+json", vendor)
}
