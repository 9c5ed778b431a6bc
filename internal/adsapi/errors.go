package adsapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrInvalidPayload marks requests that could never succeed as built.
var ErrInvalidPayload = errors.New("invalid action payload")

// APIError is a non-2xx response, or a 2xx multi-status response that
// rejected the item.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	RetryAfter time.Duration
	Body       []byte
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("ads api %d", e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RequestID != "" {
		msg += " (request " + e.RequestID + ")"
	}
	return msg
}

// Retriable is true for rate limiting and server-side failures.
func (e *APIError) Retriable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetriable classifies an error from the client. Transport failures are
// retriable; cancellation, bad payloads and 4xx responses other than 429 are not.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrInvalidPayload) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retriable()
	}
	return true
}

// IsAuthError is true when the profile's credentials are no longer accepted.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// RetryAfter returns the delay the provider asked for, if any.
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

func parseRetryAfter(h string, now time.Time) time.Duration {
	h = strings.TrimSpace(h)
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// summarizeHTML extracts a readable message from an HTML error page, as served
// by gateways in front of the API on 5xx.
func summarizeHTML(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	parts := []string{}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		parts = append(parts, title)
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" && (len(parts) == 0 || h1 != parts[0]) {
		parts = append(parts, h1)
	}
	return collapseSpace(strings.Join(parts, ": "))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
