package scraper

import (
	"errors"
	"fmt"
)

// ErrPolicyBlocked indicates the origin's crawl policy disallows the URL.
// It is terminal and never retried.
type ErrPolicyBlocked struct {
	URL string
}

func (e ErrPolicyBlocked) Error() string {
	return fmt.Sprintf("policy_blocked: %s disallowed by robots.txt", e.URL)
}

// ErrTimeout indicates a timeout while issuing a request. Retryable.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrTransport indicates a DNS or connection failure. Retryable.
type ErrTransport struct {
	Err error
}

func (e ErrTransport) Error() string {
	return fmt.Errorf("transport: %w", e.Err).Error()
}

func (e ErrTransport) Unwrap() error {
	return e.Err
}

// ErrHTTPStatus indicates a non-success HTTP response. Retryable only for
// server errors; client errors are terminal.
type ErrHTTPStatus struct {
	Code int
}

func (e ErrHTTPStatus) Error() string {
	return fmt.Sprintf("http_status: %d", e.Code)
}

// Retryable reports whether the status warrants another attempt.
func (e ErrHTTPStatus) Retryable() bool {
	return e.Code >= 500
}

// retryable reports whether a classified fetch error may be attempted again.
func retryable(err error) bool {
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return true
	}
	var transport ErrTransport
	if errors.As(err, &transport) {
		return true
	}
	var status ErrHTTPStatus
	if errors.As(err, &status) {
		return status.Retryable()
	}
	return false
}

// errorTypeLabel maps a classified error to a metrics/report label.
func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var blocked ErrPolicyBlocked
	if errors.As(err, &blocked) {
		return "policy_blocked"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var transport ErrTransport
	if errors.As(err, &transport) {
		return "transport"
	}
	var status ErrHTTPStatus
	if errors.As(err, &status) {
		return fmt.Sprintf("http_%d", status.Code)
	}
	return "other"
}
