package serp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ConfigurationError means the provider cannot issue any call, typically
// because no API credential is available. It is never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "serp: configuration: " + e.Reason
}

// UpstreamError is a non-success HTTP response from the search API, or a
// success response whose body could not be decoded.
type UpstreamError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *UpstreamError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Body != "" {
		return fmt.Sprintf("serp: upstream responded %s: %s", status, e.Body)
	}
	return "serp: upstream responded " + status
}

// Retryable reports whether the response is a transient failure: rate
// limiting, request timeout or a server-side error. Other 4xx and malformed
// 2xx bodies are permanent.
func (e *UpstreamError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests,
		e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode >= 500:
		return true
	}
	return false
}

// TransportError is a failure to obtain any response: dial, TLS or timeout.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "serp: transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRetryable classifies err for the retry policy. Cancellation of the
// caller's context is never retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return false
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.Retryable()
	}
	var trErr *TransportError
	return errors.As(err, &trErr)
}
