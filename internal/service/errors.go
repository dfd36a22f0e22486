package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies provider failures independently of the vendor
type ErrorKind int

const (
	KindUnavailable ErrorKind = iota
	KindTimeout
	KindRateLimited
	KindAuthInvalid
	KindMalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindAuthInvalid:
		return "auth_invalid"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unavailable"
	}
}

// ProviderError is the only error type adapters return. Vendor specific
// failures are folded into one of the ErrorKind values.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Is matches any ProviderError of the same kind, so callers can write
// errors.Is(err, service.ErrTimeout).
func (e *ProviderError) Is(target error) bool {
	t, ok := target.(*ProviderError)
	if !ok {
		return false
	}
	return t.Provider == "" && t.Kind == e.Kind
}

// Retryable reports whether the failure is transient
func (e *ProviderError) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindRateLimited
}

var (
	ErrTimeout           = &ProviderError{Kind: KindTimeout}
	ErrRateLimited       = &ProviderError{Kind: KindRateLimited}
	ErrAuthInvalid       = &ProviderError{Kind: KindAuthInvalid}
	ErrMalformedResponse = &ProviderError{Kind: KindMalformedResponse}
	ErrUnavailable       = &ProviderError{Kind: KindUnavailable}
)

// IsRetryable reports whether err is a transient provider failure
func IsRetryable(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Retryable()
	}
	return false
}

// KindOf returns the kind of a provider error, or KindUnavailable for anything else
func KindOf(err error) ErrorKind {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnavailable
}

// kindForStatus maps an HTTP status code returned by a vendor API
func kindForStatus(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuthInvalid
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	default:
		return KindUnavailable
	}
}

// transportError classifies errors that happened before any HTTP status was received
func transportError(provider string, err error) *ProviderError {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr
	}

	kind := KindUnavailable
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &ProviderError{
		Provider: provider,
		Kind:     kind,
		Message:  "request failed",
		Cause:    err,
	}
}
