package calendar

import (
	"context"
	"errors"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"
)

// Failure classifies an upstream Calendar error.
type Failure int

const (
	FailureNone Failure = iota
	// FailureAuth is a 401: the access token was rejected.
	FailureAuth
	// FailureUnavailable covers timeouts, network errors, 429 and 5xx.
	FailureUnavailable
	// FailureRejected is any other 4xx.
	FailureRejected
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureAuth:
		return "auth"
	case FailureUnavailable:
		return "unavailable"
	case FailureRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Classify maps err to a Failure.
func Classify(err error) Failure {
	if err == nil {
		return FailureNone
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return FailureAuth
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return FailureUnavailable
		default:
			return FailureRejected
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureUnavailable
	}
	return FailureRejected
}

// StatusCode returns the HTTP status of a Google API error, or 0.
func StatusCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
