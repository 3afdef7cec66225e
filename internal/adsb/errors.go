package adsb

import (
	"context"
	"errors"
	"fmt"

	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrUnavailable is wrapped into every error returned while a breaker is open.
var ErrUnavailable = errors.New("adsb: upstream unavailable")

// StatusError is a non-2xx upstream answer.
type StatusError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("adsb %s: status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("adsb %s: status %d: %s", e.Endpoint, e.Status, e.Body)
}

// Temporary reports whether the status points at the upstream rather than the request.
func (e *StatusError) Temporary() bool {
	return e.Status >= 500 || e.Status == 429
}

// countsAsSuccess decides what the breaker records. Client-side problems
// and our own cancellations must not trip the breaker.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return !se.Temporary()
	}
	return false
}

func wrapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
