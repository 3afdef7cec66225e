// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	WaitShort  = 5 * time.Second
	WaitMedium = 10 * time.Second
	WaitLong   = 25 * time.Second
)

// Context returns a context that expires after d and is cancelled when the test ends.
func Context(t testing.TB, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

// RequireReceive receives a value from c, failing the test if ctx expires
// or c is closed first.
//
// Safety: Must only be called from the Go routine that created `t`.
func RequireReceive[A any](ctx context.Context, t testing.TB, c <-chan A) A {
	t.Helper()
	select {
	case <-ctx.Done():
		require.Fail(t, "RequireReceive: context expired")
		var a A
		return a
	case a, ok := <-c:
		if !ok {
			require.Fail(t, "RequireReceive: channel closed")
		}
		return a
	}
}

// RequireClosed waits for c to be closed, failing the test if ctx expires
// first or a value arrives instead.
//
// Safety: Must only be called from the Go routine that created `t`.
func RequireClosed[A any](ctx context.Context, t testing.TB, c <-chan A) {
	t.Helper()
	select {
	case <-ctx.Done():
		require.Fail(t, "RequireClosed: context expired")
	case _, ok := <-c:
		if ok {
			require.Fail(t, "RequireClosed: received a value")
		}
	}
}

// RequireSend sends a on c, failing the test if ctx expires first.
//
// Safety: Must only be called from the Go routine that created `t`.
func RequireSend[A any](ctx context.Context, t testing.TB, c chan<- A, a A) {
	t.Helper()
	select {
	case <-ctx.Done():
		require.Fail(t, "RequireSend: context expired")
	case c <- a:
	}
}

// RequireNotReady fails the test if c already holds a value.
func RequireNotReady[A any](t testing.TB, c <-chan A) {
	t.Helper()
	select {
	case a := <-c:
		require.Failf(t, "RequireNotReady", "unexpected value %v", a)
	default:
	}
}
