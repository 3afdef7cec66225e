package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/yeonjoon13/nearby-flights/internal/logging"
)

// HTTPServer is the lifecycle surface of *http.Server.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs an HTTP server until its context is cancelled, then
// shuts it down gracefully.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }

// OneShot runs fn once. A failure is logged and not retried; the process
// keeps running without whatever fn would have provided.
type OneShot struct {
	name string
	fn   func(ctx context.Context) error
}

func NewOneShot(name string, fn func(ctx context.Context) error) *OneShot {
	return &OneShot{name: name, fn: fn}
}

func (o *OneShot) Serve(ctx context.Context) error {
	start := time.Now()
	if err := o.fn(ctx); err != nil {
		logging.Warn().Err(err).Str("service", o.name).Msg("one-shot task failed")
	} else {
		logging.Info().Str("service", o.name).Int64("took_ms", time.Since(start).Milliseconds()).Msg("one-shot task done")
	}
	return suture.ErrDoNotRestart
}

func (o *OneShot) String() string { return o.name }

// Closer holds a resource open for the life of the tree and closes it on
// shutdown.
type Closer struct {
	name string
	c    io.Closer
}

func NewCloser(name string, c io.Closer) *Closer {
	return &Closer{name: name, c: c}
}

func (c *Closer) Serve(ctx context.Context) error {
	<-ctx.Done()
	if err := c.c.Close(); err != nil {
		logging.Warn().Err(err).Str("service", c.name).Msg("close failed")
	}
	return ctx.Err()
}

func (c *Closer) String() string { return c.name }
