// Package api wires the HTTP surface: the websocket endpoint, the image
// proxy, diagnostics, metrics and the optional single-page app.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yeonjoon13/nearby-flights/internal/adsb"
	"github.com/yeonjoon13/nearby-flights/internal/logging"
	"github.com/yeonjoon13/nearby-flights/internal/poller"
)

// PollerSource is the read-only registry view behind /__debug/pollers.
type PollerSource interface {
	Diagnostics() map[poller.Key]poller.PollerInfo
}

// TokenSource reports the shared limiter budget.
type TokenSource interface {
	Capacity() int
	Tokens() int
}

type ImageFetcher interface {
	Fetch(ctx context.Context, code string) (*adsb.Image, error)
}

// Config controls middleware and static serving.
type Config struct {
	CORSOrigins []string
	// RateLimit is requests per minute per client IP on REST routes; 0 disables it.
	RateLimit int
	StaticDir string
}

// Deps are the live components the handlers read from.
type Deps struct {
	Pollers   PollerSource
	Tokens    TokenSource
	Images    ImageFetcher
	WebSocket http.Handler
}

type Handler struct {
	deps Deps
}

// NewRouter builds the chi router.
func NewRouter(cfg Config, deps Deps) http.Handler {
	h := &Handler{deps: deps}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         86400,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())
	if deps.WebSocket != nil {
		r.Handle("/ws", deps.WebSocket)
	}

	r.Group(func(r chi.Router) {
		r.Use(requestLogger)
		if cfg.RateLimit > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))
		}
		r.Get("/__debug/pollers", h.DebugPollers)
		r.Get("/api/docimg/{file}", h.DocImage)
	})

	if cfg.StaticDir != "" {
		r.NotFound(spaHandler(cfg.StaticDir).ServeHTTP)
	}
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("took_ms", time.Since(start).Milliseconds()).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
