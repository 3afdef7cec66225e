package adsb

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/yeonjoon13/nearby-flights/internal/logging"
	"github.com/yeonjoon13/nearby-flights/internal/metrics"
)

// Limiter gates every outbound request.
type Limiter interface {
	Acquire(ctx context.Context) error
}

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 8 << 20
	errBodyBytes   = 200
)

type response struct {
	status int
	header http.Header
	body   []byte
}

type options struct {
	httpClient   *http.Client
	userAgent    string
	tripAfter    uint32
	breakerReset time.Duration
}

// Option configures a Client or ImageClient.
type Option func(*options)

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithBreaker sets how many consecutive upstream failures open the
// breaker and how long it stays open before probing again.
func WithBreaker(tripAfter uint32, openFor time.Duration) Option {
	return func(o *options) {
		if tripAfter > 0 {
			o.tripAfter = tripAfter
		}
		if openFor > 0 {
			o.breakerReset = openFor
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		httpClient:   &http.Client{Timeout: defaultTimeout},
		userAgent:    "nearby-flights",
		tripAfter:    5,
		breakerReset: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// transport is the rate-limited, breaker-guarded HTTP round trip shared by
// the API and image clients. Each endpoint gets its own breaker so a failing
// enrichment call never short-circuits the primary lookups.
type transport struct {
	name      string
	http      *http.Client
	limiter   Limiter
	opts      options
	userAgent string

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*response]
}

func newTransport(name string, limiter Limiter, o options) *transport {
	return &transport{
		name:      name,
		http:      o.httpClient,
		limiter:   limiter,
		opts:      o,
		userAgent: o.userAgent,
		breakers:  make(map[string]*gobreaker.CircuitBreaker[*response]),
	}
}

func (t *transport) breaker(endpoint string) *gobreaker.CircuitBreaker[*response] {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cb, ok := t.breakers[endpoint]; ok {
		return cb
	}
	name := t.name + "/" + endpoint
	tripAfter := t.opts.tripAfter
	metrics.BreakerState.WithLabelValues(name).Set(0)
	cb := gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     t.opts.breakerReset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	t.breakers[endpoint] = cb
	return cb
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// do runs req through the breaker, then the limiter. A non-2xx answer
// comes back as both a response and a *StatusError.
func (t *transport) do(ctx context.Context, endpoint string, req *http.Request) (*response, error) {
	resp, err := t.breaker(endpoint).Execute(func() (*response, error) {
		if err := t.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		return t.roundTrip(endpoint, req)
	})
	return resp, wrapBreakerErr(err)
}

func (t *transport) roundTrip(endpoint string, req *http.Request) (*response, error) {
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	start := time.Now()
	logging.Debug().Str("endpoint", endpoint).Str("method", req.Method).Str("url", req.URL.String()).Msg("upstream request")

	res, err := t.http.Do(req)
	if err != nil {
		metrics.RecordUpstream(endpoint, 0, time.Since(start))
		logging.Warn().Err(err).Str("endpoint", endpoint).Msg("upstream request failed")
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	took := time.Since(start)
	metrics.RecordUpstream(endpoint, res.StatusCode, took)
	logging.Debug().Str("endpoint", endpoint).Int("status", res.StatusCode).Int64("took_ms", took.Milliseconds()).Msg("upstream response")
	if err != nil {
		return nil, err
	}

	out := &response{status: res.StatusCode, header: res.Header, body: body}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return out, &StatusError{Endpoint: endpoint, Status: res.StatusCode, Body: truncate(body, errBodyBytes)}
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
