// Package app assembles the server from configuration. Both the websocket
// server and the headless ingestor build on it.
package app

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/quartz"

	"github.com/yeonjoon13/nearby-flights/internal/adsb"
	"github.com/yeonjoon13/nearby-flights/internal/airlines"
	"github.com/yeonjoon13/nearby-flights/internal/api"
	"github.com/yeonjoon13/nearby-flights/internal/cache"
	"github.com/yeonjoon13/nearby-flights/internal/config"
	"github.com/yeonjoon13/nearby-flights/internal/kafka"
	"github.com/yeonjoon13/nearby-flights/internal/logging"
	"github.com/yeonjoon13/nearby-flights/internal/model"
	"github.com/yeonjoon13/nearby-flights/internal/poller"
	"github.com/yeonjoon13/nearby-flights/internal/ratelimit"
	"github.com/yeonjoon13/nearby-flights/internal/subscription"
	"github.com/yeonjoon13/nearby-flights/internal/supervisor"
	"github.com/yeonjoon13/nearby-flights/internal/websocket"
)

const topicSetupTimeout = 10 * time.Second

// App holds the wired components.
type App struct {
	Config   *config.Config
	Limiter  *ratelimit.TokenBucket
	Upstream *adsb.Client
	Images   *adsb.ImageClient
	Airlines *airlines.Directory
	Registry *poller.Registry
	Manager  *subscription.Manager
	// Sink is nil unless Kafka is enabled.
	Sink *kafka.SnapshotWriter
}

type Option func(*options)

type options struct {
	clock quartz.Clock
	sink  poller.Sink
}

func WithClock(clock quartz.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithSink overrides the Kafka sink built from configuration.
func WithSink(s poller.Sink) Option {
	return func(o *options) { o.sink = s }
}

func New(cfg *config.Config, opts ...Option) *App {
	o := options{clock: quartz.NewReal()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg}
	a.Limiter = ratelimit.New(cfg.RateLimit.MaxRequestsPerMin, o.clock, ratelimit.WithPollInterval(cfg.RateLimit.Wait()))

	httpClient := &http.Client{Timeout: cfg.Upstream.Timeout()}
	clientOpts := []adsb.Option{adsb.WithHTTPClient(httpClient), adsb.WithUserAgent(cfg.Upstream.UserAgent)}
	a.Upstream = adsb.New(cfg.Upstream.BaseURL, a.Limiter, clientOpts...)
	a.Images = adsb.NewImageClient(cfg.Upstream.ImageBaseURL, a.Limiter, clientOpts...)
	a.Airlines = airlines.NewDirectory(httpClient, cfg.Airlines.TwoLetterURL, cfg.Airlines.ThreeLetterURL)

	cycleOpts := []poller.CycleOption{poller.WithCycleClock(o.clock), poller.WithAirlines(a.Airlines)}
	switch {
	case o.sink != nil:
		cycleOpts = append(cycleOpts, poller.WithSink(o.sink))
	case cfg.Kafka.Enabled:
		a.Sink = kafka.NewSnapshotWriter(cfg.Kafka.Broker, cfg.Kafka.Topic)
		cycleOpts = append(cycleOpts, poller.WithSink(a.Sink))
	}

	cycle := poller.NewCycle(poller.CycleConfig{
		OthersInterval:    cfg.Poller.OthersInterval(),
		OthersLimit:       cfg.Poller.OthersLimit,
		EnrichConcurrency: cfg.Poller.EnrichConcurrency,
		CallsignTTL:       cfg.Cache.CallsignTTL(),
		RoutesetTTL:       cfg.Cache.RoutesetTTL(),
	}, a.Upstream,
		cache.NewTTL[model.CallsignInfo]("callsign", o.clock),
		cache.NewTTL[model.Route]("routeset", o.clock),
		cycleOpts...)

	a.Registry = poller.NewRegistry(cycle, cfg.Poller.PollInterval(), poller.WithClock(o.clock))
	a.Manager = subscription.NewManager(a.Registry, subscription.Location{
		DefaultLat:    cfg.Location.DefaultLat,
		DefaultLon:    cfg.Location.DefaultLon,
		DefaultRadius: cfg.Location.DefaultRadius,
		OverrideLat:   cfg.Location.OverrideLat,
		OverrideLon:   cfg.Location.OverrideLon,
	}, subscription.WithClock(o.clock))
	return a
}

// EnsureTopic creates the snapshot topic when Kafka is enabled. Failure is
// logged; the writer retries on every publish.
func (a *App) EnsureTopic(ctx context.Context) {
	if !a.Config.Kafka.Enabled {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, topicSetupTimeout)
	defer cancel()
	err := kafka.EnsureTopics(ctx, a.Config.Kafka.Broker, kafka.TopicConfig{
		Topic:             a.Config.Kafka.Topic,
		NumPartitions:     a.Config.Kafka.Partitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		logging.Warn().Err(err).Str("topic", a.Config.Kafka.Topic).Msg("could not ensure snapshot topic")
	}
}

// Router builds the HTTP surface.
func (a *App) Router() http.Handler {
	return api.NewRouter(api.Config{
		CORSOrigins: a.Config.Server.CORSOrigins,
		RateLimit:   a.Config.Server.HTTPRateLimit,
		StaticDir:   a.Config.Server.StaticDir,
	}, api.Deps{
		Pollers:   a.Registry,
		Tokens:    a.Limiter,
		Images:    a.Images,
		WebSocket: websocket.NewHandler(a.Manager),
	})
}

// Tree puts the polling layer under supervision: the registry, the airline
// loader and, when present, the Kafka sink.
func (a *App) Tree(name string) *supervisor.Tree {
	tree := supervisor.NewTree(name, logging.NewSlogLogger("supervisor"), supervisor.TreeConfig{
		ShutdownTimeout: a.Config.Server.ShutdownTimeout(),
	})
	tree.AddPollingService(a.Registry)
	if a.Config.Airlines.Enabled {
		tree.AddPollingService(supervisor.NewOneShot("airline-loader", a.loadAirlines))
	}
	if a.Sink != nil {
		tree.AddPollingService(supervisor.NewCloser("snapshot-sink", a.Sink))
	}
	return tree
}

// Server returns the HTTP server for the configured address.
func (a *App) Server() *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort(a.Config.Server.Host, strconv.Itoa(a.Config.Server.Port)),
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (a *App) loadAirlines(ctx context.Context) error {
	err := a.Airlines.Load(ctx)
	two, three := a.Airlines.Len()
	logging.Info().Int("two_letter", two).Int("three_letter", three).Msg("airline directory loaded")
	return err
}
