// Command wsserver serves nearest-aircraft updates over websocket. One
// upstream polling loop runs per distinct location, shared by every client
// watching it.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/yeonjoon13/nearby-flights/internal/app"
	"github.com/yeonjoon13/nearby-flights/internal/config"
	"github.com/yeonjoon13/nearby-flights/internal/logging"
	"github.com/yeonjoon13/nearby-flights/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Caller: cfg.Logging.Caller})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := app.New(cfg)
	a.EnsureTopic(ctx)

	srv := a.Server()
	tree := a.Tree("wsserver")
	tree.AddAPIService(supervisor.NewHTTPService(srv, cfg.Server.ShutdownTimeout()))

	logging.Info().
		Str("addr", srv.Addr).
		Int("poll_ms", cfg.Poller.PollMS).
		Int("other_poll_ms", cfg.Poller.OtherPollMS).
		Int("others_limit", cfg.Poller.OthersLimit).
		Int("max_requests_per_min", cfg.RateLimit.MaxRequestsPerMin).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("server starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor stopped")
		os.Exit(1)
	}
	logging.Info().Msg("server stopped")
}
