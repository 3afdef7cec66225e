// Command ingestor runs the polling loop headless for one location and
// publishes every snapshot to Kafka, with no websocket clients involved.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/yeonjoon13/nearby-flights/internal/app"
	"github.com/yeonjoon13/nearby-flights/internal/config"
	"github.com/yeonjoon13/nearby-flights/internal/logging"
	"github.com/yeonjoon13/nearby-flights/internal/model"
	"github.com/yeonjoon13/nearby-flights/internal/subscription"
)

// logSubscriber keeps the poller alive and logs what it would have sent.
type logSubscriber struct{}

func (logSubscriber) ID() string { return "ingestor" }

func (logSubscriber) Deliver(ev model.Event) error {
	switch data := ev.Data.(type) {
	case model.Snapshot:
		e := logging.Debug().Int("others", len(data.Others)).Int("others_total", data.OthersTotal)
		if data.Nearest != nil {
			e = e.Str("hex", data.Nearest.Hex).Str("flight", data.Nearest.Flight)
		}
		e.Msg("snapshot")
	case model.ErrorPayload:
		logging.Warn().Str("message", data.Message).Str("detail", data.Detail).Msg("cycle error")
	}
	return nil
}

func main() {
	lat := flag.Float64("lat", 0, "latitude to poll (default from config)")
	lon := flag.Float64("lon", 0, "longitude to poll (default from config)")
	radius := flag.Float64("radius", 0, "radius in nautical miles (default from config)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Caller: cfg.Logging.Caller})
	if !cfg.Kafka.Enabled {
		logging.Warn().Msg("kafka is disabled; snapshots will only be logged")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := app.New(cfg)
	a.EnsureTopic(ctx)

	var req subscription.Request
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "lat":
			req.Lat = lat
		case "lon":
			req.Lon = lon
		case "radius":
			req.Radius = radius
		}
	})

	tree := a.Tree("ingestor")
	errCh := tree.ServeBackground(ctx)

	key, err := a.Manager.Subscribe(logSubscriber{}, req)
	if err != nil {
		logging.Fatal().Err(err).Msg("cannot poll location")
	}
	logging.Info().Str("key", string(key)).Str("topic", cfg.Kafka.Topic).Msg("ingestor running")

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor stopped")
		os.Exit(1)
	}
}
