// Command consumer tails the snapshot topic and logs the nearest aircraft
// for each poller key whenever it changes.
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"

	"github.com/yeonjoon13/nearby-flights/internal/config"
	"github.com/yeonjoon13/nearby-flights/internal/kafka"
	"github.com/yeonjoon13/nearby-flights/internal/logging"
)

const (
	cleanupInterval = 5 * time.Minute
	keyMaxAge       = 15 * time.Minute
)

func main() {
	verbose := flag.Bool("v", false, "log every snapshot, not only changes")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Caller: cfg.Logging.Caller})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	clock := quartz.NewReal()
	tr := newTracker(clock)
	go cleanup(ctx, clock, tr)

	logging.Info().Str("broker", cfg.Kafka.Broker).Str("topic", cfg.Kafka.Topic).Msg("consumer starting")
	err = kafka.TailPartitions(ctx, cfg.Kafka.Broker, cfg.Kafka.Topic, func(_ context.Context, msg kafka.SnapshotMessage) {
		st, changed := tr.observe(msg)
		if !changed && !*verbose {
			return
		}
		e := logging.Info().Str("key", string(msg.Key)).Int("others_total", msg.Snapshot.OthersTotal).Int("messages", st.Messages)
		if st.Hex == "" {
			e.Msg("no aircraft nearby")
			return
		}
		e.Str("hex", st.Hex).Str("flight", st.Flight).Msg("nearest aircraft")
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("consumer stopped")
	}
	logging.Info().Msg("consumer stopped")
}

func cleanup(ctx context.Context, clock quartz.Clock, tr *tracker) {
	ticker := clock.NewTicker(cleanupInterval, "Consumer", "cleanup")
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := tr.evict(keyMaxAge); removed > 0 {
				logging.Info().Int("removed", removed).Int("keys", tr.len()).Msg("evicted idle keys")
			}
		}
	}
}
