package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/yeonjoon13/nearby-flights/internal/logging"
)

// Handler receives each decoded snapshot. It may be called concurrently
// from different partitions.
type Handler func(ctx context.Context, msg SnapshotMessage)

const readRetryWait = time.Second

type readerOptions struct {
	clock quartz.Clock
}

type ReaderOption func(*readerOptions)

// WithReaderClock sets the clock used for the wait between failed reads.
func WithReaderClock(clock quartz.Clock) ReaderOption {
	return func(o *readerOptions) { o.clock = clock }
}

// TailPartitions reads every partition of topic from the latest offset
// until ctx is done.
func TailPartitions(ctx context.Context, broker, topic string, handle Handler, opts ...ReaderOption) error {
	o := readerOptions{clock: quartz.NewReal()}
	for _, opt := range opts {
		opt(&o)
	}

	conn, err := kafka.DialLeader(ctx, "tcp", broker, topic, 0)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", broker, err)
	}
	partitions, err := conn.ReadPartitions()
	_ = conn.Close()
	if err != nil {
		return fmt.Errorf("read partitions of %s: %w", topic, err)
	}
	logging.Info().Str("topic", topic).Int("partitions", len(partitions)).Msg("tailing topic")

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range partitions {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     []string{broker},
			Topic:       topic,
			Partition:   p.ID,
			MinBytes:    1,
			MaxBytes:    10e6,
			StartOffset: kafka.LastOffset,
			MaxWait:     time.Second,
		})
		g.Go(func() error {
			defer r.Close()
			return readPartition(ctx, o.clock, r, p.ID, handle)
		})
	}
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// MessageReader is the part of *kafka.Reader a partition loop needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func readPartition(ctx context.Context, clock quartz.Clock, r MessageReader, partition int, handle Handler) error {
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Warn().Err(err).Int("partition", partition).Msg("partition read failed")
			t := clock.NewTimer(readRetryWait, "readPartition", "retry")
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			continue
		}
		msg, err := DecodeSnapshot(m)
		if err != nil {
			logging.Warn().Err(err).Int("partition", partition).Msg("skipping undecodable message")
			continue
		}
		handle(ctx, msg)
	}
}
