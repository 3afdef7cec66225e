package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/segmentio/kafka-go"

	"github.com/yeonjoon13/nearby-flights/internal/logging"
	"github.com/yeonjoon13/nearby-flights/internal/metrics"
	"github.com/yeonjoon13/nearby-flights/internal/model"
	"github.com/yeonjoon13/nearby-flights/internal/poller"
)

const publishTimeout = 5 * time.Second

// MessageWriter is the part of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SnapshotWriter is a poller.Sink that writes each snapshot to one topic.
// The default writer is asynchronous: Publish only enqueues, and delivery
// failures are logged and counted when the batch completes.
type SnapshotWriter struct {
	w     MessageWriter
	clock quartz.Clock
}

type WriterOption func(*SnapshotWriter)

func WithWriterClock(clock quartz.Clock) WriterOption {
	return func(s *SnapshotWriter) { s.clock = clock }
}

// WithMessageWriter replaces the Kafka writer, e.g. with a fake in tests.
func WithMessageWriter(w MessageWriter) WriterOption {
	return func(s *SnapshotWriter) { s.w = w }
}

func NewSnapshotWriter(broker, topic string, opts ...WriterOption) *SnapshotWriter {
	s := &SnapshotWriter{clock: quartz.NewReal()}
	s.w = &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 20 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion:   s.delivered,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ poller.Sink = (*SnapshotWriter)(nil)

func (s *SnapshotWriter) Publish(ctx context.Context, key poller.Key, snap model.Snapshot) error {
	msg, err := EncodeSnapshot(key, snap, s.clock.Now())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		metrics.RecordPublish(err)
		return fmt.Errorf("publish snapshot %s: %w", key, err)
	}
	return nil
}

func (s *SnapshotWriter) delivered(msgs []kafka.Message, err error) {
	for range msgs {
		metrics.RecordPublish(err)
	}
	if err != nil {
		logging.Warn().Err(err).Int("messages", len(msgs)).Msg("snapshot delivery failed")
	}
}

func (s *SnapshotWriter) Close() error {
	return s.w.Close()
}
