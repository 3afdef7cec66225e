// Package kafka publishes broadcast snapshots to a Kafka topic and reads
// them back. Messages are keyed by poller key so one key stays on one
// partition and in order.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/yeonjoon13/nearby-flights/internal/logging"
)

type TopicConfig struct {
	Topic             string
	NumPartitions     int
	ReplicationFactor int
}

// EnsureTopics creates each topic on the cluster controller. Topics that
// already exist are left alone.
func EnsureTopics(ctx context.Context, broker string, configs ...TopicConfig) error {
	var d kafka.Dialer
	conn, err := d.DialContext(ctx, "tcp", broker)
	if err != nil {
		return fmt.Errorf("dial broker %s: %w", broker, err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find controller: %w", err)
	}
	hostPort := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	ctrlConn, err := d.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return fmt.Errorf("dial controller %s: %w", hostPort, err)
	}
	defer ctrlConn.Close()

	for _, cfg := range configs {
		err := ctrlConn.CreateTopics(topicConfig(cfg))
		switch {
		case err == nil:
			logging.Info().Str("topic", cfg.Topic).Int("partitions", cfg.NumPartitions).Msg("topic created")
		case errors.Is(err, kafka.TopicAlreadyExists):
			logging.Debug().Str("topic", cfg.Topic).Msg("topic already exists")
		default:
			return fmt.Errorf("create topic %s: %w", cfg.Topic, err)
		}
	}
	return nil
}

func topicConfig(cfg TopicConfig) kafka.TopicConfig {
	if cfg.NumPartitions < 1 {
		cfg.NumPartitions = 1
	}
	if cfg.ReplicationFactor < 1 {
		cfg.ReplicationFactor = 1
	}
	return kafka.TopicConfig{
		Topic:             cfg.Topic,
		NumPartitions:     cfg.NumPartitions,
		ReplicationFactor: cfg.ReplicationFactor,
	}
}
