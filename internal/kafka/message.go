package kafka

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/yeonjoon13/nearby-flights/internal/model"
	"github.com/yeonjoon13/nearby-flights/internal/poller"
)

// SnapshotMessage is the value written for every broadcast snapshot.
type SnapshotMessage struct {
	Key      poller.Key     `json:"key"`
	Snapshot model.Snapshot `json:"snapshot"`
}

// EncodeSnapshot builds the Kafka message for one snapshot.
func EncodeSnapshot(key poller.Key, snap model.Snapshot, at time.Time) (kafka.Message, error) {
	if snap.Others == nil {
		snap.Others = []model.Aircraft{}
	}
	b, err := json.Marshal(SnapshotMessage{Key: key, Snapshot: snap})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode snapshot %s: %w", key, err)
	}
	return kafka.Message{Key: []byte(key), Value: b, Time: at}, nil
}

func DecodeSnapshot(m kafka.Message) (SnapshotMessage, error) {
	var msg SnapshotMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return SnapshotMessage{}, fmt.Errorf("decode snapshot at offset %d: %w", m.Offset, err)
	}
	if msg.Key == "" {
		msg.Key = poller.Key(m.Key)
	}
	return msg, nil
}
