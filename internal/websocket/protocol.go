package websocket

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/yeonjoon13/nearby-flights/internal/model"
	"github.com/yeonjoon13/nearby-flights/internal/subscription"
)

// Inbound frame types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
)

var errUnknownType = errors.New("unknown message type")

// Inbound is one client frame.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// subscribePayload accepts numbers or numeric strings for every field.
type subscribePayload struct {
	Lat    any `json:"lat"`
	Lon    any `json:"lon"`
	Radius any `json:"radius"`
	PollMS any `json:"pollMs"`
}

// DecodeInbound parses a raw frame. Data is left undecoded.
func DecodeInbound(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, fmt.Errorf("decode frame: %w", err)
	}
	switch in.Type {
	case TypeSubscribe, TypeUnsubscribe, TypePing:
		return in, nil
	default:
		return Inbound{}, fmt.Errorf("%w: %q", errUnknownType, in.Type)
	}
}

// SubscribeRequest converts a subscribe payload into a manager request.
// An absent or empty payload yields a request that resolves to defaults.
func SubscribeRequest(data json.RawMessage) (subscription.Request, error) {
	if len(data) == 0 || string(data) == "null" {
		return subscription.Request{}, nil
	}
	var p subscribePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return subscription.Request{}, fmt.Errorf("decode subscribe: %w", err)
	}
	return subscription.Request{
		Lat:    model.ToNumber(p.Lat),
		Lon:    model.ToNumber(p.Lon),
		Radius: model.ToNumber(p.Radius),
		PollMS: model.ToNumber(p.PollMS),
	}, nil
}
