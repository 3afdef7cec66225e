// Package websocket carries the subscription protocol over gorilla/websocket.
// Each connection is one poller.Subscriber; outbound events are queued and
// written by a single writer goroutine so slow peers never stall a poller.
package websocket

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/yeonjoon13/nearby-flights/internal/logging"
	"github.com/yeonjoon13/nearby-flights/internal/metrics"
	"github.com/yeonjoon13/nearby-flights/internal/model"
	"github.com/yeonjoon13/nearby-flights/internal/poller"
	"github.com/yeonjoon13/nearby-flights/internal/subscription"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBuffer     = 32

	DefaultFrameRate  = rate.Limit(5)
	DefaultFrameBurst = 10
)

// Error event messages.
const (
	msgBadRequest      = "bad request"
	msgThrottled       = "too many messages"
	msgSubscribeFailed = "subscribe failed"
)

var (
	ErrClosed   = errors.New("connection closed")
	ErrSendFull = errors.New("send buffer full")
)

// Subscriptions is the subscription.Manager surface a connection drives.
type Subscriptions interface {
	Subscribe(sub poller.Subscriber, req subscription.Request) (poller.Key, error)
	Unsubscribe(sub poller.Subscriber) bool
	Disconnect(sub poller.Subscriber)
}

// Handler upgrades HTTP requests and runs one Client per connection.
type Handler struct {
	subs       Subscriptions
	upgrader   websocket.Upgrader
	clock      quartz.Clock
	frameRate  rate.Limit
	frameBurst int
}

type Option func(*Handler)

func WithClock(clock quartz.Clock) Option {
	return func(h *Handler) { h.clock = clock }
}

// WithCheckOrigin replaces the default allow-all origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Handler) { h.upgrader.CheckOrigin = fn }
}

// WithFrameLimit sets the per-connection inbound frame rate.
func WithFrameLimit(r rate.Limit, burst int) Option {
	return func(h *Handler) {
		h.frameRate = r
		h.frameBurst = burst
	}
}

func NewHandler(subs Subscriptions, opts ...Option) *Handler {
	h := &Handler{
		subs: subs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clock:      quartz.NewReal(),
		frameRate:  DefaultFrameRate,
		frameBurst: DefaultFrameBurst,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP blocks for the lifetime of the connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	c := newClient(conn, h)
	logging.Info().Str("subscriber", c.id).Str("remote", r.RemoteAddr).Msg("client connected")
	metrics.WSConnections.Inc()
	defer metrics.WSConnections.Dec()

	go c.writePump()
	c.readPump()
}

// Client is one websocket connection.
type Client struct {
	id      string
	conn    *websocket.Conn
	h       *Handler
	limiter *rate.Limiter

	send      chan model.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, h *Handler) *Client {
	return &Client{
		id:      uuid.NewString(),
		conn:    conn,
		h:       h,
		limiter: rate.NewLimiter(h.frameRate, h.frameBurst),
		send:    make(chan model.Event, sendBuffer),
		done:    make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Deliver queues ev without blocking. A full queue drops the event.
func (c *Client) Deliver(ev model.Event) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- ev:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSendFull
	}
}

// close stops delivery. The writer closes the socket on its way out.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) readPump() {
	defer func() {
		c.h.subs.Disconnect(c)
		c.close()
		logging.Info().Str("subscriber", c.id).Msg("client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logging.Warn().Err(err).Str("subscriber", c.id).Msg("unexpected websocket close")
			}
			return
		}
		if !c.limiter.AllowN(c.h.clock.Now(), 1) {
			metrics.WSFramesThrottled.Inc()
			_ = c.Deliver(model.ErrorEvent(msgThrottled, ""))
			continue
		}
		c.handle(raw)
	}
}

func (c *Client) handle(raw []byte) {
	in, err := DecodeInbound(raw)
	if err != nil {
		_ = c.Deliver(model.ErrorEvent(msgBadRequest, err.Error()))
		return
	}
	switch in.Type {
	case TypePing:
		_ = c.Deliver(model.Event{Type: model.EventPong})
	case TypeUnsubscribe:
		c.h.subs.Unsubscribe(c)
	case TypeSubscribe:
		req, err := SubscribeRequest(in.Data)
		if err != nil {
			_ = c.Deliver(model.ErrorEvent(msgBadRequest, err.Error()))
			return
		}
		if _, err := c.h.subs.Subscribe(c, req); err != nil {
			_ = c.Deliver(model.ErrorEvent(msgSubscribeFailed, err.Error()))
		}
	}
}

func (c *Client) writePump() {
	ticker := c.h.clock.NewTicker(pingPeriod, "Client", "ping")
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case ev := <-c.send:
			payload, err := json.Marshal(ev)
			if err != nil {
				logging.Error().Err(err).Str("type", ev.Type).Msg("encode event")
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logging.Debug().Err(err).Str("subscriber", c.id).Msg("write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
