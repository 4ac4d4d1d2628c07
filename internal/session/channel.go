package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 256
)

type ConnState int

const (
	Connected ConnState = iota + 1
	Disconnected
)

func (s ConnState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Channel is the duplex event channel to the server.
type Channel interface {
	// Frames delivers inbound frames in arrival order.
	Frames() <-chan Frame
	// States reports connection changes. Connected is sent after every
	// successful (re)connect.
	States() <-chan ConnState
	// Send queues a frame without blocking. It reports false when the
	// queue is full.
	Send(Frame) bool
}

// WSChannel is a Channel over a websocket that reconnects with
// exponential backoff.
type WSChannel struct {
	url        string
	header     http.Header
	dialer     *websocket.Dialer
	log        zerolog.Logger
	stats      stats.StatsProvider
	newBackOff func() backoff.BackOff

	frames chan Frame
	states chan ConnState
	send   chan Frame
}

type WSOption func(*WSChannel)

// WithBackOff replaces the reconnect policy.
func WithBackOff(f func() backoff.BackOff) WSOption {
	return func(c *WSChannel) { c.newBackOff = f }
}

func WithDialer(d *websocket.Dialer) WSOption {
	return func(c *WSChannel) { c.dialer = d }
}

// NewWSChannel prepares a channel to wsURL. The token is presented as the
// session cookie on every handshake. Nothing is dialed until Run.
func NewWSChannel(log zerolog.Logger, wsURL, token string, sp stats.StatsProvider, opts ...WSOption) *WSChannel {
	header := http.Header{}
	if token != "" {
		header.Add("Cookie", (&http.Cookie{Name: "token", Value: token}).String())
	}
	if sp == nil {
		sp = stats.NopStats{}
	}

	c := &WSChannel{
		url:    wsURL,
		header: header,
		dialer: websocket.DefaultDialer,
		log:    log.With().Str("component", "channel").Logger(),
		stats:  sp,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0
			return b
		},
		frames: make(chan Frame, sendQueueSize),
		states: make(chan ConnState, 4),
		send:   make(chan Frame, sendQueueSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *WSChannel) Frames() <-chan Frame {
	return c.frames
}

func (c *WSChannel) States() <-chan ConnState {
	return c.states
}

func (c *WSChannel) Send(f Frame) bool {
	select {
	case c.send <- f:
	default:
		c.log.Warn().Str("event", f.Event).Msg("send queue full, dropping frame")
		return false
	}

	return true
}

// Run keeps the channel connected until ctx is done or the server refuses
// the handshake outright.
func (c *WSChannel) Run(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if attempt > 0 {
			c.stats.Incr(stats.Reconnects)
		}
		c.log.Info().Str("url", c.url).Int("attempt", attempt).Msg("connected")
		c.publish(ctx, Connected)

		c.serve(ctx, conn)

		c.publish(ctx, Disconnected)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn().Msg("connection lost, reconnecting")
	}
}

func (c *WSChannel) connect(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	op := func() error {
		ws, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return backoff.Permanent(fmt.Errorf("handshake rejected: %s", resp.Status))
			}
			return err
		}
		conn = ws
		return nil
	}
	notify := func(err error, next time.Duration) {
		c.log.Debug().Err(err).Dur("retry_in", next).Msg("dial failed")
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(c.newBackOff(), ctx), notify); err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	return conn, nil
}

func (c *WSChannel) publish(ctx context.Context, s ConnState) {
	select {
	case c.states <- s:
	case <-ctx.Done():
	}
}

// serve runs the pumps for one connection and returns when it dies.
func (c *WSChannel) serve(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.write(conn, stop)
	}()
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			conn.Close()
		case <-stop:
		}
	}()

	c.read(ctx, conn)
	close(stop)
	conn.Close()
	wg.Wait()
}

func (c *WSChannel) write(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case f := <-c.send:
			b, err := json.Marshal(f)
			if err != nil {
				c.log.Error().Err(err).Str("event", f.Event).Msg("serialize frame")
				continue
			}

			if !c.sendMessage(conn, websocket.TextMessage, b) {
				return
			}
		case <-stop:
			return
		case <-ticker.C:
			if !c.sendMessage(conn, websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *WSChannel) read(ctx context.Context, conn *websocket.Conn) {
	defer c.log.Debug().Msg("read exiting")

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("read")
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil || f.Event == "" {
			c.stats.Incr(stats.MalformedDropped)
			c.log.Debug().Err(err).Msg("dropping unparseable frame")
			continue
		}

		select {
		case c.frames <- f:
		case <-ctx.Done():
			return
		}
	}
}

func (c *WSChannel) sendMessage(conn *websocket.Conn, msgType int, msg []byte) bool {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(msgType, msg); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			c.log.Debug().Err(err).Msg("write message")
		}
		return false
	}

	return true
}
