package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/juju/clock"
	"github.com/juju/errors"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second

	// DefaultRecycleInterval is how long one subscription is kept before the
	// client resubscribes on a fresh connection.
	DefaultRecycleInterval = 50 * time.Second
	// DefaultHeartbeatInterval mirrors the server default. The watchdog
	// fires after two intervals of silence.
	DefaultHeartbeatInterval = 15 * time.Second
)

const (
	// ErrExpired is reported when the server ended a stream at its TTL.
	ErrExpired = errors.ConstError("live stream expired")
	// ErrUnavailable is reported when the server is at capacity or
	// shutting down.
	ErrUnavailable = errors.ConstError("live stream unavailable")

	errWatchdog = errors.ConstError("no frames within watchdog window")
	errRecycle  = errors.ConstError("subscription recycled")
)

// Subscription names a feed and the filter to watch it with.
type Subscription struct {
	Feed   string
	Scope  string
	Entity string
}

type StreamConfig struct {
	HeartbeatInterval time.Duration
	RecycleInterval   time.Duration
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	Clock             clock.Clock
	Dialer            *websocket.Dialer
}

func (c *StreamConfig) setDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = DefaultRecycleInterval
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = reconnectBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = reconnectMaxDelay
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// StreamClient keeps one live subscription open: it reconnects with
// exponential backoff, resubscribes when the server expires the stream or
// when RecycleInterval elapses, and reconnects when neither data nor
// heartbeats arrive for two heartbeat intervals.
type StreamClient struct {
	baseURL string
	token   string
	sub     Subscription
	cfg     StreamConfig
	msgs    chan tea.Msg
}

// NewStreamClient creates a client for sub against the backend at baseURL
// (e.g. "ws://127.0.0.1:8080").
func NewStreamClient(baseURL, token string, sub Subscription, cfg StreamConfig) *StreamClient {
	cfg.setDefaults()
	return &StreamClient{
		baseURL: baseURL,
		token:   token,
		sub:     sub,
		cfg:     cfg,
		msgs:    make(chan tea.Msg, 64),
	}
}

// --- Bubble Tea messages ---

// ConnectedMsg is sent when a subscription is established.
type ConnectedMsg struct{ Sub Subscription }

// DisconnectedMsg is sent when a subscription ends. RetryIn is zero when
// the client resubscribes immediately.
type DisconnectedMsg struct {
	Err     error
	RetryIn time.Duration
}

// DataMsg carries a freshly reloaded payload.
type DataMsg struct {
	CursorKey string
	Payload   json.RawMessage
}

// HeartbeatMsg confirms the stream is alive.
type HeartbeatMsg struct {
	CursorKey string
	At        time.Time
}

// StoppedMsg is the last message: the stream ended for good.
type StoppedMsg struct{ Err error }

// Next returns a Bubble Tea command that waits for the next stream message.
func (c *StreamClient) Next() tea.Cmd {
	return func() tea.Msg {
		return <-c.msgs
	}
}

// Messages exposes the stream messages for non-Bubble Tea consumers.
func (c *StreamClient) Messages() <-chan tea.Msg {
	return c.msgs
}

func (c *StreamClient) URL() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL
	}
	u.Path = "/ws/" + url.PathEscape(c.sub.Feed)
	q := url.Values{"scope": {c.sub.Scope}}
	if c.sub.Entity != "" {
		q.Set("entity", c.sub.Entity)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Run keeps the subscription alive until ctx is done or the server rejects
// it for good (not found, forbidden, unauthorized). It always ends by
// sending StoppedMsg.
func (c *StreamClient) Run(ctx context.Context) error {
	err := c.run(ctx)
	select {
	case c.msgs <- StoppedMsg{Err: err}:
	default:
		glog.Warningf("stream %s: dropped stop notification: %v", c.sub.Feed, err)
	}
	return err
}

func (c *StreamClient) run(ctx context.Context) error {
	delay := c.cfg.BaseDelay
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fatal(err) {
			glog.Warningf("stream %s: giving up: %v", c.sub.Feed, err)
			return err
		}
		if connected {
			delay = c.cfg.BaseDelay
		}

		wait := delay
		if errors.Is(err, errRecycle) || errors.Is(err, ErrExpired) {
			wait = 0
		} else {
			delay = min(delay*2, c.cfg.MaxDelay)
		}
		glog.V(1).Infof("stream %s: disconnected: %v (retry in %v)", c.sub.Feed, err, wait)
		c.send(ctx, DisconnectedMsg{Err: err, RetryIn: wait})

		if wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.cfg.Clock.After(wait):
			}
		}
	}
}

func fatal(err error) bool {
	return errors.Is(err, errors.NotFound) ||
		errors.Is(err, errors.Forbidden) ||
		errors.Is(err, errors.Unauthorized) ||
		errors.Is(err, errors.NotValid)
}

func (c *StreamClient) send(ctx context.Context, msg tea.Msg) {
	select {
	case c.msgs <- msg:
	case <-ctx.Done():
	}
}

// session runs one connection. connected reports whether the dial
// succeeded, so backoff can be reset.
func (c *StreamClient) session(ctx context.Context) (connected bool, err error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.URL(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return false, responseError(http.MethodGet, "/ws/"+c.sub.Feed, resp)
		}
		return false, errors.Annotate(err, "dialing")
	}
	defer conn.Close()
	c.send(ctx, ConnectedMsg{Sub: c.sub})

	done := make(chan struct{})
	defer close(done)
	frames := make(chan WSMessage)
	readErr := make(chan error, 1)
	go func() {
		for {
			var msg WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- msg:
			case <-done:
				return
			}
		}
	}()

	watchdogWindow := 2 * c.cfg.HeartbeatInterval
	watchdog := c.cfg.Clock.NewTimer(watchdogWindow)
	defer watchdog.Stop()
	recycle := c.cfg.Clock.NewTimer(c.cfg.RecycleInterval)
	defer recycle.Stop()

	for {
		select {
		case <-ctx.Done():
			closeConn(conn)
			return true, ctx.Err()
		case err := <-readErr:
			return true, errors.Annotate(err, "reading")
		case <-watchdog.Chan():
			return true, errWatchdog
		case <-recycle.Chan():
			closeConn(conn)
			return true, errRecycle
		case msg := <-frames:
			watchdog.Reset(watchdogWindow)
			if err := c.deliver(ctx, msg); err != nil {
				return true, err
			}
		}
	}
}

func (c *StreamClient) deliver(ctx context.Context, msg WSMessage) error {
	switch msg.Type {
	case MsgData:
		c.send(ctx, DataMsg{CursorKey: msg.CursorKey, Payload: msg.Payload})
	case MsgHeartbeat:
		var hb HeartbeatPayload
		_ = json.Unmarshal(msg.Payload, &hb)
		c.send(ctx, HeartbeatMsg{CursorKey: msg.CursorKey, At: hb.At})
	case MsgError:
		var p ErrorPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return errors.Annotate(err, "decoding error frame")
		}
		return codeError(p)
	}
	return nil
}

func closeConn(conn *websocket.Conn) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
}
