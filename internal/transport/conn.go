// Package transport keeps one participant's WebSocket to a trip room alive.
//
// A Conn cycles connecting -> open -> closed -> connecting until it is closed.
// Every time it reaches open it writes a join envelope before any other frame,
// then notifies its OnOpen hooks so callers can resynchronise state.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/corvino/tripsync/internal/protocol"
)

// Status is the connection state reported by Conn.Status.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
)

const (
	writeWait  = 10 * time.Second
	leaveWait  = time.Second
	pongWait   = 60 * time.Second
	maxMsgSize = 64 * 1024
	outBuffer  = 64
)

// Config configures Dial.
type Config struct {
	ServerURL string
	TripID    string
	UserID    string
	Username  string

	// Token, if set, is sent as a bearer Authorization header on the upgrade.
	Token string

	Logger *slog.Logger

	// MinBackoff and MaxBackoff bound the reconnect delay. Defaults are 1s
	// and 30s.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// Dialer overrides websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

type handlerEntry struct {
	id int
	fn func(protocol.Envelope)
}

type hookEntry struct {
	id int
	fn func(reconnect bool)
}

// Conn is a self-healing connection to one trip room.
type Conn struct {
	cfg    Config
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	status   Status
	out      chan []byte
	opened   bool
	nextID   int
	handlers []handlerEntry
	hooks    []hookEntry

	started   bool
	startOnce sync.Once
	closeOnce sync.Once
}

// Dial starts connecting in the background and returns immediately. The
// connection stops when Close is called or ctx is cancelled.
func Dial(ctx context.Context, cfg Config) *Conn {
	c := New(ctx, cfg)
	c.Start()
	return c
}

// New returns a Conn that does not connect until Start is called, so that
// handlers registered in between see every frame.
func New(ctx context.Context, cfg Config) *Conn {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = cfg.MinBackoff
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Conn{
		cfg:    cfg,
		logger: cfg.Logger.With("trip_id", cfg.TripID, "user_id", cfg.UserID),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		status: StatusConnecting,
	}
}

// Start begins the connect loop. Calls after the first are no-ops.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		c.mu.Lock()
		c.started = true
		c.mu.Unlock()
		go c.run()
	})
}

// Status returns the current connection state.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Send queues env for delivery. It returns false without queueing when the
// connection is not open or its outbound queue is full.
func (c *Conn) Send(env protocol.Envelope) bool {
	data, err := protocol.Encode(env)
	if err != nil {
		c.logger.Debug("encode envelope", "type", env.Type, "error", err)
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusOpen {
		return false
	}
	select {
	case c.out <- data:
		return true
	default:
		c.logger.Warn("outbound queue full, dropping envelope", "type", env.Type)
		return false
	}
}

// OnEnvelope registers fn for every well-formed inbound envelope. Handlers run
// on the read goroutine in registration order and see envelopes in the order
// they were received. The returned func removes the handler.
func (c *Conn) OnEnvelope(fn func(protocol.Envelope)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.handlers = append(c.handlers, handlerEntry{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, h := range c.handlers {
			if h.id == id {
				c.handlers = append(c.handlers[:i:i], c.handlers[i+1:]...)
				return
			}
		}
	}
}

// OnOpen registers fn to run each time the connection opens, after the join
// has been written. reconnect is false for the first open. fn runs on the
// connection goroutine and must not block.
func (c *Conn) OnOpen(fn func(reconnect bool)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.hooks = append(c.hooks, hookEntry{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, h := range c.hooks {
			if h.id == id {
				c.hooks = append(c.hooks[:i:i], c.hooks[i+1:]...)
				return
			}
		}
	}
}

// Close sends a best-effort leave, closes the socket and stops reconnecting.
// It is idempotent and returns once the background goroutines have exited.
func (c *Conn) Close() {
	c.closeOnce.Do(c.cancel)
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		c.startOnce.Do(func() { close(c.done) })
		c.setStatus(StatusClosed, nil)
		return
	}
	<-c.done
}

// Done is closed once the connection has fully stopped.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) run() {
	defer close(c.done)
	defer c.setStatus(StatusClosed, nil)

	attempt := 0
	for {
		if c.ctx.Err() != nil {
			return
		}
		c.setStatus(StatusConnecting, nil)

		opened, err := c.session()
		if c.ctx.Err() != nil {
			return
		}
		if opened {
			attempt = 0
		}
		c.setStatus(StatusClosed, nil)

		delay := backoff(c.cfg.MinBackoff, c.cfg.MaxBackoff, attempt)
		attempt++
		c.logger.Warn("trip room connection lost", "error", err, "retry_in", delay.Round(time.Millisecond))

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-c.ctx.Done():
			t.Stop()
			return
		}
	}
}

// session dials once and serves the connection until it fails. It reports
// whether the connection reached open.
func (c *Conn) session() (bool, error) {
	wsURL, err := c.buildWSURL()
	if err != nil {
		return false, err
	}
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	ws, resp, err := c.cfg.Dialer.DialContext(c.ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()

	ws.SetReadLimit(maxMsgSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPingHandler(func(appData string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		var ne net.Error
		if errors.Is(err, websocket.ErrCloseSent) || (errors.As(err, &ne) && ne.Timeout()) {
			return nil
		}
		return err
	})

	join, err := protocol.Encode(protocol.NewJoin(c.cfg.TripID, c.cfg.UserID, c.cfg.Username))
	if err != nil {
		return false, err
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, join); err != nil {
		return false, fmt.Errorf("write join: %w", err)
	}

	out := make(chan []byte, outBuffer)
	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(ws, out, stop)
	}()
	defer func() {
		close(stop)
		<-writerDone
	}()

	reconnect := c.setStatus(StatusOpen, out)
	c.logger.Info("joined trip room", "reconnect", reconnect)
	c.mu.Lock()
	hooks := append([]hookEntry(nil), c.hooks...)
	c.mu.Unlock()
	for _, h := range hooks {
		h.fn(reconnect)
	}

	return true, c.readLoop(ws)
}

func (c *Conn) readLoop(ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		env, err := protocol.Decode(data)
		if err != nil {
			c.logger.Debug("dropping inbound frame", "error", err)
			continue
		}
		c.mu.Lock()
		handlers := append([]handlerEntry(nil), c.handlers...)
		c.mu.Unlock()
		for _, h := range handlers {
			h.fn(env)
		}
	}
}

// writeLoop is the only writer of data frames on ws. On shutdown it writes
// the leave and the close frame under a short deadline, then closes ws to
// unblock the reader.
func (c *Conn) writeLoop(ws *websocket.Conn, out chan []byte, stop <-chan struct{}) {
	for {
		select {
		case data := <-out:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.writerFailed(out)
				ws.Close()
				return
			}
		case <-stop:
			return
		case <-c.ctx.Done():
			c.setStatus(StatusClosed, nil)
			ws.SetWriteDeadline(time.Now().Add(leaveWait))
			if leave, err := protocol.Encode(protocol.NewLeave(c.cfg.TripID, c.cfg.UserID, c.cfg.Username)); err == nil {
				ws.WriteMessage(websocket.TextMessage, leave)
			}
			ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			ws.Close()
			return
		}
	}
}

// setStatus updates the state and the outbound queue. It reports whether the
// connection had been open before, which is only meaningful for StatusOpen.
func (c *Conn) setStatus(s Status, out chan []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		s, out = StatusClosed, nil
	}
	c.status = s
	c.out = out
	reconnect := c.opened
	if s == StatusOpen {
		c.opened = true
	}
	return reconnect
}

// writerFailed stops Send from queueing into out once its writer is gone.
// A queue belonging to a newer session is left alone.
func (c *Conn) writerFailed(out chan []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out == out {
		c.status = StatusClosed
		c.out = nil
	}
}

func (c *Conn) buildWSURL() (string, error) {
	u, err := url.Parse(c.cfg.ServerURL)
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + c.cfg.TripID
	q := u.Query()
	q.Set("userId", c.cfg.UserID)
	q.Set("username", c.cfg.Username)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// backoff returns a full-jitter delay for the given retry attempt: uniform in
// [0, min(limit, base*2^attempt)].
func backoff(base, limit time.Duration, attempt int) time.Duration {
	ceil := limit
	if attempt < 32 {
		if d := base << attempt; d > 0 && d < limit {
			ceil = d
		}
	}
	return rand.N(ceil + 1)
}
