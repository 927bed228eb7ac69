package transport_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/corvino/tripsync/internal/protocol"
	"github.com/corvino/tripsync/internal/server"
	"github.com/corvino/tripsync/internal/transport"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newBroker(t *testing.T) *httptest.Server {
	t.Helper()
	hub := server.NewHub(server.HubOptions{Logger: quiet})
	srv := httptest.NewServer(server.NewRouter(server.Options{Hub: hub, Logger: quiet}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, url, userID string) *transport.Conn {
	t.Helper()
	c := transport.Dial(context.Background(), transport.Config{
		ServerURL:  url,
		TripID:     "trip-1",
		UserID:     userID,
		Username:   userID,
		Logger:     quiet,
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 50 * time.Millisecond,
	})
	t.Cleanup(c.Close)
	return c
}

func waitOpen(t *testing.T, c *transport.Conn) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Status() == transport.StatusOpen }, 3*time.Second, 5*time.Millisecond)
}

// recorder collects envelopes delivered to a handler.
type recorder struct {
	mu   sync.Mutex
	envs []protocol.Envelope
}

func (r *recorder) handle(env protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *recorder) find(typ, userID string) (protocol.Envelope, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.envs {
		if e.Type == typ && e.UserID == userID {
			return e, true
		}
	}
	return protocol.Envelope{}, false
}

func (r *recorder) waitFor(t *testing.T, typ, userID string) protocol.Envelope {
	t.Helper()
	var got protocol.Envelope
	require.Eventually(t, func() bool {
		var ok bool
		got, ok = r.find(typ, userID)
		return ok
	}, 3*time.Second, 5*time.Millisecond, "waiting for %s from %s", typ, userID)
	return got
}

func TestConn_JoinsAndRelays(t *testing.T) {
	srv := newBroker(t)
	var recA, recB recorder

	a := dial(t, srv.URL, "alice")
	a.OnEnvelope(recA.handle)
	waitOpen(t, a)

	b := dial(t, srv.URL, "bob")
	b.OnEnvelope(recB.handle)
	waitOpen(t, b)

	recA.waitFor(t, protocol.TypeJoin, "bob")
	recB.waitFor(t, protocol.TypeJoin, "alice")

	require.True(t, a.Send(protocol.NewChat("trip-1", "alice", "alice", "hello", protocol.Now())))
	got := recB.waitFor(t, protocol.TypeChat, "alice")
	assert.Equal(t, "hello", got.Content)

	_, echoed := recA.find(protocol.TypeChat, "alice")
	assert.False(t, echoed)
}

func TestConn_CloseSendsLeave(t *testing.T) {
	srv := newBroker(t)
	var rec recorder

	a := dial(t, srv.URL, "alice")
	a.OnEnvelope(rec.handle)
	waitOpen(t, a)
	b := dial(t, srv.URL, "bob")
	waitOpen(t, b)
	joined := rec.waitFor(t, protocol.TypeJoin, "bob")

	b.Close()
	b.Close() // idempotent

	left := rec.waitFor(t, protocol.TypeLeave, "bob")
	assert.Equal(t, joined.ConnectionID, left.ConnectionID)
	assert.Equal(t, transport.StatusClosed, b.Status())
	assert.False(t, b.Send(protocol.NewChat("trip-1", "bob", "bob", "late", protocol.Now())))
}

func TestConn_SendFailsWhileNotOpen(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := dial(t, srv.URL, "alice")
	defer c.Close()
	assert.False(t, c.Send(protocol.NewChat("trip-1", "alice", "alice", "x", protocol.Now())))
	assert.NotEqual(t, transport.StatusOpen, c.Status())
}

func TestConn_FailedWriterClosesQueue(t *testing.T) {
	c := transport.New(context.Background(), transport.Config{ServerURL: "http://127.0.0.1:1", TripID: "trip-1", UserID: "alice", Logger: quiet})
	defer c.Close()

	stale := make(chan []byte, 1)
	out := make(chan []byte, 1)
	c.MarkOpen(out)

	// A writer from an earlier socket must not close the current one.
	c.WriterFailed(stale)
	assert.Equal(t, transport.StatusOpen, c.Status())

	c.WriterFailed(out)
	assert.NotEqual(t, transport.StatusOpen, c.Status())
	assert.False(t, c.Send(protocol.NewChat("trip-1", "alice", "alice", "lost?", protocol.Now())))
	assert.Empty(t, out)
}

// flakyServer accepts WebSocket upgrades, records the first frame of each
// connection and drops every connection before the keepAfter-th.
type flakyServer struct {
	keepAfter int32
	conns     atomic.Int32
	firsts    chan protocol.Envelope
}

func (f *flakyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	n := f.conns.Add(1)

	_, data, err := ws.ReadMessage()
	if err != nil {
		return
	}
	if env, err := protocol.Decode(data); err == nil {
		f.firsts <- env
	}
	if n < f.keepAfter {
		return
	}
	ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat"`))
	ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"nope","tripId":"trip-1","userId":"x","timestamp":"2025-06-01T12:00:00Z"}`))
	good, _ := protocol.Encode(protocol.NewChat("trip-1", "bob", "bob", "after reconnect", protocol.Now()))
	ws.WriteMessage(websocket.TextMessage, good)
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func TestConn_ReconnectsRejoinsAndFiresHooks(t *testing.T) {
	flaky := &flakyServer{keepAfter: 3, firsts: make(chan protocol.Envelope, 8)}
	srv := httptest.NewServer(flaky)
	defer srv.Close()

	var (
		mu    sync.Mutex
		opens []bool
		rec   recorder
	)
	c := dial(t, srv.URL, "alice")
	defer c.Close()
	c.OnOpen(func(reconnect bool) {
		mu.Lock()
		opens = append(opens, reconnect)
		mu.Unlock()
	})
	c.OnEnvelope(rec.handle)

	for i := 0; i < 3; i++ {
		select {
		case env := <-flaky.firsts:
			assert.Equal(t, protocol.TypeJoin, env.Type, "first frame of connection %d", i+1)
			assert.Equal(t, "alice", env.UserID)
		case <-time.After(3 * time.Second):
			t.Fatalf("connection %d never joined", i+1)
		}
	}

	got := rec.waitFor(t, protocol.TypeChat, "bob")
	assert.Equal(t, "after reconnect", got.Content)
	rec.mu.Lock()
	assert.Len(t, rec.envs, 1, "malformed frames are dropped")
	rec.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	// The hook may be registered after the first open; every later open is a
	// reconnect.
	require.NotEmpty(t, opens)
	assert.True(t, opens[len(opens)-1])
}

func TestConn_UnsubscribeStopsDelivery(t *testing.T) {
	srv := newBroker(t)
	var kept, dropped recorder

	a := dial(t, srv.URL, "alice")
	unsub := a.OnEnvelope(dropped.handle)
	a.OnEnvelope(kept.handle)
	unsub()
	waitOpen(t, a)

	b := dial(t, srv.URL, "bob")
	waitOpen(t, b)
	kept.waitFor(t, protocol.TypeJoin, "bob")

	_, ok := dropped.find(protocol.TypeJoin, "bob")
	assert.False(t, ok)
}

func TestConn_CloseLeaksNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := server.NewHub(server.HubOptions{Logger: quiet})
	srv := httptest.NewServer(server.NewRouter(server.Options{Hub: hub, Logger: quiet}))

	ctx, cancel := context.WithCancel(context.Background())
	c := transport.Dial(ctx, transport.Config{ServerURL: srv.URL, TripID: "trip-1", UserID: "alice", Logger: quiet})
	waitOpen(t, c)
	cancel()
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("connection did not stop after context cancel")
	}
	c.Close()

	require.Eventually(t, func() bool { return hub.RoomCount() == 0 }, 3*time.Second, 5*time.Millisecond)
	srv.Close()
}

func TestBackoff_FullJitterWithinCap(t *testing.T) {
	base, limit := time.Second, 30*time.Second
	for attempt := 0; attempt < 40; attempt++ {
		ceil := limit
		if attempt < 5 {
			ceil = base << attempt
		}
		for i := 0; i < 50; i++ {
			d := transport.Backoff(base, limit, attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, ceil, "attempt %d", attempt)
		}
	}
}
