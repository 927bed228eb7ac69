package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/corvino/tripsync/internal/gateway"
	"github.com/corvino/tripsync/internal/protocol"
	"github.com/corvino/tripsync/internal/transport"
)

// ViewConfig configures a View.
type ViewConfig struct {
	ServerURL string
	TripID    string
	UserID    string
	Username  string
	// Token is the bearer credential for the gateway and the socket upgrade.
	Token string

	// Gateway overrides the default gateway client built from ServerURL and
	// Token.
	Gateway Gateway

	Logger     *slog.Logger
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// OnChange is called after every view-model change.
	OnChange func()
}

// View is one open collaboration view of a trip: a Synchronizer fed by a
// transport connection and writing through a gateway client. It is created
// explicitly and owned by its caller.
type View struct {
	cfg    ViewConfig
	logger *slog.Logger
	state  *Synchronizer

	mu     sync.Mutex
	conn   *transport.Conn
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewView builds a View. Nothing is loaded or dialled until Open.
func NewView(cfg ViewConfig) *View {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gateway == nil {
		cfg.Gateway = gateway.New(gateway.Config{BaseURL: cfg.ServerURL, Token: cfg.Token})
	}
	v := &View{cfg: cfg, logger: cfg.Logger.With("trip_id", cfg.TripID)}
	v.ctx, v.cancel = context.WithCancel(context.Background())
	return v
}

// Open loads the baseline, then connects to the trip room. Every reconnect
// reloads the baseline. An error from the initial load is returned and
// nothing is dialled.
func (v *View) Open(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	if v.conn != nil {
		v.mu.Unlock()
		return nil
	}
	conn := transport.New(v.ctx, transport.Config{
		ServerURL:  v.cfg.ServerURL,
		TripID:     v.cfg.TripID,
		UserID:     v.cfg.UserID,
		Username:   v.cfg.Username,
		Token:      v.cfg.Token,
		Logger:     v.cfg.Logger,
		MinBackoff: v.cfg.MinBackoff,
		MaxBackoff: v.cfg.MaxBackoff,
	})
	st := New(Config{
		TripID:   v.cfg.TripID,
		UserID:   v.cfg.UserID,
		Username: v.cfg.Username,
		Gateway:  v.cfg.Gateway,
		Sender:   conn,
		Logger:   v.cfg.Logger,
		OnChange: v.cfg.OnChange,
	})
	v.conn, v.state = conn, st
	v.mu.Unlock()

	if err := st.LoadBaseline(ctx); err != nil {
		v.mu.Lock()
		v.conn, v.state = nil, nil
		v.mu.Unlock()
		conn.Close()
		return err
	}

	st.Bind(conn)
	conn.OnOpen(func(reconnect bool) {
		st.ResetPresence()
		if !reconnect {
			return
		}
		v.wg.Add(1)
		go func() {
			defer v.wg.Done()
			err := st.LoadBaseline(v.ctx)
			if err != nil && !errors.Is(err, ErrSuperseded) && !errors.Is(err, ErrClosed) {
				v.logger.Warn("reload baseline after reconnect", "error", err)
			}
		}()
	})
	conn.Start()
	return nil
}

// Close unsubscribes from the room, then sends a best-effort leave and tears
// down the connection. It is idempotent.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	conn, s := v.conn, v.state
	v.mu.Unlock()

	if s != nil {
		s.Close()
	}
	if conn != nil {
		conn.Close()
	}
	v.cancel()
	v.wg.Wait()
}

// Status reports the transport state, or closed before Open.
func (v *View) Status() transport.Status {
	v.mu.Lock()
	conn := v.conn
	v.mu.Unlock()
	if conn == nil {
		return transport.StatusClosed
	}
	return conn.Status()
}

// Snapshot returns a copy of the view model.
func (v *View) Snapshot() Snapshot {
	if s := v.synchronizer(); s != nil {
		return s.Snapshot()
	}
	return Snapshot{TripID: v.cfg.TripID}
}

// SendChat posts a chat message. See Synchronizer.ApplyLocalChat.
func (v *View) SendChat(ctx context.Context, content string) (protocol.ChatMessage, error) {
	s := v.synchronizer()
	if s == nil {
		return protocol.ChatMessage{}, ErrClosed
	}
	return s.ApplyLocalChat(ctx, content)
}

// Propose posts an activity proposal. See Synchronizer.ApplyLocalProposal.
func (v *View) Propose(ctx context.Context, content string) (protocol.ActivityProposal, error) {
	s := v.synchronizer()
	if s == nil {
		return protocol.ActivityProposal{}, ErrClosed
	}
	return s.ApplyLocalProposal(ctx, content)
}

// Vote casts the local user's vote. See Synchronizer.ApplyLocalVote.
func (v *View) Vote(ctx context.Context, activityID string, value bool) (protocol.ActivityProposal, error) {
	s := v.synchronizer()
	if s == nil {
		return protocol.ActivityProposal{}, ErrClosed
	}
	return s.ApplyLocalVote(ctx, activityID, value)
}

// Invite invites a collaborator by email.
func (v *View) Invite(ctx context.Context, email string) (protocol.Collaborator, error) {
	s := v.synchronizer()
	if s == nil {
		return protocol.Collaborator{}, ErrClosed
	}
	return s.Invite(ctx, email)
}

// CanInvite reports whether to offer the invite affordance.
func (v *View) CanInvite() bool {
	if s := v.synchronizer(); s != nil {
		return s.CanInvite()
	}
	return false
}

func (v *View) synchronizer() *Synchronizer {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}
