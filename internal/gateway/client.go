// Package gateway is the client for the persistence gateway's REST surface.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/corvino/tripsync/internal/protocol"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string
	// Token is the bearer credential issued by the auth service. Empty sends
	// unauthenticated requests.
	Token string
	// Timeout bounds each request. Zero means 30s.
	Timeout time.Duration
}

// Client talks to the persistence gateway.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a gateway client. The bearer token is attached to every request
// through an oauth2 static token source.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := &http.Client{}
	if cfg.Token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
		hc = oauth2.NewClient(context.Background(), src)
	}
	hc.Timeout = timeout
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    hc,
	}
}

// LoadTrip fetches the durable baseline of a trip.
func (c *Client) LoadTrip(ctx context.Context, tripID string) (protocol.TripRecord, error) {
	var out protocol.TripRecord
	if err := c.do(ctx, http.MethodGet, tripPath(tripID), nil, &out); err != nil {
		return protocol.TripRecord{}, fmt.Errorf("load trip: %w", err)
	}
	return out, nil
}

// AppendChatMessage persists a chat message. ts is sent so the server can keep
// it as the canonical timestamp.
func (c *Client) AppendChatMessage(ctx context.Context, tripID, content string, ts time.Time) (protocol.ChatMessage, error) {
	var out protocol.ChatMessage
	req := protocol.ChatRequest{Content: content, Timestamp: ts}
	if err := c.do(ctx, http.MethodPost, tripPath(tripID, "messages"), req, &out); err != nil {
		return protocol.ChatMessage{}, fmt.Errorf("append chat message: %w", err)
	}
	return out, nil
}

// ProposeActivity persists a new activity proposal.
func (c *Client) ProposeActivity(ctx context.Context, tripID, content string, ts time.Time) (protocol.ActivityProposal, error) {
	var out protocol.ActivityProposal
	req := protocol.ProposalRequest{Content: content, Timestamp: ts}
	if err := c.do(ctx, http.MethodPost, tripPath(tripID, "activities"), req, &out); err != nil {
		return protocol.ActivityProposal{}, fmt.Errorf("propose activity: %w", err)
	}
	return out, nil
}

// CastVote records the caller's vote and returns the proposal as stored.
func (c *Client) CastVote(ctx context.Context, tripID, activityID string, value bool, ts time.Time) (protocol.ActivityProposal, error) {
	var out protocol.ActivityProposal
	req := protocol.VoteRequest{Value: value, Timestamp: ts}
	if err := c.do(ctx, http.MethodPost, tripPath(tripID, "activities", activityID, "votes"), req, &out); err != nil {
		return protocol.ActivityProposal{}, fmt.Errorf("cast vote: %w", err)
	}
	return out, nil
}

// InviteCollaborator invites email to the trip. Inviting an address that is
// already attached returns the existing collaborator.
func (c *Client) InviteCollaborator(ctx context.Context, tripID, email string) (protocol.Collaborator, error) {
	var out protocol.Collaborator
	req := protocol.InviteRequest{Email: email}
	if err := c.do(ctx, http.MethodPost, tripPath(tripID, "collaborators"), req, &out); err != nil {
		return protocol.Collaborator{}, fmt.Errorf("invite collaborator: %w", err)
	}
	return out, nil
}

// CreateTrip creates a trip owned by the caller.
func (c *Client) CreateTrip(ctx context.Context, name string) (protocol.TripRecord, error) {
	var out protocol.TripRecord
	req := struct {
		Name string `json:"name"`
	}{Name: name}
	if err := c.do(ctx, http.MethodPost, "/api/trips", req, &out); err != nil {
		return protocol.TripRecord{}, fmt.Errorf("create trip: %w", err)
	}
	return out, nil
}

// Health reports the server's liveness and room count.
func (c *Client) Health(ctx context.Context) (protocol.HealthResponse, error) {
	var out protocol.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &out); err != nil {
		return protocol.HealthResponse{}, fmt.Errorf("health: %w", err)
	}
	return out, nil
}

// Rooms lists the broker's live trip rooms.
func (c *Client) Rooms(ctx context.Context) (protocol.RoomList, error) {
	var out protocol.RoomList
	if err := c.do(ctx, http.MethodGet, "/api/rooms", nil, &out); err != nil {
		return protocol.RoomList{}, fmt.Errorf("list rooms: %w", err)
	}
	return out, nil
}

// Participants lists the live connections in a trip's room.
func (c *Client) Participants(ctx context.Context, tripID string) (protocol.ParticipantList, error) {
	var out protocol.ParticipantList
	path := "/api/rooms/" + url.PathEscape(tripID) + "/participants"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return protocol.ParticipantList{}, fmt.Errorf("list participants: %w", err)
	}
	return out, nil
}

func tripPath(tripID string, rest ...string) string {
	parts := []string{"/api/trips", url.PathEscape(tripID)}
	for _, p := range rest {
		parts = append(parts, url.PathEscape(p))
	}
	return strings.Join(parts, "/")
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
