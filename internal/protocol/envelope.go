package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope kinds.
const (
	TypeJoin     = "join"
	TypeLeave    = "leave"
	TypeChat     = "chat"
	TypeProposal = "activity_proposal"
	TypeVote     = "vote"
)

// ErrMalformed is returned by Decode for frames that are not a valid envelope.
var ErrMalformed = errors.New("malformed envelope")

// Envelope is the unit exchanged between a session transport and the room
// broker. Kind-specific fields are empty for kinds that do not use them.
type Envelope struct {
	Type      string    `json:"type"`
	TripID    string    `json:"tripId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`

	// ConnectionID is stamped by the broker on join/leave so presence can
	// tell apart several connections held by one user.
	ConnectionID string `json:"connectionId,omitempty"`

	// chat, activity_proposal
	Content string `json:"content,omitempty"`
	Votes   []Vote `json:"votes,omitempty"`

	// vote; also set on a proposal once the gateway has assigned an id.
	ActivityID string `json:"activityId,omitempty"`
	Value      *bool  `json:"value,omitempty"`
}

// Now returns the current UTC time at the precision that survives a JSON
// round trip through every client.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// NewJoin builds a join envelope.
func NewJoin(tripID, userID, username string) Envelope {
	return Envelope{Type: TypeJoin, TripID: tripID, UserID: userID, Username: username, Timestamp: Now()}
}

// NewLeave builds a leave envelope.
func NewLeave(tripID, userID, username string) Envelope {
	return Envelope{Type: TypeLeave, TripID: tripID, UserID: userID, Username: username, Timestamp: Now()}
}

// NewChat builds a chat envelope stamped with ts.
func NewChat(tripID, userID, username, content string, ts time.Time) Envelope {
	return Envelope{Type: TypeChat, TripID: tripID, UserID: userID, Username: username, Timestamp: ts, Content: content}
}

// NewProposal builds an activity_proposal envelope with an empty vote list.
func NewProposal(tripID, userID, username, activityID, content string, ts time.Time) Envelope {
	return Envelope{
		Type:       TypeProposal,
		TripID:     tripID,
		UserID:     userID,
		Username:   username,
		Timestamp:  ts,
		Content:    content,
		ActivityID: activityID,
		Votes:      []Vote{},
	}
}

// NewVote builds a vote envelope.
func NewVote(tripID, userID, username, activityID string, value bool, ts time.Time) Envelope {
	return Envelope{
		Type:       TypeVote,
		TripID:     tripID,
		UserID:     userID,
		Username:   username,
		Timestamp:  ts,
		ActivityID: activityID,
		Value:      &value,
	}
}

// Decode parses and validates a single wire frame.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Encode serializes an envelope for the wire.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Validate checks the fields every envelope and its kind require.
func (e Envelope) Validate() error {
	if e.TripID == "" || e.UserID == "" {
		return fmt.Errorf("%w: tripId and userId are required", ErrMalformed)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrMalformed)
	}
	switch e.Type {
	case TypeJoin, TypeLeave:
	case TypeChat, TypeProposal:
		if e.Content == "" {
			return fmt.Errorf("%w: %s without content", ErrMalformed, e.Type)
		}
	case TypeVote:
		if e.ActivityID == "" || e.Value == nil {
			return fmt.Errorf("%w: vote needs activityId and value", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, e.Type)
	}
	return nil
}
