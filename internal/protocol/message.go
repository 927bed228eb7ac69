package protocol

import "time"

// ChatMessage is one entry of a trip's chat. ID is nil until the persistence
// gateway has acknowledged the message.
type ChatMessage struct {
	ID         *string   `json:"id,omitempty"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`

	// Failed is set client-side when the durable write was rejected.
	Failed bool `json:"-"`
}

// DedupKey identifies the same logical chat message arriving on different paths.
func (m ChatMessage) DedupKey() DedupKey {
	return DedupKey{AuthorID: m.SenderID, Content: m.Content, At: m.Timestamp.UnixMilli()}
}

// ActivityProposal is an activity suggested for the trip.
type ActivityProposal struct {
	ID           string    `json:"id"`
	ProposerID   string    `json:"proposerId"`
	ProposerName string    `json:"proposerName"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
	Votes        []Vote    `json:"votes"`
}

// DedupKey identifies the same proposal arriving on different paths.
func (a ActivityProposal) DedupKey() DedupKey {
	return DedupKey{AuthorID: a.ProposerID, Content: a.Content, At: a.Timestamp.UnixMilli()}
}

// Clone returns a copy that does not share the vote slice.
func (a ActivityProposal) Clone() ActivityProposal {
	out := a
	out.Votes = make([]Vote, len(a.Votes))
	copy(out.Votes, a.Votes)
	return out
}

// DedupKey is the (author, content, timestamp) triple.
type DedupKey struct {
	AuthorID string
	Content  string
	At       int64
}

// Vote is one user's yes/no on an activity.
type Vote struct {
	UserID string `json:"userId"`
	Value  bool   `json:"value"`

	// CastAt is the envelope timestamp the vote was applied with. The gateway
	// fills it from storage so a reloaded baseline keeps last-write-wins order.
	CastAt time.Time `json:"castAt,omitzero"`
}

// Tally is the yes/no count of an activity's votes.
type Tally struct {
	Yes int `json:"yes"`
	No  int `json:"no"`
}

// Collaborator roles and statuses.
const (
	RoleAdmin     = "admin"
	RoleMember    = "member"
	StatusActive  = "active"
	StatusPending = "pending"
)

// Collaborator is a user attached to a trip.
type Collaborator struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role"`
	Status   string `json:"status"`
}

// TripRecord is the durable baseline of a trip's collaboration state.
type TripRecord struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	CreatorID     string             `json:"creatorId"`
	Messages      []ChatMessage      `json:"messages"`
	Activities    []ActivityProposal `json:"activities"`
	Collaborators []Collaborator     `json:"collaborators"`
}

// ChatRequest is the JSON body for POST /api/trips/{tripId}/messages.
type ChatRequest struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// ProposalRequest is the JSON body for POST /api/trips/{tripId}/activities.
type ProposalRequest struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// VoteRequest is the JSON body for POST /api/trips/{tripId}/activities/{activityId}/votes.
type VoteRequest struct {
	Value     bool      `json:"value"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// InviteRequest is the JSON body for POST /api/trips/{tripId}/collaborators.
type InviteRequest struct {
	Email string `json:"email"`
}

// ErrorDetail is the machine-readable part of an error response.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx gateway response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// RoomInfo describes an active trip room.
type RoomInfo struct {
	TripID  string `json:"tripId"`
	Handles int    `json:"handles"`
	Users   int    `json:"users"`
}

// RoomList is the response for GET /api/rooms.
type RoomList struct {
	Rooms []RoomInfo `json:"rooms"`
}

// HealthResponse is the response for GET /api/health.
type HealthResponse struct {
	Status    string  `json:"status"`
	Uptime    string  `json:"uptime"`
	UptimeSec float64 `json:"uptime_seconds"`
	Rooms     int     `json:"rooms"`
}

// ParticipantInfo describes one live connection in a room.
type ParticipantInfo struct {
	UserID       string    `json:"userId"`
	Username     string    `json:"username"`
	ConnectionID string    `json:"connectionId"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// ParticipantList is the response for GET /api/rooms/{tripId}/participants.
type ParticipantList struct {
	TripID       string            `json:"tripId"`
	Participants []ParticipantInfo `json:"participants"`
}
