package session

import "errors"

var (
	// ErrClosed is returned by operations on a closed Synchronizer.
	ErrClosed = errors.New("session: closed")

	// ErrSuperseded is returned by LoadBaseline when a later load started
	// before this one finished; its result was discarded.
	ErrSuperseded = errors.New("session: baseline superseded by a later load")

	// ErrUnknownActivity is returned when voting on an activity not in the view.
	ErrUnknownActivity = errors.New("session: unknown activity")

	// ErrActivityNotStored is returned when voting on a proposal the gateway
	// has not stored yet.
	ErrActivityNotStored = errors.New("session: activity not stored yet")

	// ErrEmptyContent is returned for blank chat messages and proposals.
	ErrEmptyContent = errors.New("session: empty content")
)

// DurabilityError reports that a gateway write failed after the view model
// was updated optimistically.
type DurabilityError struct {
	Op  string
	Err error
}

func (e *DurabilityError) Error() string {
	return "session: " + e.Op + ": " + e.Err.Error()
}

func (e *DurabilityError) Unwrap() error { return e.Err }
