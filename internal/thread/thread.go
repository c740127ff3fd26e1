package thread

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stayloop/guestops/internal/messaging"
)

// Status is the conversational state of a thread.
type Status string

const (
	// StatusOpen means automation may respond.
	StatusOpen Status = "open"
	// StatusNeedsHuman suppresses all automated replies until staff act.
	StatusNeedsHuman Status = "needs_human"
	// StatusClosed is a resolved thread; a new inbound message reopens it.
	StatusClosed Status = "closed"
)

// ErrInvalidTransition indicates a disallowed status change.
var ErrInvalidTransition = errors.New("thread: invalid status transition")

// canTransition encodes the legal status moves. needs_human never moves back
// to open on its own: only an explicit staff action does that.
func canTransition(from, to Status) bool {
	switch from {
	case StatusOpen:
		return to == StatusNeedsHuman || to == StatusClosed
	case StatusNeedsHuman:
		return to == StatusOpen || to == StatusClosed
	case StatusClosed:
		return to == StatusOpen
	}
	return false
}

// Transition validates a status change.
func Transition(from, to Status) error {
	if from == to {
		return nil
	}
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Thread is one guest conversation, scoped to a stay. LastChannel tracks the
// channel of the most recent message either way; AssignedTo is the staff
// member working an escalated thread, empty when unassigned.
type Thread struct {
	ID            uuid.UUID
	CompanyID     uuid.UUID
	PropertyID    uuid.UUID
	StayID        uuid.UUID
	Status        Status
	LastChannel   messaging.Channel
	AssignedTo    string
	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
