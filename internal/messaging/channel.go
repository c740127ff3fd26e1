package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Channel is the delivery medium for a message.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Valid reports whether the channel is one we can dispatch on.
func (c Channel) Valid() bool {
	return c == ChannelSMS || c == ChannelEmail
}

// Direction distinguishes guest traffic from operator traffic.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageStatus is the delivery lifecycle of a message row.
type MessageStatus string

const (
	// StatusReceived is the terminal status of inbound messages.
	StatusReceived MessageStatus = "received"
	// StatusQueued means the row is committed but no transport has
	// accepted it yet (includes quiet-hours deferrals and retry waits).
	StatusQueued MessageStatus = "queued"
	// StatusSent means a transport accepted the message.
	StatusSent MessageStatus = "sent"
	// StatusDelivered is confirmed delivery from a provider callback.
	StatusDelivered MessageStatus = "delivered"
	// StatusFailed is a permanent failure; no further attempts run.
	StatusFailed MessageStatus = "failed"
)

// Sender identifies who authored an outbound message.
type Sender string

const (
	SenderGuest  Sender = "guest"
	SenderAI     Sender = "ai"
	SenderStaff  Sender = "staff"
	SenderSystem Sender = "system"
)

// Message is one entry in a thread's transcript. Seq is assigned in commit
// order and is unique per thread.
type Message struct {
	ID              uuid.UUID
	ThreadID        uuid.UUID
	CompanyID       uuid.UUID
	Seq             int64
	Direction       Direction
	Channel         Channel
	Sender          Sender
	Body            string
	Subject         string
	Status          MessageStatus
	ProviderMsgID   string
	BillingType     string
	CreditsDeducted int64
	SendAfter       *time.Time
	Attempts        int
	NextAttemptAt   *time.Time
	FailureReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// InboundMessage is a provider webhook payload normalized to the shape the
// pipeline consumes. GuestAddress is the phone number or email the guest
// wrote from; PropertyAddress is the number or mailbox they wrote to.
type InboundMessage struct {
	Channel         Channel
	ProviderMsgID   string
	GuestAddress    string
	PropertyAddress string
	Subject         string
	Body            string
	ReceivedAt      time.Time
}
