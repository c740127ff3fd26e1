package properties

import (
	"time"

	"github.com/google/uuid"

	"github.com/stayloop/guestops/internal/messaging"
)

// Property is a rental unit a company operates. SMSNumber and ReplyEmail are
// the provider-side addresses inbound traffic arrives on, used to route
// webhooks back to the property.
type Property struct {
	ID         uuid.UUID
	CompanyID  uuid.UUID
	Name       string
	Timezone   string
	SMSNumber  string
	ReplyEmail string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Location resolves the property's IANA timezone, falling back to UTC when
// the stored name is empty or invalid.
func (p Property) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Settings carries the per-property automation knobs. Times are local
// wall-clock values in "15:04" form, interpreted in the property timezone.
type Settings struct {
	PropertyID       uuid.UUID
	AutoReplyEnabled bool
	SMSEnabled       bool
	EmailEnabled     bool
	ReminderT3Time   string
	ReminderT1Time   string
	ReminderDayOf    string
	UpdatedAt        time.Time
}

// ChannelEnabled reports whether outbound traffic may use the channel.
func (s Settings) ChannelEnabled(ch messaging.Channel) bool {
	switch ch {
	case messaging.ChannelSMS:
		return s.SMSEnabled
	case messaging.ChannelEmail:
		return s.EmailEnabled
	default:
		return false
	}
}

// StayStatus is the lifecycle of a booking.
type StayStatus string

const (
	StayBooked     StayStatus = "booked"
	StayCheckedIn  StayStatus = "checked_in"
	StayCheckedOut StayStatus = "checked_out"
	StayCancelled  StayStatus = "cancelled"
)

// Terminal reports whether the stay can no longer change state or receive
// automated outreach.
func (s StayStatus) Terminal() bool {
	return s == StayCheckedOut || s == StayCancelled
}

// Stay is a booking at a property. GuestPhone and GuestEmail are the
// addresses inbound messages are matched against.
type Stay struct {
	ID               uuid.UUID
	PropertyID       uuid.UUID
	CompanyID        uuid.UUID
	GuestName        string
	GuestPhone       string
	GuestEmail       string
	Status           StayStatus
	CheckIn          time.Time
	CheckOut         time.Time
	PreferredChannel messaging.Channel
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
