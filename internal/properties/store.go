package properties

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stayloop/guestops/internal/messaging"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("properties: not found")

// ErrStayTerminal indicates a status change was attempted on a checked-out
// or cancelled stay.
var ErrStayTerminal = errors.New("properties: stay is in a terminal status")

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads and writes properties, per-property settings and stays.
type Store struct {
	db DB
}

// NewStore creates a property store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const propertyColumns = `id, company_id, name, timezone, sms_number, reply_email, created_at, updated_at`

func scanProperty(row pgx.Row) (Property, error) {
	var p Property
	err := row.Scan(&p.ID, &p.CompanyID, &p.Name, &p.Timezone, &p.SMSNumber, &p.ReplyEmail, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Property{}, ErrNotFound
	}
	if err != nil {
		return Property{}, fmt.Errorf("properties: scan property: %w", err)
	}
	return p, nil
}

// GetProperty returns a property by ID.
func (s *Store) GetProperty(ctx context.Context, id uuid.UUID) (Property, error) {
	row := s.db.QueryRow(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = $1`, id)
	return scanProperty(row)
}

// GetSettings returns the automation settings for a property. A property
// with no settings row gets conservative defaults: channels on, auto-reply
// off, reminders at the standard local times.
func (s *Store) GetSettings(ctx context.Context, propertyID uuid.UUID) (Settings, error) {
	var st Settings
	row := s.db.QueryRow(ctx, `
		SELECT property_id, auto_reply_enabled, sms_enabled, email_enabled,
		       reminder_t3_time, reminder_t1_time, reminder_day_of_time, updated_at
		FROM property_settings
		WHERE property_id = $1`, propertyID)
	err := row.Scan(&st.PropertyID, &st.AutoReplyEnabled, &st.SMSEnabled, &st.EmailEnabled,
		&st.ReminderT3Time, &st.ReminderT1Time, &st.ReminderDayOf, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settings{
			PropertyID:     propertyID,
			SMSEnabled:     true,
			EmailEnabled:   true,
			ReminderT3Time: "09:00",
			ReminderT1Time: "09:00",
			ReminderDayOf:  "08:00",
		}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("properties: scan settings: %w", err)
	}
	return st, nil
}

// UpsertSettings writes the settings row for a property.
func (s *Store) UpsertSettings(ctx context.Context, st Settings) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO property_settings (property_id, auto_reply_enabled, sms_enabled, email_enabled,
		                               reminder_t3_time, reminder_t1_time, reminder_day_of_time, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (property_id) DO UPDATE SET
			auto_reply_enabled = EXCLUDED.auto_reply_enabled,
			sms_enabled = EXCLUDED.sms_enabled,
			email_enabled = EXCLUDED.email_enabled,
			reminder_t3_time = EXCLUDED.reminder_t3_time,
			reminder_t1_time = EXCLUDED.reminder_t1_time,
			reminder_day_of_time = EXCLUDED.reminder_day_of_time,
			updated_at = now()`,
		st.PropertyID, st.AutoReplyEnabled, st.SMSEnabled, st.EmailEnabled,
		st.ReminderT3Time, st.ReminderT1Time, st.ReminderDayOf)
	if err != nil {
		return fmt.Errorf("properties: upsert settings: %w", err)
	}
	return nil
}

const stayColumns = `id, property_id, company_id, guest_name, guest_phone, guest_email,
	status, check_in, check_out, preferred_channel, created_at, updated_at`

func scanStay(row pgx.Row) (Stay, error) {
	var st Stay
	var status, channel string
	err := row.Scan(&st.ID, &st.PropertyID, &st.CompanyID, &st.GuestName, &st.GuestPhone, &st.GuestEmail,
		&status, &st.CheckIn, &st.CheckOut, &channel, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stay{}, ErrNotFound
	}
	if err != nil {
		return Stay{}, fmt.Errorf("properties: scan stay: %w", err)
	}
	st.Status = StayStatus(status)
	st.PreferredChannel = messaging.Channel(channel)
	return st, nil
}

// GetStay returns a stay by ID.
func (s *Store) GetStay(ctx context.Context, id uuid.UUID) (Stay, error) {
	row := s.db.QueryRow(ctx, `SELECT `+stayColumns+` FROM stays WHERE id = $1`, id)
	return scanStay(row)
}

// ResolveStay maps an inbound address pair to the active stay it belongs to.
// The property is matched on its provider-side address for the channel, then
// the guest address is matched against non-terminal stays at that property,
// most recent check-in first.
func (s *Store) ResolveStay(ctx context.Context, channel messaging.Channel, propertyAddress, guestAddress string) (Stay, Property, error) {
	var propCol, guestCol string
	switch channel {
	case messaging.ChannelSMS:
		propCol, guestCol = "p.sms_number", "s.guest_phone"
	case messaging.ChannelEmail:
		propCol, guestCol = "p.reply_email", "s.guest_email"
	default:
		return Stay{}, Property{}, fmt.Errorf("properties: resolve stay: unknown channel %q", channel)
	}

	row := s.db.QueryRow(ctx, `
		SELECT s.id, s.property_id, s.company_id, s.guest_name, s.guest_phone, s.guest_email,
		       s.status, s.check_in, s.check_out, s.preferred_channel, s.created_at, s.updated_at,
		       p.id, p.company_id, p.name, p.timezone, p.sms_number, p.reply_email, p.created_at, p.updated_at
		FROM stays s
		JOIN properties p ON p.id = s.property_id
		WHERE `+propCol+` = $1
		  AND `+guestCol+` = $2
		  AND s.status IN ('booked', 'checked_in')
		ORDER BY s.check_in DESC
		LIMIT 1`, propertyAddress, guestAddress)

	var st Stay
	var p Property
	var status, channelPref string
	err := row.Scan(&st.ID, &st.PropertyID, &st.CompanyID, &st.GuestName, &st.GuestPhone, &st.GuestEmail,
		&status, &st.CheckIn, &st.CheckOut, &channelPref, &st.CreatedAt, &st.UpdatedAt,
		&p.ID, &p.CompanyID, &p.Name, &p.Timezone, &p.SMSNumber, &p.ReplyEmail, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stay{}, Property{}, ErrNotFound
	}
	if err != nil {
		return Stay{}, Property{}, fmt.Errorf("properties: resolve stay: %w", err)
	}
	st.Status = StayStatus(status)
	st.PreferredChannel = messaging.Channel(channelPref)
	return st, p, nil
}

// ActiveStay pairs a stay with its property for reminder scheduling.
type ActiveStay struct {
	Stay     Stay
	Property Property
}

// ListActiveStays returns booked and checked-in stays whose check-in falls
// inside the window, joined with their properties.
func (s *Store) ListActiveStays(ctx context.Context, checkInAfter, checkInBefore int) ([]ActiveStay, error) {
	rows, err := s.db.Query(ctx, `
		SELECT s.id, s.property_id, s.company_id, s.guest_name, s.guest_phone, s.guest_email,
		       s.status, s.check_in, s.check_out, s.preferred_channel, s.created_at, s.updated_at,
		       p.id, p.company_id, p.name, p.timezone, p.sms_number, p.reply_email, p.created_at, p.updated_at
		FROM stays s
		JOIN properties p ON p.id = s.property_id
		WHERE s.status IN ('booked', 'checked_in')
		  AND s.check_in >= now() - make_interval(days => $1)
		  AND s.check_in <= now() + make_interval(days => $2)`, checkInAfter, checkInBefore)
	if err != nil {
		return nil, fmt.Errorf("properties: list active stays: %w", err)
	}
	defer rows.Close()

	var out []ActiveStay
	for rows.Next() {
		var st Stay
		var p Property
		var status, channelPref string
		if err := rows.Scan(&st.ID, &st.PropertyID, &st.CompanyID, &st.GuestName, &st.GuestPhone, &st.GuestEmail,
			&status, &st.CheckIn, &st.CheckOut, &channelPref, &st.CreatedAt, &st.UpdatedAt,
			&p.ID, &p.CompanyID, &p.Name, &p.Timezone, &p.SMSNumber, &p.ReplyEmail, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("properties: scan active stay: %w", err)
		}
		st.Status = StayStatus(status)
		st.PreferredChannel = messaging.Channel(channelPref)
		out = append(out, ActiveStay{Stay: st, Property: p})
	}
	return out, rows.Err()
}

// UpdateStayStatus moves a stay through its lifecycle. Terminal stays cannot
// change status; the guard runs in SQL so concurrent updates cannot revive a
// cancelled booking.
func (s *Store) UpdateStayStatus(ctx context.Context, stayID uuid.UUID, status StayStatus) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE stays SET status = $2, updated_at = now()
		WHERE id = $1 AND status NOT IN ('checked_out', 'cancelled')`, stayID, string(status))
	if err != nil {
		return fmt.Errorf("properties: update stay status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from terminal for the caller.
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stays WHERE id = $1)`, stayID).Scan(&exists); err != nil {
			return fmt.Errorf("properties: update stay status: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStayTerminal
	}
	return nil
}
