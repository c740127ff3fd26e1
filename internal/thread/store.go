package thread

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stayloop/guestops/internal/messaging"
	"github.com/stayloop/guestops/pkg/logging"
)

// ErrNotFound indicates the requested thread or message does not exist.
var ErrNotFound = errors.New("thread: not found")

// DB is the pool surface the store needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store owns the threads and messages tables. Appends run the thread status
// change and the message insert in one transaction, with the thread row
// locked, so per-thread sequence numbers are gap-free in commit order.
type Store struct {
	db     DB
	logger *logging.Logger
}

// NewStore creates a thread store.
func NewStore(db DB, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{db: db, logger: logger}
}

const threadColumns = `id, company_id, property_id, stay_id, status, COALESCE(last_channel, ''),
	COALESCE(assigned_to, ''), last_message_at, created_at, updated_at`

func scanThread(row pgx.Row) (Thread, error) {
	var th Thread
	var status, lastChannel string
	err := row.Scan(&th.ID, &th.CompanyID, &th.PropertyID, &th.StayID, &status, &lastChannel,
		&th.AssignedTo, &th.LastMessageAt, &th.CreatedAt, &th.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Thread{}, ErrNotFound
	}
	if err != nil {
		return Thread{}, fmt.Errorf("thread: scan thread: %w", err)
	}
	th.Status = Status(status)
	th.LastChannel = messaging.Channel(lastChannel)
	return th, nil
}

// Get returns a thread by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Thread, error) {
	row := s.db.QueryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = $1`, id)
	return scanThread(row)
}

// AppendInbound records a guest message. The stay's thread is created on
// first contact and a closed thread reopens; the status change, the message
// insert and the sequence assignment commit atomically. Duplicate provider
// message IDs are rejected by the unique index and surface as already-done.
func (s *Store) AppendInbound(ctx context.Context, companyID, propertyID, stayID uuid.UUID, in messaging.InboundMessage) (Thread, messaging.Message, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Thread{}, messaging.Message{}, fmt.Errorf("thread: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	th, err := s.lockOrCreate(ctx, tx, companyID, propertyID, stayID)
	if err != nil {
		return Thread{}, messaging.Message{}, err
	}

	newStatus := th.Status
	if th.Status == StatusClosed {
		newStatus = StatusOpen
	}

	msg := messaging.Message{
		ID:            uuid.New(),
		ThreadID:      th.ID,
		CompanyID:     companyID,
		Direction:     messaging.DirectionInbound,
		Channel:       in.Channel,
		Sender:        messaging.SenderGuest,
		Body:          in.Body,
		Subject:       in.Subject,
		Status:        messaging.StatusReceived,
		ProviderMsgID: in.ProviderMsgID,
	}
	if err := insertMessage(ctx, tx, &msg); err != nil {
		return Thread{}, messaging.Message{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE threads SET status = $2, last_channel = $3, last_message_at = now(), updated_at = now()
		WHERE id = $1`, th.ID, string(newStatus), string(in.Channel)); err != nil {
		return Thread{}, messaging.Message{}, fmt.Errorf("thread: touch thread: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Thread{}, messaging.Message{}, fmt.Errorf("thread: commit: %w", err)
	}
	th.Status = newStatus
	th.LastChannel = in.Channel
	return th, msg, nil
}

// InsertOutbound commits an outbound message in status queued, assigning its
// sequence number under the thread lock. The dispatcher marks it sent or
// failed after talking to the transport.
func (s *Store) InsertOutbound(ctx context.Context, msg *messaging.Message) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("thread: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = $1 FOR UPDATE`, msg.ThreadID)
	if _, err := scanThread(row); err != nil {
		return err
	}

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.Direction = messaging.DirectionOutbound
	if msg.Status == "" {
		msg.Status = messaging.StatusQueued
	}
	if err := insertMessage(ctx, tx, msg); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE threads SET last_channel = $2, last_message_at = now(), updated_at = now()
		WHERE id = $1`, msg.ThreadID, string(msg.Channel)); err != nil {
		return fmt.Errorf("thread: touch thread: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("thread: commit: %w", err)
	}
	return nil
}

func (s *Store) lockOrCreate(ctx context.Context, tx pgx.Tx, companyID, propertyID, stayID uuid.UUID) (Thread, error) {
	row := tx.QueryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE stay_id = $1 FOR UPDATE`, stayID)
	th, err := scanThread(row)
	if err == nil {
		return th, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Thread{}, err
	}

	th = Thread{
		ID:         uuid.New(),
		CompanyID:  companyID,
		PropertyID: propertyID,
		StayID:     stayID,
		Status:     StatusOpen,
	}
	row = tx.QueryRow(ctx, `
		INSERT INTO threads (id, company_id, property_id, stay_id, status, last_message_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (stay_id) DO UPDATE SET updated_at = threads.updated_at
		RETURNING `+threadColumns, th.ID, th.CompanyID, th.PropertyID, th.StayID, string(th.Status))
	return scanThread(row)
}

func insertMessage(ctx context.Context, tx pgx.Tx, msg *messaging.Message) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO messages (id, thread_id, company_id, seq, direction, channel, sender,
		                      body, subject, status, provider_msg_id, billing_type,
		                      credits_deducted, send_after, attempts, next_attempt_at)
		VALUES ($1, $2, $3,
		        (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE thread_id = $2),
		        $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''), $12, $13, $14, $15)
		RETURNING seq, created_at`,
		msg.ID, msg.ThreadID, msg.CompanyID,
		string(msg.Direction), string(msg.Channel), string(msg.Sender),
		msg.Body, msg.Subject, string(msg.Status), msg.ProviderMsgID, msg.BillingType,
		msg.CreditsDeducted, msg.SendAfter, msg.Attempts, msg.NextAttemptAt,
	).Scan(&msg.Seq, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("thread: insert message: %w", err)
	}
	return nil
}

// EnsureThread returns the stay's thread, creating it when the first contact
// is outbound (reminders reach guests who never wrote in).
func (s *Store) EnsureThread(ctx context.Context, companyID, propertyID, stayID uuid.UUID) (Thread, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Thread{}, fmt.Errorf("thread: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	th, err := s.lockOrCreate(ctx, tx, companyID, propertyID, stayID)
	if err != nil {
		return Thread{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Thread{}, fmt.Errorf("thread: commit: %w", err)
	}
	return th, nil
}

// SetStatus applies a validated status transition to a thread.
func (s *Store) SetStatus(ctx context.Context, threadID uuid.UUID, to Status) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("thread: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = $1 FOR UPDATE`, threadID)
	th, err := scanThread(row)
	if err != nil {
		return err
	}
	if err := Transition(th.Status, to); err != nil {
		return err
	}
	if th.Status != to {
		if _, err := tx.Exec(ctx, `
			UPDATE threads SET status = $2, updated_at = now()
			WHERE id = $1`, threadID, string(to)); err != nil {
			return fmt.Errorf("thread: set status: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("thread: commit: %w", err)
	}
	return nil
}

// Escalate flags a thread for staff attention. Escalating an already
// escalated thread is a no-op; a closed thread cannot escalate.
func (s *Store) Escalate(ctx context.Context, threadID uuid.UUID) error {
	return s.SetStatus(ctx, threadID, StatusNeedsHuman)
}

// Close resolves a thread.
func (s *Store) Close(ctx context.Context, threadID uuid.UUID) error {
	return s.SetStatus(ctx, threadID, StatusClosed)
}

// Reopen returns a thread to open, the staff action that releases a
// needs_human hold or revives a closed conversation.
func (s *Store) Reopen(ctx context.Context, threadID uuid.UUID) error {
	return s.SetStatus(ctx, threadID, StatusOpen)
}

// Assign records who is working the thread. An empty assignee clears the
// assignment.
func (s *Store) Assign(ctx context.Context, threadID uuid.UUID, assignee string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE threads SET assigned_to = NULLIF($2, ''), updated_at = now()
		WHERE id = $1`, threadID, assignee)
	if err != nil {
		return fmt.Errorf("thread: assign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSent records transport accept for a message.
func (s *Store) MarkSent(ctx context.Context, msgID uuid.UUID, providerMsgID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE messages SET status = 'sent', provider_msg_id = $2, send_after = NULL,
		       next_attempt_at = NULL, updated_at = now()
		WHERE id = $1`, msgID, providerMsgID)
	if err != nil {
		return fmt.Errorf("thread: mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed records a permanent failure for a message.
func (s *Store) MarkFailed(ctx context.Context, msgID uuid.UUID, reason string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE messages SET status = 'failed', failure_reason = $2,
		       next_attempt_at = NULL, updated_at = now()
		WHERE id = $1`, msgID, reason)
	if err != nil {
		return fmt.Errorf("thread: mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCreditsDeducted stamps the billing outcome on a message exactly once.
func (s *Store) SetCreditsDeducted(ctx context.Context, msgID uuid.UUID, billingType string, credits int64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE messages SET billing_type = $2, credits_deducted = $3, updated_at = now()
		WHERE id = $1 AND credits_deducted = 0`, msgID, billingType, credits)
	if err != nil {
		return fmt.Errorf("thread: set credits deducted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Warn("credits already stamped on message", "message_id", msgID)
	}
	return nil
}

// ScheduleRetry bumps the attempt counter and sets the next attempt time
// after a transient transport failure.
func (s *Store) ScheduleRetry(ctx context.Context, msgID uuid.UUID, attempts int, nextAttemptAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE messages SET status = 'queued', attempts = $2, next_attempt_at = $3, updated_at = now()
		WHERE id = $1`, msgID, attempts, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("thread: schedule retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatusByProviderID applies a delivery receipt. Unknown provider IDs
// and repeated receipts are ignored; failed is terminal and never regresses
// to delivered.
func (s *Store) UpdateStatusByProviderID(ctx context.Context, providerMsgID string, status messaging.MessageStatus) error {
	_, err := s.db.Exec(ctx, `
		UPDATE messages SET status = $2, updated_at = now()
		WHERE provider_msg_id = $1
		  AND status NOT IN ('failed', $2)`, providerMsgID, string(status))
	if err != nil {
		return fmt.Errorf("thread: update status by provider id: %w", err)
	}
	return nil
}

const messageColumns = `id, thread_id, company_id, seq, direction, channel, sender, body,
	COALESCE(subject, ''), status, COALESCE(provider_msg_id, ''), COALESCE(billing_type, ''),
	credits_deducted, send_after, attempts, next_attempt_at, COALESCE(failure_reason, ''),
	created_at, updated_at`

func scanMessage(rows pgx.Rows) (messaging.Message, error) {
	var m messaging.Message
	var direction, channel, sender, status string
	err := rows.Scan(&m.ID, &m.ThreadID, &m.CompanyID, &m.Seq, &direction, &channel, &sender,
		&m.Body, &m.Subject, &status, &m.ProviderMsgID, &m.BillingType,
		&m.CreditsDeducted, &m.SendAfter, &m.Attempts, &m.NextAttemptAt, &m.FailureReason,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return messaging.Message{}, fmt.Errorf("thread: scan message: %w", err)
	}
	m.Direction = messaging.Direction(direction)
	m.Channel = messaging.Channel(channel)
	m.Sender = messaging.Sender(sender)
	m.Status = messaging.MessageStatus(status)
	return m, nil
}

// ListByThread returns a thread's transcript in sequence order.
func (s *Store) ListByThread(ctx context.Context, threadID uuid.UUID) ([]messaging.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE thread_id = $1
		ORDER BY seq ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("thread: list by thread: %w", err)
	}
	defer rows.Close()

	var out []messaging.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListDeferredDue returns queued messages whose quiet-hours deferral window
// has passed.
func (s *Store) ListDeferredDue(ctx context.Context, now time.Time, limit int) ([]messaging.Message, error) {
	return s.listQueued(ctx, `send_after IS NOT NULL AND send_after <= $1`, now, limit)
}

// ListRetryCandidates returns queued messages whose retry backoff has
// elapsed.
func (s *Store) ListRetryCandidates(ctx context.Context, now time.Time, limit int) ([]messaging.Message, error) {
	return s.listQueued(ctx, `next_attempt_at IS NOT NULL AND next_attempt_at <= $1`, now, limit)
}

func (s *Store) listQueued(ctx context.Context, cond string, now time.Time, limit int) ([]messaging.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE status = 'queued' AND direction = 'outbound' AND `+cond+`
		ORDER BY created_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("thread: list queued: %w", err)
	}
	defer rows.Close()

	var out []messaging.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
