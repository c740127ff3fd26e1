package reminder

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the pool surface the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store owns the reminder_sends marker table. A marker row per (stay, rule)
// is the send-once guarantee: the insert's ON CONFLICT DO NOTHING makes the
// claim race-free across concurrent worker ticks.
type Store struct {
	db DB
}

// NewStore creates a reminder store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Claim atomically marks (stayID, rule) as being sent. It returns false when
// another tick already claimed it.
func (s *Store) Claim(ctx context.Context, stayID uuid.UUID, rule RuleKey) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO reminder_sends (stay_id, rule_key)
		VALUES ($1, $2)
		ON CONFLICT (stay_id, rule_key) DO NOTHING`, stayID, string(rule))
	if err != nil {
		return false, fmt.Errorf("reminder: claim: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release drops a claim after a transient failure so a later tick can try
// again. Permanent failures keep their marker: the rule will not re-fire.
func (s *Store) Release(ctx context.Context, stayID uuid.UUID, rule RuleKey) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM reminder_sends
		WHERE stay_id = $1 AND rule_key = $2 AND message_id IS NULL`, stayID, string(rule))
	if err != nil {
		return fmt.Errorf("reminder: release: %w", err)
	}
	return nil
}

// AttachMessage links the dispatched message to its marker for the audit
// trail.
func (s *Store) AttachMessage(ctx context.Context, stayID uuid.UUID, rule RuleKey, messageID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE reminder_sends SET message_id = $3, sent_at = now()
		WHERE stay_id = $1 AND rule_key = $2`, stayID, string(rule), messageID)
	if err != nil {
		return fmt.Errorf("reminder: attach message: %w", err)
	}
	return nil
}
