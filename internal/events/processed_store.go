// Package events deduplicates provider webhooks. Providers redeliver on
// timeout, so every webhook is checked against the processed_events table
// before it creates state.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the pool surface the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore tracks provider event IDs that have already been handled.
type ProcessedStore struct {
	db DB
}

// NewProcessedStore creates the store.
func NewProcessedStore(db DB) *ProcessedStore {
	return &ProcessedStore{db: db}
}

// MarkProcessed claims an event ID. It returns false when the event was
// already handled; the ON CONFLICT DO NOTHING insert makes the claim
// race-free across concurrent webhook deliveries.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, source, eventID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO processed_events (source, event_id)
		VALUES ($1, $2)
		ON CONFLICT (source, event_id) DO NOTHING`, source, eventID)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// PurgeOlderThan drops dedupe rows past their usefulness; providers stop
// redelivering after a few days.
func (s *ProcessedStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM processed_events
		WHERE processed_at < now() - $1::interval`, age.String())
	if err != nil {
		return 0, fmt.Errorf("events: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
