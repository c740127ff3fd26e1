package templates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stayloop/guestops/internal/messaging"
)

// ErrNotFound indicates no template exists for the channel and rule key.
var ErrNotFound = errors.New("templates: not found")

// Template is one versioned message template. The highest version for a
// (company, channel, rule_key) triple is the active one.
type Template struct {
	ID        uuid.UUID
	CompanyID uuid.UUID
	Channel   messaging.Channel
	RuleKey   string
	Version   int
	Subject   string
	Body      string
	CreatedAt time.Time
}

// DB is the query surface the store uses.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads templates. Writes go through migrations and the operator
// dashboard, not this service.
type Store struct {
	db DB
}

// NewStore creates a template store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Get returns the active template for a company, channel and rule key,
// falling back to the company-agnostic default (nil company) when the
// operator has not customized one.
func (s *Store) Get(ctx context.Context, companyID uuid.UUID, channel messaging.Channel, ruleKey string) (Template, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, COALESCE(company_id, '00000000-0000-0000-0000-000000000000'), channel, rule_key, version,
		       COALESCE(subject, ''), body, created_at
		FROM templates
		WHERE (company_id = $1 OR company_id IS NULL)
		  AND channel = $2
		  AND rule_key = $3
		ORDER BY (company_id IS NOT NULL) DESC, version DESC
		LIMIT 1`, companyID, string(channel), ruleKey)

	var t Template
	var ch string
	err := row.Scan(&t.ID, &t.CompanyID, &ch, &t.RuleKey, &t.Version, &t.Subject, &t.Body, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Template{}, ErrNotFound
	}
	if err != nil {
		return Template{}, fmt.Errorf("templates: scan template: %w", err)
	}
	t.Channel = messaging.Channel(ch)
	return t, nil
}
