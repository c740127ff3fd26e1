package company

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound indicates the company does not exist.
var ErrNotFound = errors.New("company: not found")

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides persistence for companies.
type Store struct {
	db DB
}

// NewStore creates a company store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Create inserts a new company.
func (s *Store) Create(ctx context.Context, c *Company) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = StatusTrial
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.db.Exec(ctx, `
		INSERT INTO companies (id, name, status, credit_balance, allow_negative_balance, auto_reply_enabled, alert_bot_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)`,
		c.ID, c.Name, string(c.Status), c.CreditBalance, c.AllowNegativeBalance, c.AutoReplyEnabled, c.AlertBotURL, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("company: create: %w", err)
	}
	return nil
}

// Get fetches a company by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Company, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, status, credit_balance, allow_negative_balance, auto_reply_enabled, COALESCE(alert_bot_url, ''), created_at, updated_at
		FROM companies
		WHERE id = $1`, id)

	var c Company
	var status string
	err := row.Scan(&c.ID, &c.Name, &status, &c.CreditBalance, &c.AllowNegativeBalance, &c.AutoReplyEnabled, &c.AlertBotURL, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("company: get: %w", err)
	}
	c.Status = Status(status)
	return &c, nil
}

// SetStatus transitions the company lifecycle state.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE companies SET status = $2, updated_at = now()
		WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("company: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
