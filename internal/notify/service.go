// Package notify fans escalation events out to the operator's alert webhook
// and records the outcome for the audit log.
package notify

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stayloop/guestops/pkg/logging"
)

// Alert statuses recorded per delivery attempt.
const (
	alertDelivered = "delivered"
	alertSkipped   = "skipped"
	alertFailed    = "failed"
)

// Service posts escalation alerts to the company's configured bot webhook.
// Alerts are best-effort: a webhook outage never blocks the escalation, and
// a per-company rate limit keeps a guest messaging loop from flooding the
// operator's channel.
type Service struct {
	db          *sql.DB
	fallbackURL string
	httpClient  *http.Client
	limiter     *rateLimiter
	logger      *logging.Logger
}

// NewService creates the alert service. fallbackURL receives alerts for
// companies without their own webhook; empty disables the fallback.
// ratePerMinute bounds alerts per company; zero disables limiting.
func NewService(db *sql.DB, fallbackURL string, ratePerMinute int, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		db:          db,
		fallbackURL: fallbackURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		limiter:     newRateLimiter(ratePerMinute),
		logger:      logger,
	}
}

type alertPayload struct {
	CompanyID    uuid.UUID `json:"company_id"`
	ThreadID     uuid.UUID `json:"thread_id"`
	Reason       string    `json:"reason"`
	GuestMessage string    `json:"guest_message"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// EscalationRaised implements the gate's notifier. It looks up the
// company's webhook, posts the alert and records the attempt.
func (s *Service) EscalationRaised(ctx context.Context, companyID, threadID uuid.UUID, reason, guestMessage string) {
	var webhookURL sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT alert_bot_url FROM companies WHERE id = $1`, companyID).Scan(&webhookURL)
	if err != nil {
		s.logger.Error("load alert webhook failed", "company_id", companyID, "error", err)
		return
	}
	url := s.fallbackURL
	if webhookURL.Valid && webhookURL.String != "" {
		url = webhookURL.String
	}
	if url == "" {
		return
	}

	if !s.limiter.allow(companyID) {
		s.record(ctx, companyID, threadID, reason, alertSkipped, "rate limited")
		s.logger.Warn("escalation alert rate limited", "company_id", companyID)
		return
	}

	if err := s.post(ctx, url, alertPayload{
		CompanyID:    companyID,
		ThreadID:     threadID,
		Reason:       reason,
		GuestMessage: truncate(guestMessage, 500),
		OccurredAt:   time.Now().UTC(),
	}); err != nil {
		s.record(ctx, companyID, threadID, reason, alertFailed, err.Error())
		s.logger.Error("escalation alert delivery failed", "company_id", companyID, "error", err)
		return
	}
	s.record(ctx, companyID, threadID, reason, alertDelivered, "")
}

func (s *Service) post(ctx context.Context, url string, p alertPayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("notify: marshal alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook status %d", resp.StatusCode)
	}
	return nil
}

func (s *Service) record(ctx context.Context, companyID, threadID uuid.UUID, reason, status, errMsg string) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escalation_alerts (id, company_id, thread_id, reason, status, error_message)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))`,
		uuid.New(), companyID, threadID, reason, status, errMsg)
	if err != nil {
		s.logger.Error("record alert failed", "company_id", companyID, "error", err)
	}
}

// Alert is one recorded delivery attempt.
type Alert struct {
	ID           uuid.UUID `json:"id"`
	CompanyID    uuid.UUID `json:"company_id"`
	ThreadID     uuid.UUID `json:"thread_id"`
	Reason       string    `json:"reason"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Recent returns a company's latest alert attempts, newest first.
func (s *Service) Recent(ctx context.Context, companyID uuid.UUID, limit int) ([]Alert, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, thread_id, reason, status, COALESCE(error_message, ''), created_at
		FROM escalation_alerts
		WHERE company_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: list alerts: %w", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.CompanyID, &a.ThreadID, &a.Reason, &a.Status, &a.ErrorMessage, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("notify: scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// rateLimiter is a per-company token bucket refilled once a minute.
type rateLimiter struct {
	mu      sync.Mutex
	rate    int
	buckets map[uuid.UUID]*bucket
}

type bucket struct {
	tokens   int
	lastFill time.Time
}

func newRateLimiter(ratePerMinute int) *rateLimiter {
	return &rateLimiter{rate: ratePerMinute, buckets: make(map[uuid.UUID]*bucket)}
}

func (r *rateLimiter) allow(companyID uuid.UUID) bool {
	if r.rate <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	b, ok := r.buckets[companyID]
	if !ok {
		b = &bucket{tokens: r.rate, lastFill: now}
		r.buckets[companyID] = b
	}
	if elapsed := now.Sub(b.lastFill); elapsed >= time.Minute {
		b.tokens = r.rate
		b.lastFill = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}
