package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stayloop/guestops/pkg/logging"
)

var ledgerTracer = otel.Tracer("guestops/ledger")

// ErrInsufficientCredit indicates a debit would take the balance below zero
// for a tenant that does not allow a negative balance.
var ErrInsufficientCredit = errors.New("ledger: insufficient credit")

// ErrCompanySuspended indicates the tenant rejects all billable actions.
var ErrCompanySuspended = errors.New("ledger: company suspended")

// ErrCompanyNotFound indicates the tenant row does not exist.
var ErrCompanyNotFound = errors.New("ledger: company not found")

// TxnType identifies what a ledger entry paid for.
type TxnType string

const (
	TxnAIReply          TxnType = "ai_reply"
	TxnManualReply      TxnType = "manual_reply"
	TxnReminder         TxnType = "reminder"
	TxnPurchase         TxnType = "purchase"
	TxnRefund           TxnType = "refund"
	TxnTrialGrant       TxnType = "trial_grant"
	TxnManualAdjustment TxnType = "manual_adjustment"
)

// Transaction is an immutable ledger row. BalanceAfter snapshots the cached
// company balance at the moment the row was appended.
type Transaction struct {
	ID           uuid.UUID
	CompanyID    uuid.UUID
	Amount       int64
	Type         TxnType
	ReferenceID  uuid.UUID
	BalanceAfter int64
	CreatedAt    time.Time
}

// DB is the pool surface the ledger needs: transactions for mutations and
// plain queries for balance reads.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger serializes balance mutations per company. Every mutation locks the
// company row, appends exactly one credit_transactions row and refreshes the
// cached balance inside a single database transaction, so balance_after
// snapshots can never interleave out of order for one tenant.
type Ledger struct {
	db     DB
	logger *logging.Logger
}

// New creates a ledger over the given pool.
func New(db DB, logger *logging.Logger) *Ledger {
	if logger == nil {
		logger = logging.Default()
	}
	return &Ledger{db: db, logger: logger}
}

// Debit charges amount credits to the company for the referenced resource.
// amount must be positive. A failed debit writes no transaction row.
func (l *Ledger) Debit(ctx context.Context, companyID uuid.UUID, amount int64, txnType TxnType, referenceID uuid.UUID) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, fmt.Errorf("ledger: debit amount must be positive, got %d", amount)
	}
	ctx, span := ledgerTracer.Start(ctx, "ledger.debit")
	defer span.End()
	span.SetAttributes(
		attribute.String("guestops.company_id", companyID.String()),
		attribute.Int64("guestops.amount", amount),
		attribute.String("guestops.txn_type", string(txnType)),
	)

	txn, err := l.apply(ctx, companyID, -amount, txnType, referenceID, false)
	if err != nil {
		span.RecordError(err)
		return Transaction{}, err
	}
	l.logger.Info("credits debited",
		"company_id", companyID,
		"amount", amount,
		"type", txnType,
		"balance_after", txn.BalanceAfter,
	)
	return txn, nil
}

// Credit grants amount credits to the company (purchase, refund, trial grant
// or manual adjustment). Credits are accepted even while suspended so a
// tenant can top up its way back to good standing.
func (l *Ledger) Credit(ctx context.Context, companyID uuid.UUID, amount int64, txnType TxnType, referenceID uuid.UUID) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, fmt.Errorf("ledger: credit amount must be positive, got %d", amount)
	}
	ctx, span := ledgerTracer.Start(ctx, "ledger.credit")
	defer span.End()

	txn, err := l.apply(ctx, companyID, amount, txnType, referenceID, true)
	if err != nil {
		span.RecordError(err)
		return Transaction{}, err
	}
	l.logger.Info("credits granted",
		"company_id", companyID,
		"amount", amount,
		"type", txnType,
		"balance_after", txn.BalanceAfter,
	)
	return txn, nil
}

func (l *Ledger) apply(ctx context.Context, companyID uuid.UUID, delta int64, txnType TxnType, referenceID uuid.UUID, allowSuspended bool) (Transaction, error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var balance int64
	var allowNegative bool
	var status string
	row := tx.QueryRow(ctx, `
		SELECT credit_balance, allow_negative_balance, status
		FROM companies
		WHERE id = $1
		FOR UPDATE`, companyID)
	if err := row.Scan(&balance, &allowNegative, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrCompanyNotFound
		}
		return Transaction{}, fmt.Errorf("ledger: lock company: %w", err)
	}

	if status == "suspended" && !allowSuspended {
		return Transaction{}, ErrCompanySuspended
	}

	newBalance := balance + delta
	if delta < 0 && newBalance < 0 && !allowNegative {
		return Transaction{}, ErrInsufficientCredit
	}

	if _, err := tx.Exec(ctx, `
		UPDATE companies SET credit_balance = $2, updated_at = now()
		WHERE id = $1`, companyID, newBalance); err != nil {
		return Transaction{}, fmt.Errorf("ledger: update balance: %w", err)
	}

	txn := Transaction{
		ID:           uuid.New(),
		CompanyID:    companyID,
		Amount:       delta,
		Type:         txnType,
		ReferenceID:  referenceID,
		BalanceAfter: newBalance,
	}
	if err := tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (id, company_id, amount, type, reference_id, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		txn.ID, txn.CompanyID, txn.Amount, string(txn.Type), txn.ReferenceID, txn.BalanceAfter,
	).Scan(&txn.CreatedAt); err != nil {
		return Transaction{}, fmt.Errorf("ledger: append transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("ledger: commit: %w", err)
	}
	return txn, nil
}

// CanDebit is a non-locking pre-flight check used before a provider send is
// attempted, so an out-of-credit tenant never reaches the transport. The
// authoritative check remains the serialized Debit after transport accept.
func (l *Ledger) CanDebit(ctx context.Context, companyID uuid.UUID, amount int64) error {
	var balance int64
	var allowNegative bool
	var status string
	row := l.db.QueryRow(ctx, `
		SELECT credit_balance, allow_negative_balance, status
		FROM companies
		WHERE id = $1`, companyID)
	if err := row.Scan(&balance, &allowNegative, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCompanyNotFound
		}
		return fmt.Errorf("ledger: read balance: %w", err)
	}
	if status == "suspended" {
		return ErrCompanySuspended
	}
	if balance-amount < 0 && !allowNegative {
		return ErrInsufficientCredit
	}
	return nil
}

// Balance returns the cached O(1) balance for a company.
func (l *Ledger) Balance(ctx context.Context, companyID uuid.UUID) (int64, error) {
	var balance int64
	row := l.db.QueryRow(ctx, `SELECT credit_balance FROM companies WHERE id = $1`, companyID)
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrCompanyNotFound
		}
		return 0, fmt.Errorf("ledger: read balance: %w", err)
	}
	return balance, nil
}

// History lists the most recent ledger rows for a company, newest first.
func (l *Ledger) History(ctx context.Context, companyID uuid.UUID, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(ctx, `
		SELECT id, company_id, amount, type, reference_id, balance_after, created_at
		FROM credit_transactions
		WHERE company_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: history: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		var txnType string
		if err := rows.Scan(&t.ID, &t.CompanyID, &t.Amount, &txnType, &t.ReferenceID, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan transaction: %w", err)
		}
		t.Type = TxnType(txnType)
		out = append(out, t)
	}
	return out, rows.Err()
}
