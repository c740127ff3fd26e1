package company

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a tenant.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusTrial     Status = "trial"
)

// Company is the billing and isolation boundary. The credit balance is a
// cached projection of the ledger; it is never written outside a ledger
// transaction.
type Company struct {
	ID                   uuid.UUID
	Name                 string
	Status               Status
	CreditBalance        int64
	AllowNegativeBalance bool
	AutoReplyEnabled     bool
	AlertBotURL          string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Billable reports whether automated or manual sends may be charged to the
// tenant. Suspended companies reject all billable actions regardless of
// balance.
func (c *Company) Billable() bool {
	return c.Status != StatusSuspended
}
