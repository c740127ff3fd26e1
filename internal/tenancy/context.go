package tenancy

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const companyKey ctxKey = "guestops.company_id"

// WithCompanyID stores the tenant company id in context.
func WithCompanyID(ctx context.Context, companyID uuid.UUID) context.Context {
	return context.WithValue(ctx, companyKey, companyID)
}

// CompanyIDFromContext extracts the tenant company id if present.
func CompanyIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	val := ctx.Value(companyKey)
	if val == nil {
		return uuid.Nil, false
	}
	id, ok := val.(uuid.UUID)
	return id, ok && id != uuid.Nil
}
