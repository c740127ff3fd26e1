package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stayloop/guestops/internal/notify"
	"github.com/stayloop/guestops/pkg/logging"
)

// alertReader lists recorded escalation alerts; the notify service
// implements it.
type alertReader interface {
	Recent(ctx context.Context, companyID uuid.UUID, limit int) ([]notify.Alert, error)
}

// Alerts serves the operator's escalation alert log.
type Alerts struct {
	alerts alertReader
	logger *logging.Logger
}

// NewAlerts wires the alert handlers.
func NewAlerts(alerts alertReader, logger *logging.Logger) *Alerts {
	if logger == nil {
		logger = logging.Default()
	}
	return &Alerts{alerts: alerts, logger: logger}
}

// Recent returns a company's latest alert attempts, newest first.
func (h *Alerts) Recent(w http.ResponseWriter, r *http.Request) {
	companyID, err := uuid.Parse(chi.URLParam(r, "companyID"))
	if err != nil {
		http.Error(w, "bad company id", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	alerts, err := h.alerts.Recent(r.Context(), companyID, limit)
	if err != nil {
		h.logger.Error("list alerts failed", "company_id", companyID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if alerts == nil {
		alerts = []notify.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}
