package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stayloop/guestops/internal/properties"
	"github.com/stayloop/guestops/pkg/logging"
)

// settingsStore reads the property (for tenant scoping) and writes its
// automation settings.
type settingsStore interface {
	GetProperty(ctx context.Context, id uuid.UUID) (properties.Property, error)
	GetSettings(ctx context.Context, propertyID uuid.UUID) (properties.Settings, error)
	UpsertSettings(ctx context.Context, st properties.Settings) error
}

// cacheInvalidator drops the cached effective settings after a write; the
// settings loader implements it.
type cacheInvalidator interface {
	Invalidate(ctx context.Context, companyID, propertyID uuid.UUID)
}

// Settings serves the per-property automation settings API.
type Settings struct {
	store  settingsStore
	cache  cacheInvalidator
	logger *logging.Logger
}

// NewSettings wires the settings handlers.
func NewSettings(store settingsStore, cache cacheInvalidator, logger *logging.Logger) *Settings {
	if logger == nil {
		logger = logging.Default()
	}
	return &Settings{store: store, cache: cache, logger: logger}
}

type settingsPayload struct {
	AutoReplyEnabled bool   `json:"auto_reply_enabled"`
	SMSEnabled       bool   `json:"sms_enabled"`
	EmailEnabled     bool   `json:"email_enabled"`
	ReminderT3Time   string `json:"reminder_t3_time"`
	ReminderT1Time   string `json:"reminder_t1_time"`
	ReminderDayOf    string `json:"reminder_day_of_time"`
}

// Get returns the property's automation settings, defaults included.
func (h *Settings) Get(w http.ResponseWriter, r *http.Request) {
	propertyID, err := uuid.Parse(chi.URLParam(r, "propertyID"))
	if err != nil {
		http.Error(w, "bad property id", http.StatusBadRequest)
		return
	}
	st, err := h.store.GetSettings(r.Context(), propertyID)
	if err != nil {
		h.logger.Error("load settings failed", "property_id", propertyID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, settingsPayload{
		AutoReplyEnabled: st.AutoReplyEnabled,
		SMSEnabled:       st.SMSEnabled,
		EmailEnabled:     st.EmailEnabled,
		ReminderT3Time:   st.ReminderT3Time,
		ReminderT1Time:   st.ReminderT1Time,
		ReminderDayOf:    st.ReminderDayOf,
	})
}

// Update writes the settings row and invalidates the cached effective
// settings so the next webhook sees the change.
func (h *Settings) Update(w http.ResponseWriter, r *http.Request) {
	propertyID, err := uuid.Parse(chi.URLParam(r, "propertyID"))
	if err != nil {
		http.Error(w, "bad property id", http.StatusBadRequest)
		return
	}
	var req settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	prop, err := h.store.GetProperty(ctx, propertyID)
	if err != nil {
		if errors.Is(err, properties.ErrNotFound) {
			http.Error(w, "property not found", http.StatusNotFound)
			return
		}
		h.logger.Error("load property failed", "property_id", propertyID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	st := properties.Settings{
		PropertyID:       propertyID,
		AutoReplyEnabled: req.AutoReplyEnabled,
		SMSEnabled:       req.SMSEnabled,
		EmailEnabled:     req.EmailEnabled,
		ReminderT3Time:   req.ReminderT3Time,
		ReminderT1Time:   req.ReminderT1Time,
		ReminderDayOf:    req.ReminderDayOf,
	}
	if err := h.store.UpsertSettings(ctx, st); err != nil {
		h.logger.Error("upsert settings failed", "property_id", propertyID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if h.cache != nil {
		h.cache.Invalidate(ctx, prop.CompanyID, propertyID)
	}
	w.WriteHeader(http.StatusNoContent)
}
