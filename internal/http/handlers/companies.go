package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stayloop/guestops/internal/company"
	"github.com/stayloop/guestops/internal/ledger"
	"github.com/stayloop/guestops/pkg/logging"
)

// companyStore is the tenant admin surface.
type companyStore interface {
	Create(ctx context.Context, c *company.Company) error
	Get(ctx context.Context, id uuid.UUID) (*company.Company, error)
	SetStatus(ctx context.Context, id uuid.UUID, status company.Status) error
}

// ledgerReader exposes the credit history for the admin API.
type ledgerReader interface {
	History(ctx context.Context, companyID uuid.UUID, limit int) ([]ledger.Transaction, error)
}

// Companies serves the operator admin API: tenant lifecycle and the credit
// transaction log.
type Companies struct {
	companies companyStore
	credits   ledgerReader
	logger    *logging.Logger
}

// NewCompanies wires the company admin handlers.
func NewCompanies(companies companyStore, credits ledgerReader, logger *logging.Logger) *Companies {
	if logger == nil {
		logger = logging.Default()
	}
	return &Companies{companies: companies, credits: credits, logger: logger}
}

type createCompanyRequest struct {
	Name                 string `json:"name"`
	AutoReplyEnabled     bool   `json:"auto_reply_enabled"`
	AllowNegativeBalance bool   `json:"allow_negative_balance"`
	AlertBotURL          string `json:"alert_bot_url,omitempty"`
}

type companyResponse struct {
	ID                   uuid.UUID `json:"id"`
	Name                 string    `json:"name"`
	Status               string    `json:"status"`
	CreditBalance        int64     `json:"credit_balance"`
	AllowNegativeBalance bool      `json:"allow_negative_balance"`
	AutoReplyEnabled     bool      `json:"auto_reply_enabled"`
	AlertBotURL          string    `json:"alert_bot_url,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

func toCompanyResponse(c *company.Company) companyResponse {
	return companyResponse{
		ID:                   c.ID,
		Name:                 c.Name,
		Status:               string(c.Status),
		CreditBalance:        c.CreditBalance,
		AllowNegativeBalance: c.AllowNegativeBalance,
		AutoReplyEnabled:     c.AutoReplyEnabled,
		AlertBotURL:          c.AlertBotURL,
		CreatedAt:            c.CreatedAt,
	}
}

// Create provisions a new tenant. New companies start in trial.
func (h *Companies) Create(w http.ResponseWriter, r *http.Request) {
	var req createCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	c := &company.Company{
		Name:                 req.Name,
		AutoReplyEnabled:     req.AutoReplyEnabled,
		AllowNegativeBalance: req.AllowNegativeBalance,
		AlertBotURL:          req.AlertBotURL,
	}
	if err := h.companies.Create(r.Context(), c); err != nil {
		h.logger.Error("create company failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, toCompanyResponse(c))
}

// Get returns a tenant with its cached credit balance.
func (h *Companies) Get(w http.ResponseWriter, r *http.Request) {
	companyID, err := uuid.Parse(chi.URLParam(r, "companyID"))
	if err != nil {
		http.Error(w, "bad company id", http.StatusBadRequest)
		return
	}
	c, err := h.companies.Get(r.Context(), companyID)
	if err != nil {
		h.respondCompanyErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCompanyResponse(c))
}

type setStatusRequest struct {
	Status string `json:"status"`
}

// SetStatus moves a tenant through its lifecycle. Suspension stops all
// billable sends immediately.
func (h *Companies) SetStatus(w http.ResponseWriter, r *http.Request) {
	companyID, err := uuid.Parse(chi.URLParam(r, "companyID"))
	if err != nil {
		http.Error(w, "bad company id", http.StatusBadRequest)
		return
	}
	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	status := company.Status(req.Status)
	switch status {
	case company.StatusActive, company.StatusSuspended, company.StatusTrial:
	default:
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}
	if err := h.companies.SetStatus(r.Context(), companyID, status); err != nil {
		h.respondCompanyErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transactionResponse struct {
	ID           uuid.UUID `json:"id"`
	Amount       int64     `json:"amount"`
	Type         string    `json:"type"`
	ReferenceID  uuid.UUID `json:"reference_id,omitempty"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

// Transactions returns a company's credit ledger, newest first.
func (h *Companies) Transactions(w http.ResponseWriter, r *http.Request) {
	companyID, err := uuid.Parse(chi.URLParam(r, "companyID"))
	if err != nil {
		http.Error(w, "bad company id", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	txns, err := h.credits.History(r.Context(), companyID, limit)
	if err != nil {
		h.logger.Error("list transactions failed", "company_id", companyID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, transactionResponse{
			ID:           t.ID,
			Amount:       t.Amount,
			Type:         string(t.Type),
			ReferenceID:  t.ReferenceID,
			BalanceAfter: t.BalanceAfter,
			CreatedAt:    t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (h *Companies) respondCompanyErr(w http.ResponseWriter, err error) {
	if errors.Is(err, company.ErrNotFound) {
		http.Error(w, "company not found", http.StatusNotFound)
		return
	}
	h.logger.Error("company operation failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
