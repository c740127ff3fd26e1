package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stayloop/guestops/internal/messaging"
	"github.com/stayloop/guestops/internal/properties"
	"github.com/stayloop/guestops/internal/thread"
	"github.com/stayloop/guestops/pkg/logging"
)

// threadStore is the thread surface the staff API uses.
type threadStore interface {
	Get(ctx context.Context, id uuid.UUID) (thread.Thread, error)
	Reopen(ctx context.Context, threadID uuid.UUID) error
	Close(ctx context.Context, threadID uuid.UUID) error
	Assign(ctx context.Context, threadID uuid.UUID, assignee string) error
	ListByThread(ctx context.Context, threadID uuid.UUID) ([]messaging.Message, error)
}

// stayStore resolves addressing for staff replies.
type stayStore interface {
	GetStay(ctx context.Context, id uuid.UUID) (properties.Stay, error)
	GetProperty(ctx context.Context, id uuid.UUID) (properties.Property, error)
}

// replySender dispatches staff replies; the dispatcher implements it.
type replySender interface {
	Send(ctx context.Context, req messaging.SendRequest) (messaging.Message, error)
}

// Threads serves the staff-facing thread API. Staff replies bypass the
// suggestion gate entirely: a human already decided what to say.
type Threads struct {
	threads threadStore
	stays   stayStore
	sender  replySender
	logger  *logging.Logger
}

// NewThreads wires the thread handlers.
func NewThreads(threads threadStore, stays stayStore, sender replySender, logger *logging.Logger) *Threads {
	if logger == nil {
		logger = logging.Default()
	}
	return &Threads{threads: threads, stays: stays, sender: sender, logger: logger}
}

type replyRequest struct {
	Channel string `json:"channel,omitempty"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

type messageResponse struct {
	ID              uuid.UUID  `json:"id"`
	Seq             int64      `json:"seq"`
	Direction       string     `json:"direction"`
	Channel         string     `json:"channel"`
	Sender          string     `json:"sender"`
	Body            string     `json:"body"`
	Subject         string     `json:"subject,omitempty"`
	Status          string     `json:"status"`
	BillingType     string     `json:"billing_type,omitempty"`
	CreditsDeducted int64      `json:"credits_deducted"`
	SendAfter       *time.Time `json:"send_after,omitempty"`
	FailureReason   string     `json:"failure_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toMessageResponse(m messaging.Message) messageResponse {
	return messageResponse{
		ID:              m.ID,
		Seq:             m.Seq,
		Direction:       string(m.Direction),
		Channel:         string(m.Channel),
		Sender:          string(m.Sender),
		Body:            m.Body,
		Subject:         m.Subject,
		Status:          string(m.Status),
		BillingType:     m.BillingType,
		CreditsDeducted: m.CreditsDeducted,
		SendAfter:       m.SendAfter,
		FailureReason:   m.FailureReason,
		CreatedAt:       m.CreatedAt,
	}
}

// Reply sends a staff reply on a thread and returns it to open. The message
// commits first; if the status transition then fails, the reply stands and
// the thread keeps its old status.
func (h *Threads) Reply(w http.ResponseWriter, r *http.Request) {
	threadID, err := uuid.Parse(chi.URLParam(r, "threadID"))
	if err != nil {
		http.Error(w, "bad thread id", http.StatusBadRequest)
		return
	}
	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
		http.Error(w, "body is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	th, err := h.threads.Get(ctx, threadID)
	if err != nil {
		h.respondThreadErr(w, err)
		return
	}
	stay, err := h.stays.GetStay(ctx, th.StayID)
	if err != nil {
		h.logger.Error("load stay failed", "thread_id", threadID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	prop, err := h.stays.GetProperty(ctx, stay.PropertyID)
	if err != nil {
		h.logger.Error("load property failed", "thread_id", threadID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	channel := messaging.Channel(req.Channel)
	if !channel.Valid() {
		channel = stay.PreferredChannel
	}
	if !channel.Valid() {
		channel = messaging.ChannelSMS
	}
	to, from := addressing(channel, stay, prop)

	msg, err := h.sender.Send(ctx, messaging.SendRequest{
		ThreadID:    th.ID,
		CompanyID:   th.CompanyID,
		Channel:     channel,
		Sender:      messaging.SenderStaff,
		To:          to,
		From:        from,
		Subject:     req.Subject,
		Body:        req.Body,
		BillingType: messaging.BillingManualReply,
	})
	if err != nil {
		h.logger.Error("staff reply failed", "thread_id", threadID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":   "send failed",
			"message": toMessageResponse(msg),
		})
		return
	}

	if th.Status == thread.StatusNeedsHuman {
		if err := h.threads.Reopen(ctx, th.ID); err != nil {
			h.logger.Error("reopen after reply failed", "thread_id", threadID, "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

// Close resolves a thread.
func (h *Threads) Close(w http.ResponseWriter, r *http.Request) {
	threadID, err := uuid.Parse(chi.URLParam(r, "threadID"))
	if err != nil {
		http.Error(w, "bad thread id", http.StatusBadRequest)
		return
	}
	if err := h.threads.Close(r.Context(), threadID); err != nil {
		h.respondThreadErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignRequest struct {
	Assignee string `json:"assignee"`
}

// Assign records the staff member working a thread. An empty assignee clears
// the assignment.
func (h *Threads) Assign(w http.ResponseWriter, r *http.Request) {
	threadID, err := uuid.Parse(chi.URLParam(r, "threadID"))
	if err != nil {
		http.Error(w, "bad thread id", http.StatusBadRequest)
		return
	}
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if err := h.threads.Assign(r.Context(), threadID, req.Assignee); err != nil {
		h.respondThreadErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Messages returns a thread's transcript in sequence order.
func (h *Threads) Messages(w http.ResponseWriter, r *http.Request) {
	threadID, err := uuid.Parse(chi.URLParam(r, "threadID"))
	if err != nil {
		http.Error(w, "bad thread id", http.StatusBadRequest)
		return
	}
	msgs, err := h.threads.ListByThread(r.Context(), threadID)
	if err != nil {
		h.logger.Error("list messages failed", "thread_id", threadID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (h *Threads) respondThreadErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, thread.ErrNotFound):
		http.Error(w, "thread not found", http.StatusNotFound)
	case errors.Is(err, thread.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("thread operation failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func addressing(ch messaging.Channel, stay properties.Stay, prop properties.Property) (to, from string) {
	if ch == messaging.ChannelEmail {
		return stay.GuestEmail, prop.ReplyEmail
	}
	return stay.GuestPhone, prop.SMSNumber
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
