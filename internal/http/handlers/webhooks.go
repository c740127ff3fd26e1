// Package handlers implements the HTTP surface: provider webhooks and the
// staff thread API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/stayloop/guestops/internal/messaging"
	"github.com/stayloop/guestops/internal/observability/metrics"
	"github.com/stayloop/guestops/internal/pipeline"
	"github.com/stayloop/guestops/internal/properties"
	"github.com/stayloop/guestops/internal/thread"
	"github.com/stayloop/guestops/pkg/logging"
)

// dedupeStore claims provider event IDs; the processed-events store
// implements it.
type dedupeStore interface {
	MarkProcessed(ctx context.Context, source, eventID string) (bool, error)
}

// stayResolver maps inbound addresses to stays.
type stayResolver interface {
	ResolveStay(ctx context.Context, channel messaging.Channel, propertyAddress, guestAddress string) (properties.Stay, properties.Property, error)
}

// inboundStore commits inbound messages and applies delivery receipts.
type inboundStore interface {
	AppendInbound(ctx context.Context, companyID, propertyID, stayID uuid.UUID, in messaging.InboundMessage) (thread.Thread, messaging.Message, error)
	UpdateStatusByProviderID(ctx context.Context, providerMsgID string, status messaging.MessageStatus) error
}

// enqueuer hands accepted messages to the pipeline.
type enqueuer interface {
	Enqueue(ctx context.Context, job pipeline.Job) error
}

// Webhooks handles provider callbacks. Handlers return 200 even for
// messages that match no stay: a non-2xx would make the provider redeliver
// something we will never be able to route.
type Webhooks struct {
	dedupe   dedupeStore
	resolver stayResolver
	store    inboundStore
	queue    enqueuer
	logger   *logging.Logger
}

// NewWebhooks wires the webhook handlers.
func NewWebhooks(dedupe dedupeStore, resolver stayResolver, store inboundStore, queue enqueuer, logger *logging.Logger) *Webhooks {
	if logger == nil {
		logger = logging.Default()
	}
	return &Webhooks{
		dedupe:   dedupe,
		resolver: resolver,
		store:    store,
		queue:    queue,
		logger:   logger,
	}
}

// SMSInbound handles Telnyx message webhooks.
func (h *Webhooks) SMSInbound(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.WebhookDuration.WithLabelValues("sms_inbound").Observe(time.Since(start).Seconds())
	}()

	var hook messaging.TelnyxWebhook
	if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	if hook.Data.EventType != messaging.TelnyxEventReceived {
		w.WriteHeader(http.StatusOK)
		return
	}

	in, err := messaging.NormalizeSMSInbound(hook.Data.Payload)
	if err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	h.accept(w, r, "telnyx", in)
}

// SMSStatus handles Telnyx delivery receipts.
func (h *Webhooks) SMSStatus(w http.ResponseWriter, r *http.Request) {
	var hook messaging.TelnyxWebhook
	if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	if hook.Data.EventType != messaging.TelnyxEventFinalized {
		w.WriteHeader(http.StatusOK)
		return
	}
	status, ok := messaging.DeliveryStatusFromTelnyx(hook.Data.Payload)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := h.store.UpdateStatusByProviderID(r.Context(), hook.Data.Payload.ID, status); err != nil {
		h.logger.Error("apply sms receipt failed", "provider_msg_id", hook.Data.Payload.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// EmailInbound handles the inbound-parse form post.
func (h *Webhooks) EmailInbound(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.WebhookDuration.WithLabelValues("email_inbound").Observe(time.Since(start).Seconds())
	}()

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
	}
	in, err := messaging.NormalizeEmailInbound(messaging.EmailInboundForm{
		From:      r.FormValue("from"),
		To:        r.FormValue("to"),
		Subject:   r.FormValue("subject"),
		Text:      r.FormValue("text"),
		MessageID: r.FormValue("message_id"),
	})
	if err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	h.accept(w, r, "email", in)
}

type emailEvent struct {
	Event       string `json:"event"`
	SGMessageID string `json:"sg_message_id"`
}

// EmailStatus handles the SendGrid event webhook, a JSON array of events.
func (h *Webhooks) EmailStatus(w http.ResponseWriter, r *http.Request) {
	var events []emailEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	for _, ev := range events {
		var status messaging.MessageStatus
		switch ev.Event {
		case "delivered":
			status = messaging.StatusDelivered
		case "bounce", "dropped":
			status = messaging.StatusFailed
		default:
			continue
		}
		if err := h.store.UpdateStatusByProviderID(r.Context(), ev.SGMessageID, status); err != nil {
			h.logger.Error("apply email receipt failed", "provider_msg_id", ev.SGMessageID, "error", err)
		}
	}
	w.WriteHeader(http.StatusOK)
}

// accept is the shared inbound path: dedupe, resolve, commit, enqueue.
func (h *Webhooks) accept(w http.ResponseWriter, r *http.Request, source string, in messaging.InboundMessage) {
	ctx := r.Context()

	fresh, err := h.dedupe.MarkProcessed(ctx, source, in.ProviderMsgID)
	if err != nil {
		h.logger.Error("dedupe check failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !fresh {
		w.WriteHeader(http.StatusOK)
		return
	}

	stay, prop, err := h.resolver.ResolveStay(ctx, in.Channel, in.PropertyAddress, in.GuestAddress)
	if err != nil {
		if errors.Is(err, properties.ErrNotFound) {
			h.logger.Warn("inbound message matched no stay",
				"channel", in.Channel, "property_addr", in.PropertyAddress)
			w.WriteHeader(http.StatusOK)
			return
		}
		h.logger.Error("resolve stay failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	th, msg, err := h.store.AppendInbound(ctx, stay.CompanyID, prop.ID, stay.ID, in)
	if err != nil {
		h.logger.Error("append inbound failed", "stay_id", stay.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	metrics.InboundMessages.WithLabelValues(string(in.Channel)).Inc()

	if err := h.queue.Enqueue(ctx, pipeline.Job{
		ThreadID:   th.ID,
		CompanyID:  stay.CompanyID,
		PropertyID: prop.ID,
		StayID:     stay.ID,
		Channel:    string(in.Channel),
		Body:       in.Body,
		GuestAddr:  in.GuestAddress,
		PropAddr:   in.PropertyAddress,
		ReceivedAt: in.ReceivedAt,
	}); err != nil {
		// the message is committed; the thread just will not auto-reply
		h.logger.Error("enqueue job failed", "thread_id", th.ID, "message_id", msg.ID, "error", err)
	}
	w.WriteHeader(http.StatusOK)
}
