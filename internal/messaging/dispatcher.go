package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stayloop/guestops/internal/observability/metrics"
	"github.com/stayloop/guestops/pkg/logging"
)

var dispatchTracer = otel.Tracer("guestops/dispatch")

// Billing types stamp outbound messages with what they cost.
const (
	BillingAIReply     = "ai_reply"
	BillingManualReply = "manual_reply"
	BillingReminder    = "reminder"
)

// MessageStore is the persistence surface the dispatcher drives. The thread
// store implements it.
type MessageStore interface {
	InsertOutbound(ctx context.Context, msg *Message) error
	MarkSent(ctx context.Context, msgID uuid.UUID, providerMsgID string) error
	MarkFailed(ctx context.Context, msgID uuid.UUID, reason string) error
	SetCreditsDeducted(ctx context.Context, msgID uuid.UUID, billingType string, credits int64) error
	ScheduleRetry(ctx context.Context, msgID uuid.UUID, attempts int, nextAttemptAt time.Time) error
}

// Biller answers credit questions for a company. The ledger implements it
// via a thin adapter.
type Biller interface {
	CanDebit(ctx context.Context, companyID uuid.UUID, amount int64) error
	Debit(ctx context.Context, companyID uuid.UUID, amount int64, billingType string, referenceID uuid.UUID) error
}

// Costs maps billing types to credit prices.
type Costs map[string]int64

// For returns the price for a billing type; unknown types cost nothing.
func (c Costs) For(billingType string) int64 { return c[billingType] }

// SendRequest describes one outbound message to dispatch.
type SendRequest struct {
	ThreadID  uuid.UUID
	CompanyID uuid.UUID
	Channel   Channel
	Sender    Sender
	To        string
	From      string
	Subject   string
	Body      string
	// BillingType selects the credit price; empty means free (system
	// notices are not billed).
	BillingType string
	// SendAfter defers the transport call past a quiet-hours window. The
	// message commits now in status queued and a worker drains it later.
	SendAfter *time.Time
}

// Dispatcher is the single path every outbound message takes: commit the row,
// check credits, call the transport, then bill. Billing runs after transport
// accept so a provider failure never costs the operator credits; the
// pre-flight check keeps an out-of-credit tenant from reaching the provider
// at all.
type Dispatcher struct {
	store      MessageStore
	biller     Biller
	transports map[Channel]Transport
	costs      Costs
	retryBase  time.Duration
	logger     *logging.Logger
}

// NewDispatcher wires the dispatcher. retryBase is the first retry delay for
// transient transport failures.
func NewDispatcher(store MessageStore, biller Biller, transports []Transport, costs Costs, retryBase time.Duration, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	byChannel := make(map[Channel]Transport, len(transports))
	for _, t := range transports {
		byChannel[t.Channel()] = t
	}
	if retryBase <= 0 {
		retryBase = 5 * time.Minute
	}
	return &Dispatcher{
		store:      store,
		biller:     biller,
		transports: byChannel,
		costs:      costs,
		retryBase:  retryBase,
		logger:     logger,
	}
}

// Send commits and dispatches one outbound message. The returned message
// reflects its committed state: sent, queued (deferred or awaiting retry) or
// failed. An error is returned alongside the message when the dispatch did
// not reach sent.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (Message, error) {
	ctx, span := dispatchTracer.Start(ctx, "dispatch.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("guestops.channel", string(req.Channel)),
		attribute.String("guestops.billing_type", req.BillingType),
	)

	transport, ok := d.transports[req.Channel]
	if !ok {
		return Message{}, fmt.Errorf("dispatch: no transport for channel %q", req.Channel)
	}

	msg := Message{
		ThreadID:    req.ThreadID,
		CompanyID:   req.CompanyID,
		Channel:     req.Channel,
		Sender:      req.Sender,
		Body:        req.Body,
		Subject:     req.Subject,
		Status:      StatusQueued,
		BillingType: req.BillingType,
		SendAfter:   req.SendAfter,
	}

	if req.SendAfter != nil {
		if err := d.store.InsertOutbound(ctx, &msg); err != nil {
			return Message{}, err
		}
		d.logger.Info("outbound message deferred",
			"message_id", msg.ID, "channel", req.Channel, "send_after", *req.SendAfter)
		metrics.OutboundMessages.WithLabelValues(string(req.Channel), "deferred").Inc()
		return msg, nil
	}

	cost := d.costs.For(req.BillingType)
	if cost > 0 {
		if err := d.biller.CanDebit(ctx, req.CompanyID, cost); err != nil {
			if insertErr := d.store.InsertOutbound(ctx, &msg); insertErr != nil {
				return Message{}, insertErr
			}
			reason := fmt.Sprintf("billing rejected: %v", err)
			if failErr := d.store.MarkFailed(ctx, msg.ID, reason); failErr != nil {
				return msg, failErr
			}
			msg.Status = StatusFailed
			msg.FailureReason = reason
			metrics.CreditDebits.WithLabelValues(req.BillingType, "rejected").Inc()
			metrics.OutboundMessages.WithLabelValues(string(req.Channel), "billing_failed").Inc()
			return msg, fmt.Errorf("dispatch: %w", err)
		}
	}

	if err := d.store.InsertOutbound(ctx, &msg); err != nil {
		return Message{}, err
	}

	return d.deliver(ctx, transport, msg, req.To, req.From, req.BillingType, cost)
}

// deliver runs the transport call and the post-accept billing for a
// committed queued message.
func (d *Dispatcher) deliver(ctx context.Context, transport Transport, msg Message, to, from, billingType string, cost int64) (Message, error) {
	providerID, err := transport.Send(ctx, OutboundMessage{
		To:      to,
		From:    from,
		Subject: msg.Subject,
		Body:    msg.Body,
	})
	if err != nil {
		if IsTransient(err) {
			nextAt := time.Now().Add(d.RetryBackoff(msg.Attempts + 1))
			if retryErr := d.store.ScheduleRetry(ctx, msg.ID, msg.Attempts+1, nextAt); retryErr != nil {
				return msg, retryErr
			}
			msg.Attempts++
			msg.NextAttemptAt = &nextAt
			d.logger.Warn("transport failed, retry scheduled",
				"message_id", msg.ID, "attempts", msg.Attempts, "error", err)
			metrics.OutboundMessages.WithLabelValues(string(msg.Channel), "retry_scheduled").Inc()
			return msg, err
		}
		if failErr := d.store.MarkFailed(ctx, msg.ID, err.Error()); failErr != nil {
			return msg, failErr
		}
		msg.Status = StatusFailed
		msg.FailureReason = err.Error()
		d.logger.Error("transport rejected message", "message_id", msg.ID, "error", err)
		metrics.OutboundMessages.WithLabelValues(string(msg.Channel), "failed").Inc()
		return msg, err
	}

	if err := d.store.MarkSent(ctx, msg.ID, providerID); err != nil {
		return msg, err
	}
	msg.Status = StatusSent
	msg.ProviderMsgID = providerID
	metrics.OutboundMessages.WithLabelValues(string(msg.Channel), "sent").Inc()

	if cost > 0 {
		if err := d.biller.Debit(ctx, msg.CompanyID, cost, billingType, msg.ID); err != nil {
			// The send already happened; a lost race against a parallel
			// debit leaves the message unbilled rather than the balance
			// negative.
			d.logger.Error("post-send debit failed",
				"message_id", msg.ID, "company_id", msg.CompanyID, "error", err)
			metrics.CreditDebits.WithLabelValues(billingType, "failed").Inc()
			return msg, nil
		}
		metrics.CreditDebits.WithLabelValues(billingType, "ok").Inc()
		if err := d.store.SetCreditsDeducted(ctx, msg.ID, billingType, cost); err != nil {
			return msg, err
		}
		msg.BillingType = billingType
		msg.CreditsDeducted = cost
	}
	return msg, nil
}

// Redeliver pushes a previously committed queued message through the
// transport: deferred sends being drained and retry candidates. Addressing
// is re-resolved by the caller since the message row does not store it.
func (d *Dispatcher) Redeliver(ctx context.Context, msg Message, to, from string) (Message, error) {
	transport, ok := d.transports[msg.Channel]
	if !ok {
		return msg, fmt.Errorf("dispatch: no transport for channel %q", msg.Channel)
	}
	billingType := msg.BillingType
	cost := int64(0)
	if msg.CreditsDeducted == 0 {
		cost = d.costs.For(billingType)
	}
	if cost > 0 {
		if err := d.biller.CanDebit(ctx, msg.CompanyID, cost); err != nil {
			reason := fmt.Sprintf("billing rejected: %v", err)
			if failErr := d.store.MarkFailed(ctx, msg.ID, reason); failErr != nil {
				return msg, failErr
			}
			msg.Status = StatusFailed
			msg.FailureReason = reason
			return msg, fmt.Errorf("dispatch: %w", err)
		}
	}
	return d.deliver(ctx, transport, msg, to, from, billingType, cost)
}

// RetryBackoff returns the delay before attempt n (1-based), doubling from
// the base and capped at one hour.
func (d *Dispatcher) RetryBackoff(attempts int) time.Duration {
	delay := d.retryBase << uint(attempts-1)
	if max := time.Hour; delay > max || delay <= 0 {
		return time.Hour
	}
	return delay
}
