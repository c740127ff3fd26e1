package suggest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/stayloop/guestops/internal/messaging"
	"github.com/stayloop/guestops/internal/messaging/compliance"
	"github.com/stayloop/guestops/internal/observability/metrics"
	"github.com/stayloop/guestops/pkg/logging"
)

// Action is what the gate decided to do with an inbound message.
type Action string

const (
	// ActionSent means an automated reply was dispatched.
	ActionSent Action = "sent"
	// ActionDeferred means the reply committed but waits out quiet hours.
	ActionDeferred Action = "deferred"
	// ActionEscalated means the thread was flagged for staff.
	ActionEscalated Action = "escalated"
	// ActionSuppressed means auto-reply is switched off; nothing happened.
	ActionSuppressed Action = "suppressed"
)

// Escalation reasons, used in alerts and metrics.
const (
	ReasonNoSuggestion  = "no_suggestion"
	ReasonNeedsHuman    = "needs_human"
	ReasonIntent        = "escalation_intent"
	ReasonLowConfidence = "low_confidence"
	ReasonNotAutoReply  = "not_auto_reply"
)

// Sender dispatches outbound messages; the dispatcher implements it.
type Sender interface {
	Send(ctx context.Context, req messaging.SendRequest) (messaging.Message, error)
}

// Escalator flags threads for staff; the thread store implements it.
type Escalator interface {
	Escalate(ctx context.Context, threadID uuid.UUID) error
}

// Notifier fans escalations out to the operator; the alert service
// implements it. Notification failures never block the escalation itself.
type Notifier interface {
	EscalationRaised(ctx context.Context, companyID, threadID uuid.UUID, reason, guestMessage string)
}

// Policy is the per-evaluation rule configuration, resolved from company and
// property settings before the gate runs.
type Policy struct {
	AutoReplyEnabled    bool
	ConfidenceThreshold float64
	EscalationIntents   []string
	QuietHours          compliance.Window
	Location            *time.Location
}

func (p Policy) escalationIntent(intent string) bool {
	for _, i := range p.EscalationIntents {
		if i == intent {
			return true
		}
	}
	return false
}

// Input is one inbound message plus everything the rules need to judge it.
type Input struct {
	ThreadID   uuid.UUID
	CompanyID  uuid.UUID
	GuestBody  string
	To         string
	From       string
	Policy     Policy
	Suggestion *Suggestion
}

// Result reports what the gate did.
type Result struct {
	Action  Action
	Reason  string
	Message messaging.Message
}

// Gate applies the auto-reply rules to a suggestion, in a fixed order:
// unusable suggestion, needs-human flag, escalation intents, confidence,
// auto-reply opt-out, then quiet hours. Whatever survives is sent as an AI
// reply and billed as one. Confidence exactly at the threshold passes.
type Gate struct {
	sender   Sender
	threads  Escalator
	notifier Notifier
	now      func() time.Time
	logger   *logging.Logger
}

// NewGate wires the gate. notifier may be nil.
func NewGate(sender Sender, threads Escalator, notifier Notifier, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Default()
	}
	return &Gate{
		sender:   sender,
		threads:  threads,
		notifier: notifier,
		now:      time.Now,
		logger:   logger,
	}
}

// Evaluate runs the rules for one inbound message.
func (g *Gate) Evaluate(ctx context.Context, in Input) (Result, error) {
	if !in.Policy.AutoReplyEnabled {
		g.logger.Debug("auto-reply disabled, suppressing", "thread_id", in.ThreadID)
		return Result{Action: ActionSuppressed}, nil
	}

	if reason := g.escalationReason(in); reason != "" {
		return g.escalate(ctx, in, reason)
	}
	s := in.Suggestion

	loc := in.Policy.Location
	if loc == nil {
		loc = time.UTC
	}
	now := g.now()
	var sendAfter *time.Time
	if in.Policy.QuietHours.Contains(now, loc) {
		end := in.Policy.QuietHours.NextEnd(now, loc)
		sendAfter = &end
	}

	msg, err := g.sender.Send(ctx, messaging.SendRequest{
		ThreadID:    in.ThreadID,
		CompanyID:   in.CompanyID,
		Channel:     s.ReplyChannel,
		Sender:      messaging.SenderAI,
		To:          in.To,
		From:        in.From,
		Subject:     s.ReplySubject,
		Body:        s.ReplyText,
		BillingType: messaging.BillingAIReply,
		SendAfter:   sendAfter,
	})
	if err != nil {
		return Result{Message: msg}, err
	}
	if sendAfter != nil {
		g.logger.Info("auto-reply deferred for quiet hours",
			"thread_id", in.ThreadID, "send_after", *sendAfter)
		return Result{Action: ActionDeferred, Message: msg}, nil
	}
	return Result{Action: ActionSent, Message: msg}, nil
}

func (g *Gate) escalationReason(in Input) string {
	s := in.Suggestion
	switch {
	case s == nil:
		return ReasonNoSuggestion
	case s.NeedsHuman:
		return ReasonNeedsHuman
	case in.Policy.escalationIntent(s.Intent):
		return ReasonIntent
	case s.Confidence < in.Policy.ConfidenceThreshold:
		return ReasonLowConfidence
	case !s.AutoReplyOK:
		return ReasonNotAutoReply
	}
	return ""
}

func (g *Gate) escalate(ctx context.Context, in Input, reason string) (Result, error) {
	err := g.threads.Escalate(ctx, in.ThreadID)
	if err != nil && !errors.Is(err, context.Canceled) {
		return Result{Action: ActionEscalated, Reason: reason}, err
	}
	metrics.Escalations.WithLabelValues(reason).Inc()
	g.logger.Info("thread escalated", "thread_id", in.ThreadID, "reason", reason)
	if g.notifier != nil {
		g.notifier.EscalationRaised(ctx, in.CompanyID, in.ThreadID, reason, in.GuestBody)
	}
	return Result{Action: ActionEscalated, Reason: reason}, nil
}
