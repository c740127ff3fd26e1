// Package sender drains queued outbound messages: transient-failure retries
// with exponential backoff, and quiet-hours deferrals whose window has
// passed.
package sender

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stayloop/guestops/internal/messaging"
	"github.com/stayloop/guestops/internal/properties"
	"github.com/stayloop/guestops/internal/thread"
	"github.com/stayloop/guestops/pkg/logging"
)

// queueStore is the slice of the thread store the worker reads.
type queueStore interface {
	Get(ctx context.Context, id uuid.UUID) (thread.Thread, error)
	ListDeferredDue(ctx context.Context, now time.Time, limit int) ([]messaging.Message, error)
	ListRetryCandidates(ctx context.Context, now time.Time, limit int) ([]messaging.Message, error)
	MarkFailed(ctx context.Context, msgID uuid.UUID, reason string) error
}

// stayStore resolves a thread's stay back to deliverable addresses.
type stayStore interface {
	GetStay(ctx context.Context, id uuid.UUID) (properties.Stay, error)
	GetProperty(ctx context.Context, id uuid.UUID) (properties.Property, error)
}

// Worker ticks through queued messages and pushes them back through the
// dispatcher.
type Worker struct {
	store       queueStore
	stays       stayStore
	dispatcher  *messaging.Dispatcher
	interval    time.Duration
	maxAttempts int
	batchSize   int
	logger      *logging.Logger
}

// New creates the drain worker.
func New(store queueStore, stays stayStore, dispatcher *messaging.Dispatcher, interval time.Duration, maxAttempts int, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Worker{
		store:       store,
		stays:       stays,
		dispatcher:  dispatcher,
		interval:    interval,
		maxAttempts: maxAttempts,
		batchSize:   100,
		logger:      logger,
	}
}

// Run ticks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("outbound drain worker started", "interval", w.interval)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("outbound drain worker stopped")
			return
		case <-ticker.C:
			w.Tick(ctx, time.Now())
		}
	}
}

// Tick processes one batch of due messages. Exported for tests and for the
// reminder worker binary to share a schedule.
func (w *Worker) Tick(ctx context.Context, now time.Time) {
	w.drain(ctx, now, "deferred", w.store.ListDeferredDue)
	w.drain(ctx, now, "retry", w.store.ListRetryCandidates)
}

func (w *Worker) drain(ctx context.Context, now time.Time, kind string, list func(context.Context, time.Time, int) ([]messaging.Message, error)) {
	msgs, err := list(ctx, now, w.batchSize)
	if err != nil {
		w.logger.Error("list queued messages failed", "kind", kind, "error", err)
		return
	}
	for _, msg := range msgs {
		if err := w.process(ctx, msg); err != nil {
			w.logger.Error("drain message failed",
				"kind", kind, "message_id", msg.ID, "error", err)
		}
	}
}

func (w *Worker) process(ctx context.Context, msg messaging.Message) error {
	if msg.Attempts >= w.maxAttempts {
		return w.store.MarkFailed(ctx, msg.ID, fmt.Sprintf("retry attempts exhausted after %d tries", msg.Attempts))
	}

	to, from, err := w.addressing(ctx, msg)
	if err != nil {
		return w.store.MarkFailed(ctx, msg.ID, fmt.Sprintf("addressing unresolvable: %v", err))
	}

	// the dispatcher schedules the next backoff itself on a transient
	// failure; nothing more to do here
	_, err = w.dispatcher.Redeliver(ctx, msg, to, from)
	if messaging.IsTransient(err) {
		return nil
	}
	return err
}

func (w *Worker) addressing(ctx context.Context, msg messaging.Message) (to, from string, err error) {
	th, err := w.store.Get(ctx, msg.ThreadID)
	if err != nil {
		return "", "", fmt.Errorf("sender: load thread: %w", err)
	}
	stay, err := w.stays.GetStay(ctx, th.StayID)
	if err != nil {
		return "", "", fmt.Errorf("sender: load stay: %w", err)
	}
	prop, err := w.stays.GetProperty(ctx, stay.PropertyID)
	if err != nil {
		return "", "", fmt.Errorf("sender: load property: %w", err)
	}
	switch msg.Channel {
	case messaging.ChannelSMS:
		return stay.GuestPhone, prop.SMSNumber, nil
	case messaging.ChannelEmail:
		return stay.GuestEmail, prop.ReplyEmail, nil
	}
	return "", "", fmt.Errorf("sender: unknown channel %q", msg.Channel)
}
