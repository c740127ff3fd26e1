package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stayloop/guestops/internal/messaging"
	"github.com/stayloop/guestops/internal/messaging/templates"
	"github.com/stayloop/guestops/internal/observability/metrics"
	"github.com/stayloop/guestops/internal/properties"
	"github.com/stayloop/guestops/internal/thread"
	"github.com/stayloop/guestops/pkg/logging"
)

// stayLister is the slice of the property store the worker scans.
type stayLister interface {
	ListActiveStays(ctx context.Context, checkInAfter, checkInBefore int) ([]properties.ActiveStay, error)
	GetSettings(ctx context.Context, propertyID uuid.UUID) (properties.Settings, error)
}

// markerStore is the claim surface; the reminder store implements it.
type markerStore interface {
	Claim(ctx context.Context, stayID uuid.UUID, rule RuleKey) (bool, error)
	Release(ctx context.Context, stayID uuid.UUID, rule RuleKey) error
	AttachMessage(ctx context.Context, stayID uuid.UUID, rule RuleKey, messageID uuid.UUID) error
}

// templateSource resolves the message template for a rule.
type templateSource interface {
	Get(ctx context.Context, companyID uuid.UUID, channel messaging.Channel, ruleKey string) (templates.Template, error)
}

// threadSource creates or finds the stay's conversation thread.
type threadSource interface {
	EnsureThread(ctx context.Context, companyID, propertyID, stayID uuid.UUID) (thread.Thread, error)
}

// sender dispatches the reminder; the dispatcher implements it.
type sender interface {
	Send(ctx context.Context, req messaging.SendRequest) (messaging.Message, error)
}

// Worker scans upcoming stays every tick and fires due reminder rules. The
// marker claim makes ticks idempotent: overlapping workers or a crashed tick
// never double-send, and a transient transport failure releases the claim
// for the next tick.
type Worker struct {
	stays     stayLister
	markers   markerStore
	templates templateSource
	threads   threadSource
	sender    sender
	interval  time.Duration
	grace     time.Duration
	logger    *logging.Logger
	now       func() time.Time
}

// NewWorker wires the reminder worker.
func NewWorker(stays stayLister, markers markerStore, tmpls templateSource, threads threadSource, snd sender, interval, grace time.Duration, logger *logging.Logger) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	if grace <= 0 {
		grace = time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		stays:     stays,
		markers:   markers,
		templates: tmpls,
		threads:   threads,
		sender:    snd,
		interval:  interval,
		grace:     grace,
		logger:    logger,
		now:       time.Now,
	}
}

// Run ticks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("reminder worker started", "interval", w.interval, "grace", w.grace)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reminder worker stopped")
			return
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil {
				w.logger.Error("reminder tick failed", "error", err)
			}
		}
	}
}

// Tick processes one scheduling pass. Exported for tests.
func (w *Worker) Tick(ctx context.Context) error {
	// check-ins up to a day in the past still matter for day_of within
	// the grace window; four days ahead covers t_minus_3 across timezones
	stays, err := w.stays.ListActiveStays(ctx, 1, 4)
	if err != nil {
		return fmt.Errorf("reminder: list stays: %w", err)
	}

	now := w.now()
	for _, as := range stays {
		settings, err := w.stays.GetSettings(ctx, as.Property.ID)
		if err != nil {
			w.logger.Error("load settings failed", "property_id", as.Property.ID, "error", err)
			continue
		}
		// reminders are automation: a property that opted out of auto-reply
		// gets none
		if !settings.AutoReplyEnabled {
			continue
		}
		for _, rule := range DueRules(as.Stay, as.Property, settings, now, w.grace) {
			if err := w.fire(ctx, as, settings, rule); err != nil {
				w.logger.Error("reminder send failed",
					"stay_id", as.Stay.ID, "rule", rule.Key, "error", err)
			}
		}
	}
	return nil
}

func (w *Worker) fire(ctx context.Context, as properties.ActiveStay, settings properties.Settings, rule Rule) error {
	stay, prop := as.Stay, as.Property

	claimed, err := w.markers.Claim(ctx, stay.ID, rule.Key)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	channel := stay.PreferredChannel
	if !channel.Valid() || !settings.ChannelEnabled(channel) {
		channel = fallbackChannel(settings)
	}
	if channel == "" {
		// keep the marker: a stay with every channel disabled will not
		// become sendable later in the window
		return fmt.Errorf("reminder: no enabled channel for stay %s", stay.ID)
	}

	tmpl, err := w.templates.Get(ctx, stay.CompanyID, channel, string(rule.Key))
	if err != nil {
		if releaseErr := w.markers.Release(ctx, stay.ID, rule.Key); releaseErr != nil {
			w.logger.Error("release claim failed", "stay_id", stay.ID, "error", releaseErr)
		}
		return err
	}

	loc := prop.Location()
	vars := templates.StayVars(
		stay.GuestName,
		prop.Name,
		stay.CheckIn.In(loc).Format("3:04 PM on Jan 2"),
		stay.CheckOut.In(loc).Format("3:04 PM on Jan 2"),
		"",
	)
	body, err := templates.RenderStrict(tmpl.Body, vars)
	if err != nil {
		// template bug, not transient: keep the marker and surface it
		return err
	}

	th, err := w.threads.EnsureThread(ctx, stay.CompanyID, prop.ID, stay.ID)
	if err != nil {
		if releaseErr := w.markers.Release(ctx, stay.ID, rule.Key); releaseErr != nil {
			w.logger.Error("release claim failed", "stay_id", stay.ID, "error", releaseErr)
		}
		return err
	}

	to, from := addressing(channel, stay, prop)
	msg, err := w.sender.Send(ctx, messaging.SendRequest{
		ThreadID:    th.ID,
		CompanyID:   stay.CompanyID,
		Channel:     channel,
		Sender:      messaging.SenderSystem,
		To:          to,
		From:        from,
		Subject:     templates.Render(tmpl.Subject, vars),
		Body:        body,
		BillingType: messaging.BillingReminder,
	})
	if err != nil {
		if messaging.IsTransient(err) {
			if releaseErr := w.markers.Release(ctx, stay.ID, rule.Key); releaseErr != nil {
				w.logger.Error("release claim failed", "stay_id", stay.ID, "error", releaseErr)
			}
		}
		return err
	}

	metrics.RemindersSent.WithLabelValues(string(rule.Key)).Inc()
	w.logger.Info("reminder sent",
		"stay_id", stay.ID, "rule", rule.Key, "channel", channel, "message_id", msg.ID)
	return w.markers.AttachMessage(ctx, stay.ID, rule.Key, msg.ID)
}

func fallbackChannel(s properties.Settings) messaging.Channel {
	if s.SMSEnabled {
		return messaging.ChannelSMS
	}
	if s.EmailEnabled {
		return messaging.ChannelEmail
	}
	return ""
}

func addressing(ch messaging.Channel, stay properties.Stay, prop properties.Property) (to, from string) {
	if ch == messaging.ChannelEmail {
		return stay.GuestEmail, prop.ReplyEmail
	}
	return stay.GuestPhone, prop.SMSNumber
}
