package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stayloop/guestops/internal/messaging"
	"github.com/stayloop/guestops/internal/messaging/compliance"
	"github.com/stayloop/guestops/internal/properties"
	"github.com/stayloop/guestops/internal/settings"
	"github.com/stayloop/guestops/internal/suggest"
	"github.com/stayloop/guestops/internal/tenancy"
	"github.com/stayloop/guestops/internal/thread"
	"github.com/stayloop/guestops/pkg/logging"
)

// settingsLoader resolves effective automation settings.
type settingsLoader interface {
	Load(ctx context.Context, companyID, propertyID uuid.UUID) (settings.Effective, error)
}

// suggester asks the reply-suggestion service; the suggest client
// implements it.
type suggester interface {
	Suggest(ctx context.Context, threadID, companyID, stayID uuid.UUID, channel, body string) (suggest.Suggestion, error)
}

// gate runs the auto-reply decision.
type gate interface {
	Evaluate(ctx context.Context, in suggest.Input) (suggest.Result, error)
}

// stayReader resolves reply addressing; the property store implements it.
type stayReader interface {
	GetStay(ctx context.Context, id uuid.UUID) (properties.Stay, error)
	GetProperty(ctx context.Context, id uuid.UUID) (properties.Property, error)
}

// threadReader reads the thread's live status; the thread store implements
// it.
type threadReader interface {
	Get(ctx context.Context, id uuid.UUID) (thread.Thread, error)
}

// Worker consumes inbound jobs and pushes each through suggestion and the
// gate. A pool of goroutines shares one queue; every job is independent.
type Worker struct {
	queue     Queue
	settings  settingsLoader
	suggester suggester
	gate      gate
	stays     stayReader
	threads   threadReader
	count     int
	logger    *logging.Logger
}

// NewWorker creates the pipeline worker pool.
func NewWorker(queue Queue, loader settingsLoader, sg suggester, g gate, stays stayReader, threads threadReader, count int, logger *logging.Logger) *Worker {
	if count <= 0 {
		count = 4
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		queue:     queue,
		settings:  loader,
		suggester: sg,
		gate:      g,
		stays:     stays,
		threads:   threads,
		count:     count,
		logger:    logger,
	}
}

// Run consumes until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	w.logger.Info("pipeline workers started", "count", w.count)
	for i := 0; i < w.count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
	w.logger.Info("pipeline workers stopped")
}

func (w *Worker) loop(ctx context.Context) {
	for {
		job, ack, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.logger.Error("dequeue failed", "error", err)
			continue
		}
		if err := w.Process(ctx, job); err != nil {
			w.logger.Error("process job failed", "thread_id", job.ThreadID, "error", err)
		}
		// ack regardless: the gate escalated on failure, and replaying
		// the job would re-run suggestion against the same message
		ack()
	}
}

// Process evaluates one job. Exported for tests and for synchronous use.
func (w *Worker) Process(ctx context.Context, job Job) error {
	ctx = tenancy.WithCompanyID(ctx, job.CompanyID)

	// the status is read live, not from the job: a hold placed between
	// enqueue and dequeue still suppresses automation
	th, err := w.threads.Get(ctx, job.ThreadID)
	if err != nil {
		return err
	}
	if th.Status == thread.StatusNeedsHuman {
		w.logger.Info("thread held for staff, skipping auto-reply",
			"thread_id", job.ThreadID)
		return nil
	}

	eff, err := w.settings.Load(ctx, job.CompanyID, job.PropertyID)
	if err != nil {
		return err
	}

	var sg *suggest.Suggestion
	s, err := w.suggester.Suggest(ctx, job.ThreadID, job.CompanyID, job.StayID, job.Channel, job.Body)
	if err == nil {
		sg = &s
	} else if !errors.Is(err, suggest.ErrUnavailable) {
		return err
	}

	policy, err := w.buildPolicy(ctx, eff, job, sg)
	if err != nil {
		return err
	}

	to, from := job.GuestAddr, job.PropAddr
	if sg != nil && sg.ReplyChannel != messaging.Channel(job.Channel) {
		to, from, err = w.crossChannelAddressing(ctx, job, sg.ReplyChannel)
		if err != nil {
			return err
		}
	}

	res, err := w.gate.Evaluate(ctx, suggest.Input{
		ThreadID:   job.ThreadID,
		CompanyID:  job.CompanyID,
		GuestBody:  job.Body,
		To:         to,
		From:       from,
		Policy:     policy,
		Suggestion: sg,
	})
	if err != nil {
		return err
	}
	w.logger.Info("inbound message evaluated",
		"thread_id", job.ThreadID, "action", res.Action, "reason", res.Reason)
	return nil
}

func (w *Worker) buildPolicy(ctx context.Context, eff settings.Effective, job Job, sg *suggest.Suggestion) (suggest.Policy, error) {
	window, err := compliance.Parse(eff.QuietHoursStart, eff.QuietHoursEnd)
	if err != nil {
		return suggest.Policy{}, err
	}

	loc := time.UTC
	if prop, propErr := w.stays.GetProperty(ctx, job.PropertyID); propErr == nil {
		loc = prop.Location()
	}

	autoReply := eff.AutoReplyEnabled
	if sg != nil && !eff.Property.ChannelEnabled(sg.ReplyChannel) {
		autoReply = false
	}

	return suggest.Policy{
		AutoReplyEnabled:    autoReply,
		ConfidenceThreshold: eff.ConfidenceThreshold,
		EscalationIntents:   eff.EscalationIntents,
		QuietHours:          window,
		Location:            loc,
	}, nil
}

func (w *Worker) crossChannelAddressing(ctx context.Context, job Job, ch messaging.Channel) (to, from string, err error) {
	stay, err := w.stays.GetStay(ctx, job.StayID)
	if err != nil {
		return "", "", err
	}
	prop, err := w.stays.GetProperty(ctx, job.PropertyID)
	if err != nil {
		return "", "", err
	}
	if ch == messaging.ChannelEmail {
		return stay.GuestEmail, prop.ReplyEmail, nil
	}
	return stay.GuestPhone, prop.SMSNumber, nil
}
