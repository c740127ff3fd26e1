package events

import (
	"context"
	"time"

	"github.com/stayloop/guestops/pkg/logging"
)

// purger is the store slice the janitor uses.
type purger interface {
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// Janitor periodically drops dedupe rows old enough that no provider will
// redeliver them.
type Janitor struct {
	store    purger
	interval time.Duration
	maxAge   time.Duration
	logger   *logging.Logger
}

// NewJanitor creates the purge loop.
func NewJanitor(store purger, interval, maxAge time.Duration, logger *logging.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Janitor{store: store, interval: interval, maxAge: maxAge, logger: logger}
}

// Run ticks until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("event janitor started", "interval", j.interval, "max_age", j.maxAge)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("event janitor stopped")
			return
		case <-ticker.C:
			j.Tick(ctx)
		}
	}
}

// Tick runs one purge. Exported for tests.
func (j *Janitor) Tick(ctx context.Context) {
	purged, err := j.store.PurgeOlderThan(ctx, j.maxAge)
	if err != nil {
		j.logger.Error("purge processed events failed", "error", err)
		return
	}
	if purged > 0 {
		j.logger.Info("purged processed events", "count", purged)
	}
}
