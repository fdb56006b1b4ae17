package subscription

import (
	"context"
	"log"
	"time"
)

// Reaper periodically sweeps the Manager for subscriptions whose
// expires_at has elapsed, transitioning them to expired (spec.md §4.8).
// Interval should be <= the minimum granularity of expires_at, typically
// 1 second, per the teacher's own ticker-loop idiom
// (internal/server.collectSystemMetrics).
type Reaper struct {
	manager  *Manager
	interval time.Duration
	logger   *log.Logger
	now      func() time.Time
}

// NewReaper builds a Reaper sweeping manager every interval.
func NewReaper(manager *Manager, interval time.Duration, logger *log.Logger) *Reaper {
	return &Reaper{manager: manager, interval: interval, logger: logger, now: time.Now}
}

// Run blocks, sweeping on each tick until ctx is cancelled. A panic or error
// sweeping one subscription must never stop the reaper or affect other
// subscriptions; ExpireDue already isolates failures per-subscription by
// construction (it has none to report — expiry itself cannot fail).
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reaper) sweep() {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Printf("reaper: recovered from panic during sweep: %v", rec)
		}
	}()
	r.manager.ExpireDue(r.now())
}
