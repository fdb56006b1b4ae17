// Package scheduler drives the cron and scheduled delivery classes (spec.md
// §4.6): a single min-heap of cron jobs keyed by next-fire-instant, plus one
// time.Timer per scheduled (one-shot) subscription. It implements
// subscription.SchedulerHook so the Manager can keep it in sync with
// subscription lifecycle transitions without an import cycle.
package scheduler

import (
	"container/heap"
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"eventhub/internal/model"
	"eventhub/internal/router"
	"eventhub/internal/rpcwire"
	"eventhub/internal/subscription"
)

// cronParser mirrors the subscription package's validation parser; both
// accept five-field POSIX cron plus the @hourly/@daily/@weekly/@monthly
// presets (spec.md §4.4).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ExpiryManager is the subset of *subscription.Manager the scheduler needs
// for the scheduled-delivery auto-expire-on-flush invariant.
type ExpiryManager interface {
	ExpireOne(subID string, at time.Time)
}

// Dispatcher delivers a batch notification to a client's current session.
// Batch notifications use the reliable (blocking-but-disconnect-safe) path:
// spec.md requires they not be silently dropped the way a single realtime
// push may be.
type Dispatcher interface {
	EnqueueReliable(clientID string, payload []byte) bool
}

// MetricsSink receives the scheduler's flush counters. Implemented by
// internal/metrics; attach with SetMetrics after construction since New's
// own signature is held stable for the existing test suite.
type MetricsSink interface {
	IncCronFlush()
	IncScheduledFlush()
}


type cronJob struct {
	sub      model.Subscription
	buffer   *subscription.Buffer
	schedule cron.Schedule
	loc      *time.Location
	next     time.Time
	index    int // maintained by container/heap
}

type scheduledJob struct {
	sub    model.Subscription
	buffer *subscription.Buffer
	timer  *time.Timer
}

// Scheduler owns the cron min-heap and the table of one-shot scheduled
// timers. A single background goroutine (Run) drives cron fires; scheduled
// fires are driven independently by their own time.AfterFunc timers, since
// there is at most one per subscription and it never reschedules itself.
type Scheduler struct {
	mu       sync.Mutex
	cronHeap cronHeap
	cronByID map[string]*cronJob
	oneShots map[string]*scheduledJob

	wake chan struct{}

	expiry     ExpiryManager
	dispatcher Dispatcher
	metrics    MetricsSink
	effects    model.EffectSink
	logger     *log.Logger
	now        func() time.Time
}

// SetMetrics attaches a metrics sink after construction. Nil (the default)
// disables flush counters.
func (s *Scheduler) SetMetrics(m MetricsSink) { s.metrics = m }

// SetEffects attaches the handler effect sink after construction. Nil (the
// default) disables handler invocation on flush.
func (s *Scheduler) SetEffects(e model.EffectSink) { s.effects = e }

// New builds a Scheduler. expiry and dispatcher must be non-nil in
// production; tests may supply fakes.
func New(expiry ExpiryManager, dispatcher Dispatcher, logger *log.Logger) *Scheduler {
	return &Scheduler{
		cronByID:   make(map[string]*cronJob),
		oneShots:   make(map[string]*scheduledJob),
		wake:       make(chan struct{}, 1),
		expiry:     expiry,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// Upsert installs or replaces subID's cron entry or scheduled timer
// according to its current delivery class. A realtime subscription (or one
// just transitioned away from cron/scheduled) is a no-op here, since Upsert
// always removes any prior entry first.
func (s *Scheduler) Upsert(sub model.Subscription, buf *subscription.Buffer) {
	s.Remove(sub.ID)

	switch sub.Delivery.Class() {
	case model.ClassCron:
		s.upsertCron(sub, buf)
	case model.ClassScheduled:
		s.upsertScheduled(sub, buf)
	}
}

func (s *Scheduler) upsertCron(sub model.Subscription, buf *subscription.Buffer) {
	cs := sub.Delivery.CronSchedule
	if cs == nil {
		return
	}
	loc, err := time.LoadLocation(cs.TimezoneOrDefault())
	if err != nil {
		s.logf("scheduler: invalid timezone for subscription %s, defaulting to UTC: %v", sub.ID, err)
		loc = time.UTC
	}
	schedule, err := cronParser.Parse(cs.Expression)
	if err != nil {
		s.logf("scheduler: invalid cron expression for subscription %s: %v", sub.ID, err)
		return
	}

	job := &cronJob{
		sub:      sub,
		buffer:   buf,
		schedule: schedule,
		loc:      loc,
		next:     schedule.Next(s.now().In(loc)),
	}

	s.mu.Lock()
	heap.Push(&s.cronHeap, job)
	s.cronByID[sub.ID] = job
	s.mu.Unlock()

	s.nudge()
}

func (s *Scheduler) upsertScheduled(sub model.Subscription, buf *subscription.Buffer) {
	sd := sub.Delivery.ScheduledDelivery
	if sd == nil {
		return
	}
	delay := sd.DeliverAt.Sub(s.now())
	if delay < 0 {
		// Already past deliver_at, e.g. the process restarted after the
		// original deadline: fire immediately with whatever is buffered
		// rather than drop it (spec.md §4.6, §9).
		delay = 0
	}

	job := &scheduledJob{sub: sub, buffer: buf}
	job.timer = time.AfterFunc(delay, func() { s.flushScheduled(sub.ID) })

	s.mu.Lock()
	s.oneShots[sub.ID] = job
	s.mu.Unlock()
}

// Remove tears down subID's cron heap entry or scheduled timer, if present.
// Safe to call for unknown or realtime subscription ids.
func (s *Scheduler) Remove(subID string) {
	s.mu.Lock()
	if job, ok := s.cronByID[subID]; ok {
		heap.Remove(&s.cronHeap, job.index)
		delete(s.cronByID, subID)
	}
	oneShot, hadOneShot := s.oneShots[subID]
	delete(s.oneShots, subID)
	s.mu.Unlock()

	if hadOneShot && oneShot.timer != nil {
		oneShot.timer.Stop()
	}
}

// nudge wakes the Run loop so it can reconsider its wait duration after the
// heap's earliest entry changes.
func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives cron fires until ctx is cancelled. Scheduled (one-shot) fires
// need no loop of their own; they're driven by their own timers.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(s.nextWait())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.nextWait())
		case <-timer.C:
			s.fireDue()
			timer.Reset(s.nextWait())
		}
	}
}

func (s *Scheduler) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cronHeap.Len() == 0 {
		return farFuture
	}
	d := s.cronHeap[0].next.Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}

func (s *Scheduler) fireDue() {
	now := s.now()
	for {
		s.mu.Lock()
		if s.cronHeap.Len() == 0 || s.cronHeap[0].next.After(now) {
			s.mu.Unlock()
			return
		}
		job := s.cronHeap[0]
		s.mu.Unlock()

		s.flushCron(job)

		s.mu.Lock()
		job.next = job.schedule.Next(s.now().In(job.loc))
		if job.index >= 0 && job.index < s.cronHeap.Len() && s.cronHeap[job.index] == job {
			heap.Fix(&s.cronHeap, job.index)
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) flushCron(job *cronJob) {
	events := job.buffer.SnapshotAndClear()
	if len(events) == 0 && job.sub.Delivery.CronSchedule.AggregateEventsOrDefault() {
		return
	}
	s.deliverBatch(job.sub, events)
	if s.metrics != nil {
		s.metrics.IncCronFlush()
	}
}

func (s *Scheduler) flushScheduled(subID string) {
	s.mu.Lock()
	job, ok := s.oneShots[subID]
	delete(s.oneShots, subID)
	s.mu.Unlock()
	if !ok {
		return
	}

	events := job.buffer.SnapshotAndClear()
	s.deliverBatch(job.sub, events)
	if s.metrics != nil {
		s.metrics.IncScheduledFlush()
	}

	if job.sub.Delivery.ScheduledDelivery.AutoExpireOrDefault() {
		s.expiry.ExpireOne(subID, s.now())
	}
}

func (s *Scheduler) deliverBatch(sub model.Subscription, events []model.Event) {
	payload, err := rpcwire.EncodeNotification("events/batch", router.BatchNotification{
		SubscriptionID: sub.ID,
		Events:         events,
	})
	if err != nil {
		s.logf("scheduler: failed to encode events/batch for subscription %s: %v", sub.ID, err)
		return
	}
	if !s.dispatcher.EnqueueReliable(sub.ClientID, payload) {
		s.logf("scheduler: client %s disconnected, batch for subscription %s dropped", sub.ClientID, sub.ID)
	}

	s.invokeHandler(sub, payload)
}

// invokeHandler fires the subscription's handler, if any, once per flushed
// batch (spec.md §4.5 step 4, §6), mirroring the router's once-per-realtime-
// event invocation. Fire-and-forget: errors are logged and never affect
// delivery accounting.
func (s *Scheduler) invokeHandler(sub model.Subscription, payload []byte) {
	if s.effects == nil || sub.Handler == nil {
		return
	}
	handler := *sub.Handler
	go func() {
		if err := s.effects.Invoke(handler, payload); err != nil {
			s.logf("scheduler: handler invocation failed for subscription %s: %v", sub.ID, err)
		}
	}()
}

func (s *Scheduler) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
