// Package subscription implements the authoritative subscription store, its
// derived MatchIndex, the lifecycle FSM, per-client limits, and the
// expiration reaper (spec.md §4.4, §4.8).
package subscription

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"eventhub/internal/model"
	"eventhub/internal/rpcwire"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type record struct {
	sub    model.Subscription
	buffer *Buffer
}

// Manager is the single authoritative owner of the subscription table, its
// MatchIndex, and per-client active-subscription counts. All public methods
// are atomic with respect to each other.
type Manager struct {
	mu          sync.Mutex
	subs        map[string]*record
	index       *matchIndex
	activeCount map[string]int // clientID -> active+paused count

	limit     int
	scheduler SchedulerHook
	notifier  ExpiryNotifier
	now       func() time.Time
}

// NewManager builds a Manager enforcing maxActivePerClient. A nil scheduler
// or notifier installs a no-op (useful for unit tests scoped to lifecycle
// and matching behavior alone).
func NewManager(maxActivePerClient int, scheduler SchedulerHook, notifier ExpiryNotifier) *Manager {
	if scheduler == nil {
		scheduler = noopSchedulerHook{}
	}
	if notifier == nil {
		notifier = noopExpiryNotifier{}
	}
	return &Manager{
		subs:        make(map[string]*record),
		index:       newMatchIndex(),
		activeCount: make(map[string]int),
		limit:       maxActivePerClient,
		scheduler:   scheduler,
		notifier:    notifier,
		now:         time.Now,
	}
}

// UpdateFields is a partial update: nil fields are left unchanged.
type UpdateFields struct {
	Filter    *model.Filter
	Delivery  *model.DeliveryPreferences
	Handler   *model.HandlerDescriptor
	ExpiresAt *time.Time
}

// Create validates and stores a new subscription for clientID, returning the
// full Subscription on success.
func (m *Manager) Create(clientID string, filter model.Filter, delivery model.DeliveryPreferences, handler *model.HandlerDescriptor, expiresAt *time.Time) (model.Subscription, *rpcwire.Error) {
	if err := validateDelivery(delivery, m.now()); err != nil {
		return model.Subscription{}, err
	}
	if handler != nil {
		if verr := handler.Validate(); verr != nil {
			return model.Subscription{}, rpcwire.InvalidParams(verr.Error())
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeCount[clientID] >= m.limit && m.limit > 0 {
		return model.Subscription{}, rpcwire.SubscriptionLimitReached()
	}

	now := m.now()
	sub := model.Subscription{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Filter:    filter,
		Delivery:  delivery,
		Handler:   handler,
		Status:    model.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: expiresAt,
	}

	rec := &record{sub: sub}
	if class := delivery.Class(); class != model.ClassRealtime {
		rec.buffer = newBufferForClass(class, delivery)
	}

	m.subs[sub.ID] = rec
	m.activeCount[clientID]++
	m.index.insert(sub.ID, sub.Filter.EventTypes)
	m.scheduler.Upsert(sub, rec.buffer)

	return sub.Clone(), nil
}

func newBufferForClass(class model.DeliveryClass, delivery model.DeliveryPreferences) *Buffer {
	switch class {
	case model.ClassCron:
		max := 100
		if delivery.CronSchedule != nil {
			max = delivery.CronSchedule.MaxEventsOrDefault()
		}
		return NewBuffer(max)
	case model.ClassScheduled:
		return NewBuffer(0)
	default:
		return nil
	}
}

// Remove deletes a subscription owned by clientID.
func (m *Manager) Remove(clientID, subID string) *rpcwire.Error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.lookupOwned(clientID, subID)
	if err != nil {
		return err
	}
	m.detach(rec)
	return nil
}

// List returns clones of clientID's subscriptions, optionally filtered by
// status.
func (m *Manager) List(clientID string, status *model.Status) []model.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Subscription
	for _, rec := range m.subs {
		if rec.sub.ClientID != clientID {
			continue
		}
		if status != nil && rec.sub.Status != *status {
			continue
		}
		out = append(out, rec.sub.Clone())
	}
	return out
}

// Pause transitions an active subscription to paused. Pausing an already
// paused subscription is a no-op success.
func (m *Manager) Pause(clientID, subID string) (model.Subscription, *rpcwire.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.lookupOwned(clientID, subID)
	if err != nil {
		return model.Subscription{}, err
	}
	if rec.sub.Status == model.StatusPaused {
		return rec.sub.Clone(), nil
	}
	if rec.sub.Status == model.StatusExpired {
		return model.Subscription{}, rpcwire.SubscriptionNotFound(subID)
	}

	m.index.remove(rec.sub.ID, rec.sub.Filter.EventTypes)
	m.scheduler.Remove(rec.sub.ID)
	rec.sub.Status = model.StatusPaused
	rec.sub.UpdatedAt = m.now()
	return rec.sub.Clone(), nil
}

// Resume transitions a paused subscription back to active. Resuming an
// already active subscription is a no-op success; resuming an expired one
// fails.
func (m *Manager) Resume(clientID, subID string) (model.Subscription, *rpcwire.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.lookupOwned(clientID, subID)
	if err != nil {
		return model.Subscription{}, err
	}
	if rec.sub.Status == model.StatusActive {
		return rec.sub.Clone(), nil
	}
	if rec.sub.Status == model.StatusExpired {
		return model.Subscription{}, rpcwire.InvalidParams("subscription is expired")
	}

	rec.sub.Status = model.StatusActive
	rec.sub.UpdatedAt = m.now()
	m.index.insert(rec.sub.ID, rec.sub.Filter.EventTypes)
	m.scheduler.Upsert(rec.sub, rec.buffer)
	return rec.sub.Clone(), nil
}

// Update applies a partial update to an owned subscription.
func (m *Manager) Update(clientID, subID string, updates UpdateFields) (model.Subscription, *rpcwire.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.lookupOwned(clientID, subID)
	if err != nil {
		return model.Subscription{}, err
	}
	if rec.sub.Status == model.StatusExpired {
		return model.Subscription{}, rpcwire.SubscriptionNotFound(subID)
	}

	newDelivery := rec.sub.Delivery
	if updates.Delivery != nil {
		newDelivery = *updates.Delivery
	}
	if updates.Delivery != nil || updates.Filter != nil {
		if verr := validateDelivery(newDelivery, m.now()); verr != nil {
			return model.Subscription{}, verr
		}
	}

	oldClass := rec.sub.Delivery.Class()
	wasActive := rec.sub.Status == model.StatusActive
	if wasActive {
		m.index.remove(rec.sub.ID, rec.sub.Filter.EventTypes)
	}

	if updates.Filter != nil {
		rec.sub.Filter = *updates.Filter
	}
	if updates.Delivery != nil {
		rec.sub.Delivery = *updates.Delivery
	}
	if updates.Handler != nil {
		rec.sub.Handler = updates.Handler
	}
	if updates.ExpiresAt != nil {
		rec.sub.ExpiresAt = updates.ExpiresAt
	}
	rec.sub.UpdatedAt = m.now()

	newClass := rec.sub.Delivery.Class()
	if newClass != oldClass {
		rec.buffer = newBufferForClass(newClass, rec.sub.Delivery)
	}

	if wasActive {
		m.index.insert(rec.sub.ID, rec.sub.Filter.EventTypes)
		m.scheduler.Remove(rec.sub.ID)
		m.scheduler.Upsert(rec.sub, rec.buffer)
	}

	return rec.sub.Clone(), nil
}

// Match returns every active subscription whose filter matches event, along
// with its aggregation buffer (nil for realtime). Safe to call
// concurrently with Publish from any producer goroutine; it briefly holds
// the manager lock and releases it before returning, per spec.md §5's "no
// user operation holds any lock across an outbound write".
func (m *Manager) Match(event model.Event) []MatchedSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []MatchedSubscription
	for id := range m.index.candidates(event.Type) {
		rec, ok := m.subs[id]
		if !ok || rec.sub.Status != model.StatusActive {
			continue
		}
		if !rec.sub.Filter.Matches(event) {
			continue
		}
		out = append(out, MatchedSubscription{Subscription: rec.sub.Clone(), Buffer: rec.buffer})
	}
	return out
}

// MatchedSubscription is a Match result: a point-in-time snapshot of the
// subscription plus a reference to its live aggregation buffer.
type MatchedSubscription struct {
	Subscription model.Subscription
	Buffer       *Buffer
}

// ExpireDue transitions every subscription with expires_at <= now and
// status != expired into expired, removing it from the index and scheduler
// and notifying the owning session. Used by the Reaper; the scheduler's
// auto-expire flush path uses ExpireOne instead.
func (m *Manager) ExpireDue(now time.Time) {
	m.mu.Lock()
	var due []*record
	for _, rec := range m.subs {
		if rec.sub.Status == model.StatusExpired {
			continue
		}
		if rec.sub.ExpiresAt != nil && !rec.sub.ExpiresAt.After(now) {
			due = append(due, rec)
		}
	}
	for _, rec := range due {
		m.expireLocked(rec, now)
	}
	m.mu.Unlock()

	for _, rec := range due {
		m.notifier.NotifySubscriptionExpired(rec.sub.ClientID, rec.sub.ID, now)
	}
}

// ExpireOne transitions a single subscription to expired, used by the
// scheduler's auto-expire-on-flush path (spec.md §4.6). It is a no-op if
// the subscription is already expired or gone.
func (m *Manager) ExpireOne(subID string, at time.Time) {
	m.mu.Lock()
	rec, ok := m.subs[subID]
	if !ok || rec.sub.Status == model.StatusExpired {
		m.mu.Unlock()
		return
	}
	m.expireLocked(rec, at)
	m.mu.Unlock()

	m.notifier.NotifySubscriptionExpired(rec.sub.ClientID, rec.sub.ID, at)
}

func (m *Manager) expireLocked(rec *record, at time.Time) {
	if rec.sub.Status == model.StatusActive {
		m.index.remove(rec.sub.ID, rec.sub.Filter.EventTypes)
	}
	if rec.sub.Status != model.StatusExpired {
		m.activeCount[rec.sub.ClientID]--
	}
	m.scheduler.Remove(rec.sub.ID)
	rec.sub.Status = model.StatusExpired
	rec.sub.UpdatedAt = at
}

// detach removes a subscription entirely (explicit Remove), regardless of
// its current status.
func (m *Manager) detach(rec *record) {
	if rec.sub.Status == model.StatusActive {
		m.index.remove(rec.sub.ID, rec.sub.Filter.EventTypes)
	}
	if rec.sub.Status != model.StatusExpired {
		m.activeCount[rec.sub.ClientID]--
	}
	m.scheduler.Remove(rec.sub.ID)
	delete(m.subs, rec.sub.ID)
}

// RemoveAllForClient tears down every subscription owned by clientID. Used
// by the session layer's reconnect-grace-period garbage collection (spec.md
// §9 open question: subscriptions are retained for a bounded grace period
// after disconnect, then dropped if the client never reconnects).
func (m *Manager) RemoveAllForClient(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.subs {
		if rec.sub.ClientID == clientID {
			m.detach(rec)
		}
	}
}

func (m *Manager) lookupOwned(clientID, subID string) (*record, *rpcwire.Error) {
	rec, ok := m.subs[subID]
	if !ok || rec.sub.ClientID != clientID {
		return nil, rpcwire.SubscriptionNotFound(subID)
	}
	return rec, nil
}

func validateDelivery(d model.DeliveryPreferences, now time.Time) *rpcwire.Error {
	if len(d.Channels) == 0 {
		return rpcwire.InvalidParams("delivery.channels must not be empty")
	}
	switch d.Class() {
	case model.ClassCron:
		if d.CronSchedule == nil {
			return rpcwire.InvalidParams("cron channel requires cron_schedule")
		}
		if _, err := cronParser.Parse(d.CronSchedule.Expression); err != nil {
			return rpcwire.InvalidParams("invalid cron expression: " + err.Error())
		}
		if _, err := time.LoadLocation(d.CronSchedule.TimezoneOrDefault()); err != nil {
			return rpcwire.InvalidParams("invalid cron timezone: " + err.Error())
		}
	case model.ClassScheduled:
		if d.ScheduledDelivery == nil {
			return rpcwire.InvalidParams("scheduled channel requires scheduled_delivery")
		}
		if _, err := time.LoadLocation(deliveryTimezone(d.ScheduledDelivery.Timezone)); err != nil {
			return rpcwire.InvalidParams("invalid scheduled timezone: " + err.Error())
		}
		if !d.ScheduledDelivery.DeliverAt.After(now) {
			return rpcwire.InvalidParams("deliver_at must be strictly in the future")
		}
	}
	return nil
}

func deliveryTimezone(tz string) string {
	if tz == "" {
		return "UTC"
	}
	return tz
}
