package subscription

import (
	"time"

	"eventhub/internal/model"
)

// SchedulerHook lets the Manager keep the Scheduler's timer/cron heap in
// sync with subscription lifecycle transitions, without the subscription
// package importing the scheduler package (the scheduler imports
// subscription for model access instead, avoiding a cycle).
type SchedulerHook interface {
	// Upsert (re)installs a subscription's cron or scheduled timer. Called
	// on create, resume, and every update of an active subscription. No-op
	// for realtime subscriptions.
	Upsert(sub model.Subscription, buf *Buffer)
	// Remove tears down a subscription's timer. Called on remove, pause,
	// and any transition to expired. Safe to call for realtime
	// subscriptions (no-op).
	Remove(subID string)
}

// ExpiryNotifier is invoked by the Reaper (and by the scheduler's
// auto-expire path) when a subscription transitions to expired, so the
// owning session can be sent a subscription_expired notification.
type ExpiryNotifier interface {
	NotifySubscriptionExpired(clientID, subID string, expiredAt time.Time)
}

// noopSchedulerHook is used when the manager is constructed without a real
// scheduler (e.g. in unit tests focused purely on lifecycle/index behavior).
type noopSchedulerHook struct{}

func (noopSchedulerHook) Upsert(model.Subscription, *Buffer) {}
func (noopSchedulerHook) Remove(string)                      {}

// noopExpiryNotifier discards expiry notifications.
type noopExpiryNotifier struct{}

func (noopExpiryNotifier) NotifySubscriptionExpired(string, string, time.Time) {}
