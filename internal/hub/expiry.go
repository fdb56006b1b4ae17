package hub

import (
	"log"
	"time"

	"eventhub/internal/rpcwire"
	"eventhub/internal/session"
)

// ExpirySink receives the subscription-expired counter. Implemented by
// internal/metrics.
type ExpirySink interface {
	IncSubscriptionExpired()
}

// ExpiryNotifier implements subscription.ExpiryNotifier, turning an expiry
// transition into a subscription_expired notification on the owning
// session's outbound queue (spec.md §4.8). Built separately from Hub since
// the subscription.Manager must be constructed with a notifier before Hub
// itself can exist.
type ExpiryNotifier struct {
	sessions *session.Manager
	metrics  ExpirySink
	logger   *log.Logger
}

// NewExpiryNotifier builds an ExpiryNotifier. metrics may be nil to disable
// the counter.
func NewExpiryNotifier(sessions *session.Manager, metrics ExpirySink, logger *log.Logger) *ExpiryNotifier {
	return &ExpiryNotifier{sessions: sessions, metrics: metrics, logger: logger}
}

type subscriptionExpiredNotification struct {
	SubscriptionID string    `json:"subscription_id"`
	ExpiredAt      time.Time `json:"expired_at"`
}

// NotifySubscriptionExpired satisfies subscription.ExpiryNotifier.
func (n *ExpiryNotifier) NotifySubscriptionExpired(clientID, subID string, expiredAt time.Time) {
	if n.metrics != nil {
		n.metrics.IncSubscriptionExpired()
	}

	payload, err := rpcwire.EncodeNotification("notifications/subscription_expired", subscriptionExpiredNotification{
		SubscriptionID: subID,
		ExpiredAt:      expiredAt,
	})
	if err != nil {
		n.logf("hub: failed to encode subscription_expired for %s: %v", subID, err)
		return
	}
	if !n.sessions.EnqueueReliable(clientID, payload) {
		n.logf("hub: client %s disconnected, subscription_expired for %s dropped", clientID, subID)
	}
}

func (n *ExpiryNotifier) logf(format string, args ...interface{}) {
	if n.logger != nil {
		n.logger.Printf(format, args...)
	}
}
