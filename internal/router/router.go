// Package router implements the Event Router: Publish(event) looks up
// matching subscriptions via the MatchIndex and fans out to realtime
// delivery or aggregation buffers (spec.md §4.5).
package router

import (
	"log"

	"eventhub/internal/model"
	"eventhub/internal/rpcwire"
	"eventhub/internal/subscription"
)

// Dispatcher delivers a payload to a client's current session. Implemented
// by *session.Manager.
type Dispatcher interface {
	EnqueueRealtime(clientID string, payload []byte) bool
	EnqueueReliable(clientID string, payload []byte) bool
}

// MetricsSink receives router-observable counters. Implemented by
// internal/metrics.
type MetricsSink interface {
	IncMatched()
	IncDroppedRealtime()
	IncBuffered()
}

// Router is the sole ingress for published events (spec.md §4.5: "Publish
// is the sole ingress").
type Router struct {
	manager    *subscription.Manager
	dispatcher Dispatcher
	metrics    MetricsSink
	effects    model.EffectSink
	logger     *log.Logger
}

// New builds a Router. metrics and effects may both be nil (disables
// counters and handler invocation respectively — useful for tests).
func New(manager *subscription.Manager, dispatcher Dispatcher, metrics MetricsSink, effects model.EffectSink, logger *log.Logger) *Router {
	return &Router{manager: manager, dispatcher: dispatcher, metrics: metrics, effects: effects, logger: logger}
}

// Publish finds every active subscription matching event and fans it out.
// It never returns an error: handler/delivery failures are logged and
// counted, never surfaced to the producer (spec.md §7).
func (r *Router) Publish(event model.Event) {
	for _, m := range r.manager.Match(event) {
		r.incMatched()
		switch m.Subscription.Delivery.Class() {
		case model.ClassRealtime:
			r.deliverRealtime(m.Subscription, event)
		default:
			r.bufferEvent(m, event)
		}
	}
}

func (r *Router) deliverRealtime(sub model.Subscription, event model.Event) {
	payload, err := rpcwire.EncodeNotification("events/event", eventNotification{
		SubscriptionID: sub.ID,
		Event:          event,
	})
	if err != nil {
		r.logf("router: failed to encode events/event for %s: %v", sub.ID, err)
		return
	}
	if !r.dispatcher.EnqueueRealtime(sub.ClientID, payload) {
		r.incDropped()
	}

	r.invokeHandler(sub, payload)
}

// invokeHandler fires the subscription's handler, if any, once per
// realtime event (spec.md §4.5 step 4). Fire-and-forget: errors are logged
// and never affect delivery accounting.
func (r *Router) invokeHandler(sub model.Subscription, payload []byte) {
	if r.effects == nil || sub.Handler == nil {
		return
	}
	handler := *sub.Handler
	go func() {
		if err := r.effects.Invoke(handler, payload); err != nil {
			r.logf("router: handler invocation failed for subscription %s: %v", sub.ID, err)
		}
	}()
}

func (r *Router) bufferEvent(m subscription.MatchedSubscription, event model.Event) {
	if m.Buffer == nil {
		return
	}
	m.Buffer.Append(event)
	r.incBuffered()
}

type eventNotification struct {
	SubscriptionID string      `json:"subscription_id"`
	Event          model.Event `json:"event"`
}

// BatchNotification is the events/batch payload shape, exported for the
// scheduler to reuse when it flushes a buffer.
type BatchNotification struct {
	SubscriptionID string        `json:"subscription_id"`
	Events         []model.Event `json:"events"`
}

func (r *Router) incMatched() {
	if r.metrics != nil {
		r.metrics.IncMatched()
	}
}

func (r *Router) incDropped() {
	if r.metrics != nil {
		r.metrics.IncDroppedRealtime()
	}
}

func (r *Router) incBuffered() {
	if r.metrics != nil {
		r.metrics.IncBuffered()
	}
}

func (r *Router) logf(format string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
