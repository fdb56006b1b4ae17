// Package session tracks per-connection state (spec.md §4.3): whether
// initialize has completed, the client's identity, and the set of
// subscriptions it owns, plus the per-connection outbound FIFO queue that
// decouples the Router/Scheduler from the Transport's write path (spec.md
// §5, §9 "Concurrency core").
package session

import (
	"sync"
	"time"
)

// Session is per-connection state, owned by exactly one transport
// connection. Initialization is a strict precondition for every
// non-initialize operation (spec.md §4.3).
type Session struct {
	ID          string
	ConnectedAt time.Time

	mu              sync.Mutex
	initialized     bool
	clientID        string
	protocolVersion string
	subscriptionIDs map[string]struct{}

	outbound chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(id string, outboundBuffer int) *Session {
	return &Session{
		ID:              id,
		ConnectedAt:     time.Now(),
		subscriptionIDs: make(map[string]struct{}),
		outbound:        make(chan []byte, outboundBuffer),
		closed:          make(chan struct{}),
	}
}

// Outbound exposes the read side of the FIFO queue for the transport's
// single writer goroutine to drain (spec.md §4.2 ordering guarantee).
func (s *Session) Outbound() <-chan []byte { return s.outbound }

// close marks the session as gone and unblocks any in-flight reliable
// enqueue attempts. Idempotent.
func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Initialized reports whether initialize has completed successfully.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// MarkInitialized records a successful initialize handshake.
func (s *Session) MarkInitialized(clientID, protocolVersion string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	s.clientID = clientID
	s.protocolVersion = protocolVersion
}

// ClientID returns the identity established at initialize, or "" before
// that.
func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// ProtocolVersion returns the negotiated protocol version.
func (s *Session) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

// AddSubscription records ownership of a subscription id.
func (s *Session) AddSubscription(subID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptionIDs[subID] = struct{}{}
}

// RemoveSubscription drops ownership tracking for a subscription id.
func (s *Session) RemoveSubscription(subID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptionIDs, subID)
}

// SubscriptionIDs returns a snapshot of owned subscription ids.
func (s *Session) SubscriptionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subscriptionIDs))
	for id := range s.subscriptionIDs {
		out = append(out, id)
	}
	return out
}

// EnqueueRealtime is the best-effort realtime delivery path: on a full
// queue it drops and reports false rather than blocking (spec.md §4.2
// backpressure policy).
func (s *Session) EnqueueRealtime(payload []byte) bool {
	select {
	case s.outbound <- payload:
		return true
	default:
		return false
	}
}

// EnqueueReliable is the aggregating-delivery path: it blocks (briefly, per
// spec.md §5) rather than dropping, since batch notifications must be
// preserved, but gives up if the session has since disconnected.
func (s *Session) EnqueueReliable(payload []byte) bool {
	select {
	case s.outbound <- payload:
		return true
	case <-s.closed:
		return false
	}
}
