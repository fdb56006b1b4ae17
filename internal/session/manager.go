package session

import (
	"log"
	"sync"
	"time"
)

// SubscriptionGC is implemented by the subscription manager; invoked when a
// client's grace period elapses without a reconnect.
type SubscriptionGC interface {
	RemoveAllForClient(clientID string)
}

// Manager owns every live Session plus the client_id -> current Session
// routing table used by the Router, Scheduler, and Reaper to find a
// subscription's owning connection. It implements the reconnect policy
// decided in DESIGN.md: a disconnected client's subscriptions are retained
// for the configured grace period (GraceDefault when none is given) and
// reattached if the same client_id reconnects before
// then; otherwise a background timer removes them.
type Manager struct {
	mu        sync.Mutex
	sessions  map[string]*Session // by connection/session id
	byClient  map[string]*Session // clientID -> current session, once initialized
	pendingGC map[string]*time.Timer

	grace  time.Duration
	gc     SubscriptionGC
	logger *log.Logger

	outboundBuffer int
}

// GraceDefault is the default reconnect grace period (spec.md §9 open
// question decision: retain for reconnect, bounded).
const GraceDefault = 5 * time.Minute

// NewManager builds a session Manager. gc may be nil to disable
// grace-period cleanup (useful in tests that don't care about it).
func NewManager(gc SubscriptionGC, grace time.Duration, outboundBuffer int, logger *log.Logger) *Manager {
	if grace <= 0 {
		grace = GraceDefault
	}
	return &Manager{
		sessions:       make(map[string]*Session),
		byClient:       make(map[string]*Session),
		pendingGC:      make(map[string]*time.Timer),
		grace:          grace,
		gc:             gc,
		logger:         logger,
		outboundBuffer: outboundBuffer,
	}
}

// Connect registers a new session on transport Connected.
func (m *Manager) Connect(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := newSession(id, m.outboundBuffer)
	m.sessions[id] = s
	return s
}

// Disconnect tears down a session on transport Disconnected. If the session
// had completed initialize, its client_id's subscriptions become eligible
// for grace-period cleanup unless a reconnect supersedes it first.
func (m *Manager) Disconnect(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, id)

	clientID := s.ClientID()
	if clientID != "" && m.byClient[clientID] == s {
		delete(m.byClient, clientID)
		m.scheduleGC(clientID)
	}
	m.mu.Unlock()

	s.close()
}

// Initialize completes the handshake for session id, registering it as the
// current session for clientID and cancelling any pending grace-period
// cleanup (reconnect reattaches ownership, since subscription ownership is
// itself keyed by client_id — see internal/subscription.Manager).
func (m *Manager) Initialize(id, clientID, protocolVersion string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	s.MarkInitialized(clientID, protocolVersion)
	m.byClient[clientID] = s
	if timer, pending := m.pendingGC[clientID]; pending {
		timer.Stop()
		delete(m.pendingGC, clientID)
	}
	return s, true
}

// Get returns the session for a connection id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// ForClient returns the current session owning clientID, if connected.
func (m *Manager) ForClient(clientID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byClient[clientID]
	return s, ok
}

func (m *Manager) scheduleGC(clientID string) {
	if m.gc == nil {
		return
	}
	timer := time.AfterFunc(m.grace, func() {
		m.mu.Lock()
		_, stillPending := m.pendingGC[clientID]
		_, reconnected := m.byClient[clientID]
		delete(m.pendingGC, clientID)
		m.mu.Unlock()

		if stillPending && !reconnected {
			m.gc.RemoveAllForClient(clientID)
			if m.logger != nil {
				m.logger.Printf("session: grace period elapsed for client %s, subscriptions removed", clientID)
			}
		}
	})
	m.pendingGC[clientID] = timer
}

// EnqueueRealtime looks up clientID's current session and attempts a
// best-effort realtime enqueue; returns false if the client is
// disconnected or its queue is full.
func (m *Manager) EnqueueRealtime(clientID string, payload []byte) bool {
	s, ok := m.ForClient(clientID)
	if !ok {
		return false
	}
	return s.EnqueueRealtime(payload)
}

// EnqueueReliable looks up clientID's current session and attempts a
// blocking (but disconnect-safe) enqueue, for batch/expiry notifications
// that must not be silently dropped while the client is connected.
func (m *Manager) EnqueueReliable(clientID string, payload []byte) bool {
	s, ok := m.ForClient(clientID)
	if !ok {
		return false
	}
	return s.EnqueueReliable(payload)
}

// Count returns the number of live (connected) sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
