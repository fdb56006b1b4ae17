package metrics

import (
	"sync"
	"time"
)

// ClientInfo holds detailed information about one connected client, keyed by
// client_id (established at initialize) rather than a raw transport
// connection id — hub clients may reconnect and reattach to the same
// subscriptions (see internal/session's grace-period GC).
type ClientInfo struct {
	ClientID          string
	ConnectedAt       time.Time
	LastMessageAt     time.Time
	MessagesSent      uint64
	MessagesReceived  uint64
	ActiveSubscriptions int
}

// ClientTracker provides per-client connection and activity tracking for
// internal/httpapi's /stats endpoint.
type ClientTracker struct {
	mu         sync.RWMutex
	clients    map[string]*ClientInfo
	totalSeen  uint64
	peakActive int
}

// NewClientTracker creates an empty ClientTracker.
func NewClientTracker() *ClientTracker {
	return &ClientTracker{clients: make(map[string]*ClientInfo)}
}

// AddClient registers a newly initialized client.
func (ct *ClientTracker) AddClient(clientID string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.clients[clientID] = &ClientInfo{ClientID: clientID, ConnectedAt: time.Now()}
	ct.totalSeen++
	if len(ct.clients) > ct.peakActive {
		ct.peakActive = len(ct.clients)
	}
}

// RemoveClient drops tracking for a disconnected client.
func (ct *ClientTracker) RemoveClient(clientID string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	delete(ct.clients, clientID)
}

// RecordMessage updates activity stats for a tracked client; a no-op for
// clients not currently tracked (e.g. pre-initialize traffic).
func (ct *ClientTracker) RecordMessage(clientID string, sent bool) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	info, ok := ct.clients[clientID]
	if !ok {
		return
	}
	info.LastMessageAt = time.Now()
	if sent {
		info.MessagesSent++
	} else {
		info.MessagesReceived++
	}
}

// SetActiveSubscriptions records the subscription count reported for a
// client. The hub refreshes it after create and remove with the number of
// subscription ids the client's current session holds.
func (ct *ClientTracker) SetActiveSubscriptions(clientID string, count int) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if info, ok := ct.clients[clientID]; ok {
		info.ActiveSubscriptions = count
	}
}

// ActiveCount returns the number of currently tracked clients.
func (ct *ClientTracker) ActiveCount() int {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return len(ct.clients)
}

// Snapshot returns a point-in-time summary suitable for JSON serialization
// by internal/httpapi.
func (ct *ClientTracker) Snapshot() map[string]interface{} {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	now := time.Now()
	details := make([]map[string]interface{}, 0, len(ct.clients))
	var totalSent, totalReceived uint64

	for _, info := range ct.clients {
		totalSent += info.MessagesSent
		totalReceived += info.MessagesReceived
		details = append(details, map[string]interface{}{
			"client_id":            info.ClientID,
			"duration_sec":         now.Sub(info.ConnectedAt).Seconds(),
			"messages_sent":        info.MessagesSent,
			"messages_received":    info.MessagesReceived,
			"active_subscriptions": info.ActiveSubscriptions,
			"idle_sec":             now.Sub(info.LastMessageAt).Seconds(),
		})
	}

	return map[string]interface{}{
		"active":             len(ct.clients),
		"total_seen":         ct.totalSeen,
		"peak_active":        ct.peakActive,
		"messages_sent_total": totalSent,
		"messages_received_total": totalReceived,
		"clients":            details,
	}
}
