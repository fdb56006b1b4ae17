package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeGC struct {
	removed []string
}

func (f *fakeGC) RemoveAllForClient(clientID string) {
	f.removed = append(f.removed, clientID)
}

func TestInitialize_RequiresConnect(t *testing.T) {
	m := NewManager(nil, time.Minute, 16, nil)
	_, ok := m.Initialize("conn-1", "client-a", "2025-01-01")
	require.False(t, ok)
}

func TestEnqueueRealtime_DropsWhenFull(t *testing.T) {
	m := NewManager(nil, time.Minute, 1, nil)
	m.Connect("conn-1")
	m.Initialize("conn-1", "client-a", "2025-01-01")

	require.True(t, m.EnqueueRealtime("client-a", []byte("1")))
	require.False(t, m.EnqueueRealtime("client-a", []byte("2")), "queue of size 1 is already full")
}

func TestEnqueueRealtime_FalseWhenDisconnected(t *testing.T) {
	m := NewManager(nil, time.Minute, 4, nil)
	require.False(t, m.EnqueueRealtime("nobody", []byte("x")))
}

func TestGraceGC_RemovesAfterTimeoutUnlessReconnected(t *testing.T) {
	gc := &fakeGC{}
	m := NewManager(gc, 20*time.Millisecond, 4, nil)
	m.Connect("conn-1")
	m.Initialize("conn-1", "client-a", "2025-01-01")
	m.Disconnect("conn-1")

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, []string{"client-a"}, gc.removed)
}

func TestGraceGC_CancelledByReconnect(t *testing.T) {
	gc := &fakeGC{}
	m := NewManager(gc, 20*time.Millisecond, 4, nil)
	m.Connect("conn-1")
	m.Initialize("conn-1", "client-a", "2025-01-01")
	m.Disconnect("conn-1")

	m.Connect("conn-2")
	m.Initialize("conn-2", "client-a", "2025-01-01")

	time.Sleep(60 * time.Millisecond)
	require.Empty(t, gc.removed, "reconnect before grace elapses cancels the GC")
}
