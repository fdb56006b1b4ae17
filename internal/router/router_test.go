package router

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"eventhub/internal/model"
	"eventhub/internal/subscription"
)

type fakeDispatcher struct {
	mu        sync.Mutex
	realtime  [][]byte
	reliable  [][]byte
	rejectAll bool
}

func (f *fakeDispatcher) EnqueueRealtime(clientID string, payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectAll {
		return false
	}
	f.realtime = append(f.realtime, payload)
	return true
}

func (f *fakeDispatcher) EnqueueReliable(clientID string, payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reliable = append(f.reliable, payload)
	return true
}

type fakeMetrics struct {
	matched, dropped, buffered int
}

func (f *fakeMetrics) IncMatched()        { f.matched++ }
func (f *fakeMetrics) IncDroppedRealtime() { f.dropped++ }
func (f *fakeMetrics) IncBuffered()        { f.buffered++ }

func TestPublish_RealtimeDeliversExactlyOnce(t *testing.T) {
	mgr := subscription.NewManager(10, nil, nil)
	sub, err := mgr.Create("client-1", model.Filter{EventTypes: []string{"github.push"}},
		model.DeliveryPreferences{Channels: []model.Channel{model.ChannelRealtime}}, nil, nil)
	require.Nil(t, err)

	dispatcher := &fakeDispatcher{}
	metrics := &fakeMetrics{}
	r := New(mgr, dispatcher, metrics, nil, nil)

	r.Publish(model.Event{ID: "e1", Type: "github.push", Data: map[string]string{"repo": "a/b"}})

	require.Len(t, dispatcher.realtime, 1)
	require.Equal(t, 1, metrics.matched)

	var decoded struct {
		Method string `json:"method"`
		Params struct {
			SubscriptionID string      `json:"subscription_id"`
			Event          model.Event `json:"event"`
		} `json:"params"`
	}
	require.NoError(t, json.Unmarshal(dispatcher.realtime[0], &decoded))
	require.Equal(t, "events/event", decoded.Method)
	require.Equal(t, sub.ID, decoded.Params.SubscriptionID)
	require.Equal(t, "e1", decoded.Params.Event.ID)
}

func TestPublish_WildcardAndPriorityAnd(t *testing.T) {
	mgr := subscription.NewManager(10, nil, nil)
	_, err := mgr.Create("client-1", model.Filter{
		EventTypes: []string{"github.*"},
		Priority:   []model.Priority{model.PriorityHigh, model.PriorityCritical},
	}, model.DeliveryPreferences{Channels: []model.Channel{model.ChannelRealtime}}, nil, nil)
	require.Nil(t, err)

	dispatcher := &fakeDispatcher{}
	r := New(mgr, dispatcher, nil, nil, nil)

	r.Publish(model.Event{Type: "github.push", Metadata: model.EventMetadata{Priority: model.PriorityNormal}})
	require.Len(t, dispatcher.realtime, 0)

	r.Publish(model.Event{Type: "github.issues.opened", Metadata: model.EventMetadata{Priority: model.PriorityHigh}})
	require.Len(t, dispatcher.realtime, 1)
}

func TestPublish_DroppedRealtimeIsCounted(t *testing.T) {
	mgr := subscription.NewManager(10, nil, nil)
	_, err := mgr.Create("client-1", model.Filter{}, model.DeliveryPreferences{Channels: []model.Channel{model.ChannelRealtime}}, nil, nil)
	require.Nil(t, err)

	dispatcher := &fakeDispatcher{rejectAll: true}
	metrics := &fakeMetrics{}
	r := New(mgr, dispatcher, metrics, nil, nil)

	r.Publish(model.Event{Type: "x"})
	require.Equal(t, 1, metrics.dropped)
}

func TestPublish_CronBuffersInsteadOfDelivering(t *testing.T) {
	mgr := subscription.NewManager(10, nil, nil)
	_, err := mgr.Create("client-1", model.Filter{}, model.DeliveryPreferences{
		Channels:     []model.Channel{model.ChannelCron},
		CronSchedule: &model.CronSchedule{Expression: "@hourly", MaxEventsPerDelivery: 3},
	}, nil, nil)
	require.Nil(t, err)

	dispatcher := &fakeDispatcher{}
	metrics := &fakeMetrics{}
	r := New(mgr, dispatcher, metrics, nil, nil)

	for i := 0; i < 5; i++ {
		r.Publish(model.Event{Type: "x", ID: string(rune('a' + i))})
	}

	require.Len(t, dispatcher.realtime, 0, "cron subscriptions never receive realtime pushes")
	require.Equal(t, 5, metrics.buffered)

	matches := mgr.Match(model.Event{Type: "x"})
	require.Len(t, matches, 1)
	require.Equal(t, 3, matches[0].Buffer.Len(), "buffer bounded by max_events_per_delivery, drop-oldest")
}
