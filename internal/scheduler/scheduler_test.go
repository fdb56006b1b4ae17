package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"eventhub/internal/model"
	"eventhub/internal/subscription"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	batches  [][]byte
	clientID string
}

func (f *fakeDispatcher) EnqueueReliable(clientID string, payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clientID = clientID
	f.batches = append(f.batches, payload)
	return true
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeExpiry struct {
	mu       sync.Mutex
	expired  []string
}

func (f *fakeExpiry) ExpireOne(subID string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, subID)
}

type fakeEffects struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeEffects) Invoke(handler model.HandlerDescriptor, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakeEffects) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCronFlush_DeliversBufferedEvents(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	s := New(&fakeExpiry{}, dispatcher, nil)

	aggregate := true
	buf := subscription.NewBuffer(10)
	buf.Append(model.Event{ID: "e1", Type: "x"})
	buf.Append(model.Event{ID: "e2", Type: "x"})

	sub := model.Subscription{
		ID:       "sub-1",
		ClientID: "client-1",
		Delivery: model.DeliveryPreferences{
			Channels: []model.Channel{model.ChannelCron},
			CronSchedule: &model.CronSchedule{
				Expression:      "@every_second_placeholder", // overwritten below
				AggregateEvents: &aggregate,
			},
		},
	}
	// Use a real supported expression, and drive the flush directly instead
	// of waiting on Run's ticking for this test.
	sub.Delivery.CronSchedule.Expression = "@hourly"

	s.Upsert(sub, buf)
	job := s.cronByID["sub-1"]
	require.NotNil(t, job)

	s.flushCron(job)

	require.Equal(t, 1, dispatcher.count())
	require.Equal(t, "client-1", dispatcher.clientID)

	var decoded struct {
		Method string `json:"method"`
		Params struct {
			Events []model.Event `json:"events"`
		} `json:"params"`
	}
	require.NoError(t, json.Unmarshal(dispatcher.batches[0], &decoded))
	require.Equal(t, "events/batch", decoded.Method)
	require.Len(t, decoded.Params.Events, 2)
}

func TestCronFlush_SuppressesEmptyBatchWhenAggregating(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	s := New(&fakeExpiry{}, dispatcher, nil)

	aggregate := true
	buf := subscription.NewBuffer(10)
	sub := model.Subscription{
		ID:       "sub-1",
		ClientID: "client-1",
		Delivery: model.DeliveryPreferences{
			Channels: []model.Channel{model.ChannelCron},
			CronSchedule: &model.CronSchedule{
				Expression:      "@hourly",
				AggregateEvents: &aggregate,
			},
		},
	}
	s.Upsert(sub, buf)
	s.flushCron(s.cronByID["sub-1"])
	require.Equal(t, 0, dispatcher.count())
}

func TestCronFlush_EmitsEmptyBatchWhenNotAggregating(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	s := New(&fakeExpiry{}, dispatcher, nil)

	aggregate := false
	buf := subscription.NewBuffer(10)
	sub := model.Subscription{
		ID:       "sub-1",
		ClientID: "client-1",
		Delivery: model.DeliveryPreferences{
			Channels: []model.Channel{model.ChannelCron},
			CronSchedule: &model.CronSchedule{
				Expression:      "@hourly",
				AggregateEvents: &aggregate,
			},
		},
	}
	s.Upsert(sub, buf)
	s.flushCron(s.cronByID["sub-1"])
	require.Equal(t, 1, dispatcher.count())
}

func TestScheduledFlush_FiresAndAutoExpires(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	expiry := &fakeExpiry{}
	s := New(expiry, dispatcher, nil)

	buf := subscription.NewBuffer(0)
	buf.Append(model.Event{ID: "e1", Type: "x"})

	sub := model.Subscription{
		ID:       "sub-sched",
		ClientID: "client-1",
		Delivery: model.DeliveryPreferences{
			Channels: []model.Channel{model.ChannelScheduled},
			ScheduledDelivery: &model.ScheduledDelivery{
				DeliverAt: time.Now().Add(10 * time.Millisecond),
			},
		},
	}
	s.Upsert(sub, buf)

	require.Eventually(t, func() bool { return dispatcher.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		expiry.mu.Lock()
		defer expiry.mu.Unlock()
		return len(expiry.expired) == 1 && expiry.expired[0] == "sub-sched"
	}, time.Second, 5*time.Millisecond)
}

func TestScheduledFlush_FiresImmediatelyWhenAlreadyPast(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	s := New(&fakeExpiry{}, dispatcher, nil)

	buf := subscription.NewBuffer(0)
	sub := model.Subscription{
		ID:       "sub-late",
		ClientID: "client-1",
		Delivery: model.DeliveryPreferences{
			Channels: []model.Channel{model.ChannelScheduled},
			ScheduledDelivery: &model.ScheduledDelivery{
				DeliverAt: time.Now().Add(-time.Hour),
			},
		},
	}
	s.Upsert(sub, buf)
	require.Eventually(t, func() bool { return dispatcher.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRemove_StopsScheduledTimer(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	s := New(&fakeExpiry{}, dispatcher, nil)

	buf := subscription.NewBuffer(0)
	sub := model.Subscription{
		ID:       "sub-cancel",
		ClientID: "client-1",
		Delivery: model.DeliveryPreferences{
			Channels: []model.Channel{model.ChannelScheduled},
			ScheduledDelivery: &model.ScheduledDelivery{
				DeliverAt: time.Now().Add(30 * time.Millisecond),
			},
		},
	}
	s.Upsert(sub, buf)
	s.Remove("sub-cancel")

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, 0, dispatcher.count())
}

func TestRun_FiresDueCronJobViaHeap(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	s := New(&fakeExpiry{}, dispatcher, nil)
	s.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	buf := subscription.NewBuffer(10)
	buf.Append(model.Event{ID: "e1", Type: "x"})
	sub := model.Subscription{
		ID:       "sub-1",
		ClientID: "client-1",
		Delivery: model.DeliveryPreferences{
			Channels:     []model.Channel{model.ChannelCron},
			CronSchedule: &model.CronSchedule{Expression: "@hourly"},
		},
	}
	s.Upsert(sub, buf)

	// Advance the clock past the job's next-fire instant and drive one tick
	// manually, mirroring what Run's timer would do.
	s.mu.Lock()
	s.cronHeap[0].next = s.now()
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	require.Eventually(t, func() bool { return dispatcher.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
}

func TestCronFlush_InvokesHandlerOncePerBatch(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	effects := &fakeEffects{}
	s := New(&fakeExpiry{}, dispatcher, nil)
	s.SetEffects(effects)

	aggregate := true
	buf := subscription.NewBuffer(10)
	buf.Append(model.Event{ID: "e1", Type: "x"})
	buf.Append(model.Event{ID: "e2", Type: "x"})

	handler := &model.HandlerDescriptor{Kind: model.HandlerWebhook, Webhook: &model.WebhookHandler{URL: "https://example.com/hook"}}
	sub := model.Subscription{
		ID:       "sub-1",
		ClientID: "client-1",
		Handler:  handler,
		Delivery: model.DeliveryPreferences{
			Channels: []model.Channel{model.ChannelCron},
			CronSchedule: &model.CronSchedule{
				Expression:      "@hourly",
				AggregateEvents: &aggregate,
			},
		},
	}
	s.Upsert(sub, buf)
	s.flushCron(s.cronByID["sub-1"])

	require.Eventually(t, func() bool { return effects.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduledFlush_InvokesHandlerOncePerBatch(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	effects := &fakeEffects{}
	s := New(&fakeExpiry{}, dispatcher, nil)
	s.SetEffects(effects)

	buf := subscription.NewBuffer(0)
	buf.Append(model.Event{ID: "e1", Type: "x"})

	handler := &model.HandlerDescriptor{Kind: model.HandlerBash, Bash: &model.BashHandler{Command: "echo"}}
	sub := model.Subscription{
		ID:       "sub-sched",
		ClientID: "client-1",
		Handler:  handler,
		Delivery: model.DeliveryPreferences{
			Channels: []model.Channel{model.ChannelScheduled},
			ScheduledDelivery: &model.ScheduledDelivery{
				DeliverAt: time.Now().Add(10 * time.Millisecond),
			},
		},
	}
	s.Upsert(sub, buf)

	require.Eventually(t, func() bool { return effects.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestFlush_NoHandlerSkipsEffectInvocation(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	effects := &fakeEffects{}
	s := New(&fakeExpiry{}, dispatcher, nil)
	s.SetEffects(effects)

	aggregate := true
	buf := subscription.NewBuffer(10)
	buf.Append(model.Event{ID: "e1", Type: "x"})
	sub := model.Subscription{
		ID:       "sub-no-handler",
		ClientID: "client-1",
		Delivery: model.DeliveryPreferences{
			Channels: []model.Channel{model.ChannelCron},
			CronSchedule: &model.CronSchedule{
				Expression:      "@hourly",
				AggregateEvents: &aggregate,
			},
		},
	}
	s.Upsert(sub, buf)
	s.flushCron(s.cronByID["sub-no-handler"])

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, effects.count())
}
