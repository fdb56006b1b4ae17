// Package metrics exposes the hub's Prometheus counters, following the
// teacher's internal/metrics package: one Metrics struct registering
// promauto collectors at construction, plain methods for callers to update
// them. Counters here cover the hub's own concerns (matched/dropped/
// buffered events, subscription expiry, NATS ingress) rather than the
// teacher's market-data message types.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the hub's single metrics sink. It implements router.MetricsSink
// and ingress.MetricsSink directly (both interfaces are small enough to
// satisfy without an adapter).
type Metrics struct {
	connectionsTotal   prometheus.Counter
	connectionsActive  prometheus.Gauge
	connectionDuration prometheus.Histogram
	connectionErrors   prometheus.Counter

	messagesReceived prometheus.Counter
	messagesSent     prometheus.Counter
	messageSize      prometheus.Histogram

	eventsMatched        prometheus.Counter
	eventsDropped        prometheus.Counter
	eventsBuffered       prometheus.Counter
	cronFlushes          prometheus.Counter
	scheduledFlushes     prometheus.Counter
	subscriptionsExpired prometheus.Counter

	errorsTotal   prometheus.Counter
	errorsByType  *prometheus.CounterVec
	lastErrorTime prometheus.Gauge

	goroutinesCount prometheus.Gauge
	memoryUsage     prometheus.Gauge
	cpuUsage        prometheus.Gauge

	natsConnectionStatus prometheus.Gauge
	natsReconnects       prometheus.Counter
	natsMessages         prometheus.Counter
	natsLatency          prometheus.Histogram

	startTime    time.Time
	mu           sync.RWMutex
	clientsCount int64
}

// New registers and returns a fresh Metrics. Call once per process;
// promauto panics on duplicate registration.
func New() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventhub_connections_total",
			Help: "Total number of transport connections accepted.",
		}),
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eventhub_connections_active",
			Help: "Number of currently active transport connections.",
		}),
		connectionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventhub_connection_duration_seconds",
			Help:    "Duration of transport connections.",
			Buckets: prometheus.DefBuckets,
		}),
		connectionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventhub_connection_errors_total",
			Help: "Total number of transport connection errors.",
		}),

		messagesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventhub_messages_received_total",
			Help: "Total number of JSON-RPC messages received from clients.",
		}),
		messagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventhub_messages_sent_total",
			Help: "Total number of JSON-RPC messages sent to clients.",
		}),
		messageSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventhub_message_size_bytes",
			Help:    "Size of JSON-RPC wire messages in bytes.",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000},
		}),

		eventsMatched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventhub_events_matched_total",
			Help: "Total number of (subscription, event) matches produced by the router.",
		}),
		eventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventhub_events_dropped_realtime_total",
			Help: "Total number of realtime deliveries dropped due to a full outbound queue.",
		}),
		eventsBuffered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventhub_events_buffered_total",
			Help: "Total number of events appended to a cron or scheduled aggregation buffer.",
		}),
		cronFlushes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventhub_cron_flushes_total",
			Help: "Total number of cron-triggered batch flushes.",
		}),
		scheduledFlushes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventhub_scheduled_flushes_total",
			Help: "Total number of one-shot scheduled batch flushes.",
		}),
		subscriptionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventhub_subscriptions_expired_total",
			Help: "Total number of subscriptions transitioned to expired.",
		}),

		errorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventhub_errors_total",
			Help: "Total number of errors across all subsystems.",
		}),
		errorsByType: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eventhub_errors_by_type_total",
			Help: "Total number of errors, labeled by type.",
		}, []string{"type"}),
		lastErrorTime: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eventhub_last_error_timestamp",
			Help: "Unix timestamp of the most recent error.",
		}),

		goroutinesCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eventhub_goroutines_count",
			Help: "Number of goroutines.",
		}),
		memoryUsage: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eventhub_memory_usage_bytes",
			Help: "Heap memory usage in bytes.",
		}),
		cpuUsage: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eventhub_cpu_usage_percent",
			Help: "Process CPU usage percentage.",
		}),

		natsConnectionStatus: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eventhub_nats_connection_status",
			Help: "NATS ingress connection status (1=connected, 0=disconnected).",
		}),
		natsReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventhub_nats_reconnects_total",
			Help: "Total number of NATS reconnections.",
		}),
		natsMessages: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventhub_nats_messages_total",
			Help: "Total number of NATS ingress messages processed.",
		}),
		natsLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventhub_nats_message_latency_seconds",
			Help:    "Latency of NATS ingress message processing.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
	}
}

// Connection tracking.
func (m *Metrics) IncrementConnections() {
	m.connectionsTotal.Inc()
	m.mu.Lock()
	m.clientsCount++
	m.mu.Unlock()
	m.connectionsActive.Inc()
}

func (m *Metrics) DecrementConnections() {
	m.mu.Lock()
	m.clientsCount--
	m.mu.Unlock()
	m.connectionsActive.Dec()
}

func (m *Metrics) RecordConnectionError() {
	m.connectionErrors.Inc()
	m.RecordError("connection")
}

func (m *Metrics) RecordConnectionDuration(d time.Duration) {
	m.connectionDuration.Observe(d.Seconds())
}

// Message tracking.
func (m *Metrics) IncrementMessagesReceived() { m.messagesReceived.Inc() }
func (m *Metrics) IncrementMessagesSent()     { m.messagesSent.Inc() }
func (m *Metrics) RecordMessageSize(size int) { m.messageSize.Observe(float64(size)) }

// router.MetricsSink.
func (m *Metrics) IncMatched()         { m.eventsMatched.Inc() }
func (m *Metrics) IncDroppedRealtime() { m.eventsDropped.Inc() }
func (m *Metrics) IncBuffered()        { m.eventsBuffered.Inc() }

// Flush and expiry counters. The Scheduler increments the flush counters
// itself (attached via SetMetrics); hub.ExpiryNotifier increments the
// expired counter on every transition to expired.
func (m *Metrics) IncCronFlush()           { m.cronFlushes.Inc() }
func (m *Metrics) IncScheduledFlush()      { m.scheduledFlushes.Inc() }
func (m *Metrics) IncSubscriptionExpired() { m.subscriptionsExpired.Inc() }

// Error tracking.
func (m *Metrics) RecordError(errorType string) {
	m.errorsTotal.Inc()
	m.errorsByType.WithLabelValues(errorType).Inc()
	m.lastErrorTime.SetToCurrentTime()
}

// System gauge setters. Nothing in this repository calls them, so the
// gauges stay at zero.
func (m *Metrics) UpdateGoroutinesCount(count int) { m.goroutinesCount.Set(float64(count)) }
func (m *Metrics) UpdateMemoryUsage(bytes uint64)  { m.memoryUsage.Set(float64(bytes)) }
func (m *Metrics) UpdateCPUUsage(percent float64)  { m.cpuUsage.Set(percent) }

// ingress.MetricsSink.
func (m *Metrics) SetNATSConnected(connected bool) {
	if connected {
		m.natsConnectionStatus.Set(1)
	} else {
		m.natsConnectionStatus.Set(0)
	}
}

func (m *Metrics) IncrementNATSReconnects()          { m.natsReconnects.Inc() }
func (m *Metrics) IncrementNATSMessages()            { m.natsMessages.Inc() }
func (m *Metrics) RecordNATSLatency(d time.Duration) { m.natsLatency.Observe(d.Seconds()) }

// GetActiveConnections returns the current transport connection count.
func (m *Metrics) GetActiveConnections() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clientsCount
}

// GetUptime returns time since the Metrics was constructed.
func (m *Metrics) GetUptime() time.Duration {
	return time.Since(m.startTime)
}
