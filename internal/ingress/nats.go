// Package ingress adapts the external event producer collaborator (out of
// core scope per spec.md's Non-goals) onto a concrete transport: NATS
// subject subscriptions that decode inbound messages into model.Event and
// feed them to the Event Router's sole entry point, Publish. Structurally
// this is the teacher's pkg/nats/client.go, generalized from Odin's
// fixed market-data subjects to an arbitrary event-type subject hierarchy.
package ingress

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"eventhub/internal/model"
)

// Router is the subset of *router.Router the ingress needs.
type Router interface {
	Publish(event model.Event)
}

// MetricsSink receives NATS connection-lifecycle and message counters.
type MetricsSink interface {
	SetNATSConnected(connected bool)
	IncrementNATSReconnects()
	IncrementNATSMessages()
	RecordNATSLatency(d time.Duration)
	RecordError(errorType string)
}

// Config mirrors the teacher's NATS client configuration.
type Config struct {
	URL             string
	Subject         string // wildcard subject to subscribe to, e.g. "events.>"
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration
}

// DefaultConfig returns sane defaults matching the teacher's production
// values, with the subject generalized to the hub's event wire format.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		Subject:         "events.>",
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectJitter: 500 * time.Millisecond,
		MaxPingsOut:     2,
		PingInterval:    20 * time.Second,
	}
}

// Client subscribes to the configured subject and publishes every decoded
// event to the Router. It owns no retry logic of its own beyond what the
// nats.go client provides (MaxReconnects/ReconnectWait).
type Client struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	subject string

	router  Router
	metrics MetricsSink
	logger  *log.Logger

	mu sync.Mutex
}

// Connect dials NATS and subscribes to config.Subject, forwarding every
// decoded message to router.Publish. Connection lifecycle events update
// metrics the way the teacher's connectHandler/disconnectHandler/
// reconnectHandler do.
func Connect(config Config, router Router, metrics MetricsSink, logger *log.Logger) (*Client, error) {
	c := &Client{subject: config.Subject, router: router, metrics: metrics, logger: logger}

	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.ReconnectJitter(config.ReconnectJitter, config.ReconnectJitter),
		nats.MaxPingsOutstanding(config.MaxPingsOut),
		nats.PingInterval(config.PingInterval),
		nats.ConnectHandler(c.connectHandler),
		nats.DisconnectErrHandler(c.disconnectHandler),
		nats.ReconnectHandler(c.reconnectHandler),
		nats.ErrorHandler(c.errorHandler),
	}

	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("ingress: failed to connect to NATS: %w", err)
	}
	c.conn = conn
	c.setConnected(true)

	sub, err := conn.Subscribe(config.Subject, c.handleMessage)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ingress: failed to subscribe to %s: %w", config.Subject, err)
	}
	c.sub = sub

	c.logf("ingress: subscribed to NATS subject %s", config.Subject)
	return c, nil
}

func (c *Client) handleMessage(msg *nats.Msg) {
	start := time.Now()

	var event model.Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		c.recordError("ingress_decode")
		c.logf("ingress: dropping malformed event on subject %s: %v", msg.Subject, err)
		return
	}
	if event.Type == "" {
		c.recordError("ingress_missing_type")
		c.logf("ingress: dropping event with empty type on subject %s", msg.Subject)
		return
	}

	c.router.Publish(event)

	if c.metrics != nil {
		c.metrics.IncrementNATSMessages()
		c.metrics.RecordNATSLatency(time.Since(start))
	}
}

func (c *Client) connectHandler(conn *nats.Conn) {
	c.logf("ingress: connected to NATS at %s", conn.ConnectedUrl())
	c.setConnected(true)
}

func (c *Client) disconnectHandler(conn *nats.Conn, err error) {
	if err != nil {
		c.logf("ingress: disconnected from NATS: %v", err)
		c.recordError("nats_disconnect")
	} else {
		c.logf("ingress: disconnected from NATS")
	}
	c.setConnected(false)
}

func (c *Client) reconnectHandler(conn *nats.Conn) {
	c.logf("ingress: reconnected to NATS at %s", conn.ConnectedUrl())
	c.setConnected(true)
	if c.metrics != nil {
		c.metrics.IncrementNATSReconnects()
	}
}

func (c *Client) errorHandler(conn *nats.Conn, sub *nats.Subscription, err error) {
	c.logf("ingress: NATS error: %v", err)
	c.recordError("nats_error")
}

// IsConnected reports whether the underlying NATS connection is up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Close unsubscribes and closes the NATS connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil {
			c.logf("ingress: error unsubscribing from %s: %v", c.subject, err)
		}
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.setConnectedLocked(false)
	return nil
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setConnectedLocked(v)
}

func (c *Client) setConnectedLocked(v bool) {
	if c.metrics != nil {
		c.metrics.SetNATSConnected(v)
	}
}

func (c *Client) recordError(kind string) {
	if c.metrics != nil {
		c.metrics.RecordError(kind)
	}
}

func (c *Client) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
