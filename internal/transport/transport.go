// Package transport is the websocket front door: it owns the upgrade, the
// per-connection read/write pumps, and the Connected/Disconnected wiring
// into internal/session, generalizing pkg/websocket's client.go/hub.go
// register/unregister/broadcast trio into a plain per-connection model (the
// hub's own Session.Outbound queue replaces the old shared hub map + send
// channel bookkeeping).
package transport

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"eventhub/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// MessageHandler receives decoded inbound frames and connection lifecycle
// notices; internal/hub implements this to run the JSON-RPC dispatch.
type MessageHandler interface {
	// Connected fires once the session is registered. preAuthClientID is
	// non-empty only when an Authenticator validated a bearer token ahead
	// of the upgrade; the hub holds that identity and adopts it when the
	// session's initialize call arrives.
	Connected(sessionID, preAuthClientID string)
	HandleMessage(sessionID string, raw []byte)
	// Disconnected fires once the session has been torn down, after the read
	// pump returns and the session is removed from internal/session.Manager.
	Disconnected(sessionID string)
}

// Authenticator validates the bearer token on a websocket upgrade request,
// mirroring the teacher's jwtManager.WebSocketAuth(r) gate ahead of
// ServeWS. A nil Authenticator on Server disables the check entirely.
type Authenticator interface {
	Authenticate(r *http.Request) (clientID string, err error)
}

// MetricsSink is the narrow connection-lifecycle slice of internal/metrics
// that the transport needs.
type MetricsSink interface {
	IncrementConnections()
	DecrementConnections()
	RecordConnectionDuration(d time.Duration)
	RecordConnectionError()
	IncrementMessagesReceived()
	IncrementMessagesSent()
	RecordMessageSize(n int)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server upgrades incoming HTTP requests to websocket connections and runs
// one session per connection.
type Server struct {
	sessions *session.Manager
	handler  MessageHandler
	metrics  MetricsSink
	logger   *log.Logger
	auth     Authenticator

	maxConnections int

	mu    sync.Mutex
	count int
}

// New builds a Server. maxConnections <= 0 disables the connection cap; auth
// may be nil to accept connections without a bearer token.
func New(sessions *session.Manager, handler MessageHandler, metrics MetricsSink, logger *log.Logger, maxConnections int, auth Authenticator) *Server {
	return &Server{
		sessions:       sessions,
		handler:        handler,
		metrics:        metrics,
		logger:         logger,
		maxConnections: maxConnections,
		auth:           auth,
	}
}

// ServeHTTP upgrades the connection and blocks, running the connection's
// read pump, until the client disconnects or the server shuts down.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if srv.maxConnections > 0 && srv.currentCount() >= srv.maxConnections {
		srv.logf("transport: connection limit reached (%d), rejecting %s", srv.maxConnections, r.RemoteAddr)
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		srv.metrics.RecordConnectionError()
		return
	}

	var preAuthClientID string
	if srv.auth != nil {
		clientID, err := srv.auth.Authenticate(r)
		if err != nil {
			srv.logf("transport: authentication failed for %s: %v", r.RemoteAddr, err)
			http.Error(w, "unauthorized: "+err.Error(), http.StatusUnauthorized)
			srv.metrics.RecordConnectionError()
			return
		}
		preAuthClientID = clientID
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.logf("transport: upgrade error: %v", err)
		srv.metrics.RecordConnectionError()
		return
	}

	srv.serveConn(conn, preAuthClientID)
}

func (srv *Server) currentCount() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.count
}

func (srv *Server) serveConn(conn *websocket.Conn, preAuthClientID string) {
	id := uuid.NewString()
	sess := srv.sessions.Connect(id)
	connectedAt := time.Now()

	srv.mu.Lock()
	srv.count++
	srv.mu.Unlock()

	srv.metrics.IncrementConnections()
	srv.logf("transport: session %s connected from %s", id, conn.RemoteAddr())
	srv.handler.Connected(id, preAuthClientID)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.writePump(conn, sess, stop)
	}()

	srv.readPump(conn, id)
	close(stop)

	srv.sessions.Disconnect(id)
	conn.Close()
	wg.Wait()

	srv.mu.Lock()
	srv.count--
	srv.mu.Unlock()

	srv.metrics.DecrementConnections()
	srv.metrics.RecordConnectionDuration(time.Since(connectedAt))
	srv.handler.Disconnected(id)
	srv.logf("transport: session %s disconnected", id)
}

func (srv *Server) logf(format string, args ...interface{}) {
	if srv.logger != nil {
		srv.logger.Printf(format, args...)
	}
}

// readPump owns the connection's only reader and feeds decoded frames to
// the handler; it returns once the connection errors or closes, signalling
// serveConn to tear the session down.
func (srv *Server) readPump(conn *websocket.Conn, sessionID string) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				srv.logf("transport: read error for session %s: %v", sessionID, err)
				srv.metrics.RecordConnectionError()
			}
			return
		}
		srv.metrics.IncrementMessagesReceived()
		srv.handler.HandleMessage(sessionID, message)
	}
}

// writePump is the connection's only writer, draining the session's
// outbound FIFO (spec.md §4.2 single-writer ordering guarantee) and
// sending periodic pings.
func (srv *Server) writePump(conn *websocket.Conn, sess *session.Session, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return

		case message := <-sess.Outbound():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				srv.metrics.RecordConnectionError()
				return
			}
			srv.metrics.IncrementMessagesSent()
			srv.metrics.RecordMessageSize(len(message))

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
