// Package hub implements transport.MessageHandler: the JSON-RPC dispatcher
// that ties the Session, Subscription Manager, and Capability service
// together behind the wire protocol (spec.md §4.3, §6).
// It is the hub's composition point, corresponding to the teacher's
// internal/server.Server, minus the HTTP surface (see internal/httpapi) and
// the connection plumbing (see internal/transport).
package hub

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"eventhub/internal/capability"
	"eventhub/internal/model"
	"eventhub/internal/rpcwire"
	"eventhub/internal/session"
	"eventhub/internal/subscription"
)

// ServerInfo is the static identity the hub reports in initialize's result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientTracker is the narrow slice of internal/metrics.ClientTracker the
// hub needs to keep /stats current. Nil disables tracking.
type ClientTracker interface {
	AddClient(clientID string)
	RemoveClient(clientID string)
	SetActiveSubscriptions(clientID string, count int)
	RecordMessage(clientID string, sent bool)
}

// Hub dispatches decoded JSON-RPC requests to the subscription manager and
// capability service. Publishing (the Router's job) is driven independently
// by internal/ingress; Hub only owns the client-facing RPC surface. It
// implements internal/transport's MessageHandler.
type Hub struct {
	sessions     *session.Manager
	subs         *subscription.Manager
	capabilities *capability.Service
	clients      ClientTracker
	serverInfo   ServerInfo
	logger       *log.Logger

	preAuthMu sync.Mutex
	preAuth   map[string]string

	clientsMu       sync.Mutex
	sessionClientID map[string]string
}

// New builds a Hub. The returned value must be wired into an
// internal/transport.Server as its MessageHandler. clients may be nil to
// disable per-client /stats tracking.
func New(sessions *session.Manager, subs *subscription.Manager, caps *capability.Service, clients ClientTracker, serverInfo ServerInfo, logger *log.Logger) *Hub {
	return &Hub{
		sessions:        sessions,
		subs:            subs,
		capabilities:    caps,
		clients:         clients,
		serverInfo:      serverInfo,
		logger:          logger,
		preAuth:         make(map[string]string),
		sessionClientID: make(map[string]string),
	}
}

// Connected records the bearer-token-derived client_id (if the transport's
// Authenticator validated one ahead of the upgrade) so the subsequent
// initialize call can adopt it instead of trusting a client-supplied one.
func (h *Hub) Connected(sessionID, preAuthClientID string) {
	if preAuthClientID == "" {
		return
	}
	h.preAuthMu.Lock()
	h.preAuth[sessionID] = preAuthClientID
	h.preAuthMu.Unlock()
}

// Disconnected drops any per-client tracking associated with a session that
// never completed initialize, or retires the ClientTracker entry for one
// that did.
func (h *Hub) Disconnected(sessionID string) {
	h.preAuthMu.Lock()
	delete(h.preAuth, sessionID)
	h.preAuthMu.Unlock()

	h.clientsMu.Lock()
	clientID, ok := h.sessionClientID[sessionID]
	delete(h.sessionClientID, sessionID)
	h.clientsMu.Unlock()

	if ok && h.clients != nil {
		h.clients.RemoveClient(clientID)
	}
}

func (h *Hub) takePreAuth(sessionID string) string {
	h.preAuthMu.Lock()
	defer h.preAuthMu.Unlock()
	clientID := h.preAuth[sessionID]
	delete(h.preAuth, sessionID)
	return clientID
}

// HandleMessage decodes one inbound frame and dispatches it, writing a
// response (or nothing, for notifications) onto the session's outbound
// queue.
func (h *Hub) HandleMessage(sessionID string, raw []byte) {
	sess, ok := h.sessions.Get(sessionID)
	if !ok {
		return
	}

	if h.clients != nil && sess.Initialized() {
		h.clients.RecordMessage(sess.ClientID(), false)
	}

	req, notif, id, decodeErr := rpcwire.Decode(raw)
	if decodeErr != nil {
		h.reply(sess, id, nil, decodeErr)
		return
	}
	if notif != nil {
		// The hub accepts no fire-and-forget client notifications today;
		// decoding support exists for forward compatibility only.
		h.logf("hub: ignoring inbound notification %q from session %s", notif.Method, sessionID)
		return
	}

	result, rpcErr := h.dispatch(sessionID, sess, *req)
	h.reply(sess, req.ID, result, rpcErr)
}

func (h *Hub) reply(sess *session.Session, id rpcwire.ID, result interface{}, rpcErr *rpcwire.Error) {
	var payload []byte
	var err error
	if rpcErr != nil {
		payload, err = rpcwire.EncodeError(id, rpcErr)
	} else {
		payload, err = rpcwire.EncodeResult(id, result)
	}
	if err != nil {
		h.logf("hub: failed to encode response: %v", err)
		return
	}
	if !sess.EnqueueReliable(payload) {
		h.logf("hub: session %s disconnected before response could be delivered", sess.ID)
		return
	}
	if h.clients != nil && sess.Initialized() {
		h.clients.RecordMessage(sess.ClientID(), true)
	}
}

func (h *Hub) dispatch(sessionID string, sess *session.Session, req rpcwire.Request) (interface{}, *rpcwire.Error) {
	if req.Method == "initialize" {
		return h.handleInitialize(sessionID, sess, req.Params)
	}

	if !sess.Initialized() {
		return nil, rpcwire.NotInitialized()
	}

	switch req.Method {
	case "mcpe/capabilities":
		return h.capabilities.Capabilities(), nil
	case "mcpe/schema":
		return schemaResult{Schemas: h.capabilities.Schemas()}, nil
	case "subscriptions/create":
		return h.handleCreate(sess, req.Params)
	case "subscriptions/remove":
		return h.handleRemove(sess, req.Params)
	case "subscriptions/list":
		return h.handleList(sess, req.Params)
	case "subscriptions/update":
		return h.handleUpdate(sess, req.Params)
	case "subscriptions/pause":
		return h.handlePause(sess, req.Params)
	case "subscriptions/resume":
		return h.handleResume(sess, req.Params)
	case "events/acknowledge":
		return acknowledgeResult{Success: true}, nil
	default:
		return nil, rpcwire.MethodNotFound(req.Method)
	}
}

type schemaResult struct {
	Schemas []capability.OperationSchema `json:"schemas"`
}

type acknowledgeResult struct {
	Success bool `json:"success"`
}

type initializeParams struct {
	ProtocolVersion string `json:"protocol_version"`
	ClientID        string `json:"client_id,omitempty"`
}

type initializeResult struct {
	ProtocolVersion string                   `json:"protocol_version"`
	ServerInfo      ServerInfo               `json:"server_info"`
	Capabilities    capability.Capabilities  `json:"capabilities"`
}

func (h *Hub) handleInitialize(sessionID string, sess *session.Session, raw []byte) (interface{}, *rpcwire.Error) {
	var params initializeParams
	if len(raw) > 0 {
		if err := unmarshalParams(raw, &params); err != nil {
			return nil, rpcwire.InvalidParams(err.Error())
		}
	}
	if params.ProtocolVersion != rpcwire.ProtocolVersion {
		return nil, rpcwire.InvalidParams("unsupported protocol_version " + params.ProtocolVersion)
	}

	clientID := h.takePreAuth(sessionID)
	if clientID == "" {
		clientID = params.ClientID
	}
	if clientID == "" {
		clientID = uuid.NewString()
	}

	h.sessions.Initialize(sessionID, clientID, params.ProtocolVersion)

	h.clientsMu.Lock()
	h.sessionClientID[sessionID] = clientID
	h.clientsMu.Unlock()
	if h.clients != nil {
		h.clients.AddClient(clientID)
	}

	return initializeResult{
		ProtocolVersion: rpcwire.ProtocolVersion,
		ServerInfo:      h.serverInfo,
		Capabilities:    h.capabilities.Capabilities(),
	}, nil
}

type createParams struct {
	Filter    model.Filter               `json:"filter"`
	Delivery  model.DeliveryPreferences  `json:"delivery"`
	Handler   *model.HandlerDescriptor   `json:"handler,omitempty"`
	ExpiresAt *time.Time                 `json:"expires_at,omitempty"`
}

func (h *Hub) handleCreate(sess *session.Session, raw []byte) (interface{}, *rpcwire.Error) {
	var params createParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, rpcwire.InvalidParams(err.Error())
	}

	sub, rpcErr := h.subs.Create(sess.ClientID(), params.Filter, params.Delivery, params.Handler, params.ExpiresAt)
	if rpcErr != nil {
		return nil, rpcErr
	}
	sess.AddSubscription(sub.ID)
	h.refreshActiveCount(sess)
	return sub, nil
}

// refreshActiveCount re-reports a client's owned-subscription count to the
// ClientTracker after create/remove, the only two operations that change the
// session's subscription-id set.
func (h *Hub) refreshActiveCount(sess *session.Session) {
	if h.clients == nil {
		return
	}
	h.clients.SetActiveSubscriptions(sess.ClientID(), len(sess.SubscriptionIDs()))
}

type subIDParams struct {
	SubID string `json:"sub_id"`
}

func (h *Hub) handleRemove(sess *session.Session, raw []byte) (interface{}, *rpcwire.Error) {
	var params subIDParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, rpcwire.InvalidParams(err.Error())
	}
	if rpcErr := h.subs.Remove(sess.ClientID(), params.SubID); rpcErr != nil {
		return nil, rpcErr
	}
	sess.RemoveSubscription(params.SubID)
	h.refreshActiveCount(sess)
	return acknowledgeResult{Success: true}, nil
}

type listParams struct {
	Status *model.Status `json:"status,omitempty"`
}

type listResult struct {
	Subscriptions []model.Subscription `json:"subscriptions"`
}

func (h *Hub) handleList(sess *session.Session, raw []byte) (interface{}, *rpcwire.Error) {
	var params listParams
	if len(raw) > 0 {
		if err := unmarshalParams(raw, &params); err != nil {
			return nil, rpcwire.InvalidParams(err.Error())
		}
	}
	subs := h.subs.List(sess.ClientID(), params.Status)
	if subs == nil {
		subs = []model.Subscription{}
	}
	return listResult{Subscriptions: subs}, nil
}

type updateParams struct {
	SubID   string `json:"sub_id"`
	Updates struct {
		Filter    *model.Filter              `json:"filter,omitempty"`
		Delivery  *model.DeliveryPreferences `json:"delivery,omitempty"`
		Handler   *model.HandlerDescriptor   `json:"handler,omitempty"`
		ExpiresAt *time.Time                 `json:"expires_at,omitempty"`
	} `json:"updates"`
}

func (h *Hub) handleUpdate(sess *session.Session, raw []byte) (interface{}, *rpcwire.Error) {
	var params updateParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, rpcwire.InvalidParams(err.Error())
	}

	updates := subscription.UpdateFields{
		Filter:    params.Updates.Filter,
		Delivery:  params.Updates.Delivery,
		Handler:   params.Updates.Handler,
		ExpiresAt: params.Updates.ExpiresAt,
	}

	sub, rpcErr := h.subs.Update(sess.ClientID(), params.SubID, updates)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return sub, nil
}

type statusResult struct {
	Success bool          `json:"success"`
	Status  model.Status  `json:"status"`
}

func (h *Hub) handlePause(sess *session.Session, raw []byte) (interface{}, *rpcwire.Error) {
	var params subIDParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, rpcwire.InvalidParams(err.Error())
	}
	sub, rpcErr := h.subs.Pause(sess.ClientID(), params.SubID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return statusResult{Success: true, Status: sub.Status}, nil
}

func (h *Hub) handleResume(sess *session.Session, raw []byte) (interface{}, *rpcwire.Error) {
	var params subIDParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, rpcwire.InvalidParams(err.Error())
	}
	sub, rpcErr := h.subs.Resume(sess.ClientID(), params.SubID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return statusResult{Success: true, Status: sub.Status}, nil
}

func (h *Hub) logf(format string, args ...interface{}) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}
