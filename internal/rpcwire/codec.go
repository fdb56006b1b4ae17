// Package rpcwire implements the pure JSON-RPC 2.0 framing used on the hub's
// client-facing channel: request/response envelopes, notifications, and the
// stable error taxonomy. The codec performs no I/O.
package rpcwire

import "encoding/json"

const ProtocolVersion = "2025-01-01"

// ID is a JSON-RPC request id: string, number, or absent (notification).
type ID struct {
	value interface{}
	set   bool
}

// NewStringID wraps a string id.
func NewStringID(v string) ID { return ID{value: v, set: true} }

// NewNumberID wraps a numeric id.
func NewNumberID(v float64) ID { return ID{value: v, set: true} }

// IsSet reports whether the id was present on the wire.
func (i ID) IsSet() bool { return i.set }

// Raw returns the underlying string or float64 value.
func (i ID) Raw() interface{} { return i.value }

func (i ID) MarshalJSON() ([]byte, error) {
	if !i.set {
		return []byte("null"), nil
	}
	return json.Marshal(i.value)
}

func (i *ID) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		i.set = false
		return nil
	}
	i.value = raw
	i.set = true
	return nil
}

// envelope is the wire shape shared by requests and notifications.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Request is a decoded client call expecting a response.
type Request struct {
	ID     ID
	Method string
	Params json.RawMessage
}

// Notification is a decoded client message with no id; the hub currently
// only receives requests from clients, but the codec supports decoding
// inbound notifications for forward compatibility.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Response is an outbound reply to a Request.
type Response struct {
	ID     ID          `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *Error      `json:"error,omitempty"`
}

type responseWire struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      ID          `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(responseWire{JSONRPC: "2.0", ID: r.ID, Result: r.Result, Error: r.Error})
}

// ServerNotification is an outbound hub->client notification (no id).
type ServerNotification struct {
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type notificationWire struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

func (n ServerNotification) MarshalJSON() ([]byte, error) {
	return json.Marshal(notificationWire{JSONRPC: "2.0", Method: n.Method, Params: n.Params})
}

// Decode parses a raw inbound message into either a Request or a
// Notification. Malformed JSON yields CodeParseError; a structurally
// invalid envelope (wrong jsonrpc version, missing method) yields
// CodeInvalidRequest. The returned id is best-effort for the invalid-request
// case, so the caller can still echo it on the error response; if the id
// itself could not be recovered, id.IsSet() is false and the caller must
// respond with id=null per spec.md §7.
func Decode(raw []byte) (*Request, *Notification, ID, *Error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, ID{}, ParseError(err.Error())
	}
	if env.JSONRPC != "2.0" || env.Method == "" {
		var id ID
		if env.ID != nil {
			id = *env.ID
		}
		return nil, nil, id, InvalidRequest("missing or invalid jsonrpc/method")
	}
	if env.ID == nil {
		return nil, &Notification{Method: env.Method, Params: env.Params}, ID{}, nil
	}
	return &Request{ID: *env.ID, Method: env.Method, Params: env.Params}, nil, *env.ID, nil
}

// EncodeResult marshals a successful Response.
func EncodeResult(id ID, result interface{}) ([]byte, error) {
	return json.Marshal(Response{ID: id, Result: result})
}

// EncodeError marshals an error Response. id may be the zero ID (unset) when
// the inbound id could not be recovered; it then serializes as "id":null.
func EncodeError(id ID, rpcErr *Error) ([]byte, error) {
	return json.Marshal(Response{ID: id, Error: rpcErr})
}

// EncodeNotification marshals a hub->client notification.
func EncodeNotification(method string, params interface{}) ([]byte, error) {
	return json.Marshal(ServerNotification{Method: method, Params: params})
}
