package rpcwire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeRequest(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":"r1","method":"subscriptions/list","params":{"status":"active"}}`)

	req, notif, id, err := Decode(raw)
	require.Nil(t, err)
	require.Nil(t, notif)
	require.NotNil(t, req)
	require.Equal(t, "subscriptions/list", req.Method)
	require.True(t, id.IsSet())
	require.Equal(t, "r1", id.Raw())
}

func TestDecodeNumericID(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":7,"method":"initialize"}`)

	req, _, id, err := Decode(raw)
	require.Nil(t, err)
	require.NotNil(t, req)
	require.Equal(t, float64(7), id.Raw())
	require.True(t, id.IsSet())
}

func TestDecodeNotification(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","method":"events/acknowledge","params":{}}`)

	req, notif, id, err := Decode(raw)
	require.Nil(t, err)
	require.Nil(t, req)
	require.NotNil(t, notif)
	require.Equal(t, "events/acknowledge", notif.Method)
	require.False(t, id.IsSet())
}

func TestDecodeMalformedJSONYieldsParseError(t *testing.T) {
	_, _, id, err := Decode([]byte(`{not json`))
	require.NotNil(t, err)
	require.Equal(t, CodeParseError, err.Code)
	require.False(t, id.IsSet())
}

func TestDecodeWrongVersionYieldsInvalidRequest(t *testing.T) {
	raw := []byte(`{"jsonrpc":"1.0","id":"x","method":"initialize"}`)

	_, _, id, err := Decode(raw)
	require.NotNil(t, err)
	require.Equal(t, CodeInvalidRequest, err.Code)
	// the id is recoverable even though the envelope is otherwise invalid,
	// so the caller can still echo it rather than responding with id=null.
	require.True(t, id.IsSet())
	require.Equal(t, "x", id.Raw())
}

func TestDecodeMissingMethodYieldsInvalidRequest(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1}`)

	_, _, id, err := Decode(raw)
	require.NotNil(t, err)
	require.Equal(t, CodeInvalidRequest, err.Code)
	require.True(t, id.IsSet())
}

func TestDecodeInvalidRequestWithNoIDStaysUnset(t *testing.T) {
	// No id field at all: nothing to echo, so the caller must respond with
	// id=null per spec.md §7.
	raw := []byte(`{"jsonrpc":"2.0","method":""}`)

	_, _, id, err := Decode(raw)
	require.NotNil(t, err)
	require.Equal(t, CodeInvalidRequest, err.Code)
	require.False(t, id.IsSet())
}

func TestEncodeResultRoundTrip(t *testing.T) {
	payload, err := EncodeResult(NewStringID("r1"), map[string]string{"status": "active"})
	require.NoError(t, err)

	var decoded struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      string          `json:"id"`
		Result  json.RawMessage `json:"result"`
	}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, "2.0", decoded.JSONRPC)
	require.Equal(t, "r1", decoded.ID)
	require.JSONEq(t, `{"status":"active"}`, string(decoded.Result))
}

func TestEncodeErrorWithNullID(t *testing.T) {
	payload, err := EncodeError(ID{}, ParseError("unexpected token"))
	require.NoError(t, err)

	var decoded struct {
		ID    interface{} `json:"id"`
		Error *Error      `json:"error"`
	}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Nil(t, decoded.ID)
	require.Equal(t, CodeParseError, decoded.Error.Code)
}

func TestEncodeNotificationHasNoID(t *testing.T) {
	payload, err := EncodeNotification("events/event", map[string]string{"subscription_id": "s1"})
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &raw))
	_, hasID := raw["id"]
	require.False(t, hasID)
	require.Equal(t, "events/event", raw["method"])
}
