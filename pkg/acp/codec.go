package acp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// probeFrame is used to sniff the member set of an incoming frame without
// committing to a concrete JSON-RPC shape up front.
type probeFrame struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Decode classifies and parses a single newline-delimited JSON-RPC 2.0
// message. Request and response shapes are additionally round-tripped
// through the MCP SDK's jsonrpc codec as a conformance check, mirroring the
// teacher's "decode for inspection, pass through raw on failure" approach —
// except here a conformance failure is reported to the caller rather than
// silently ignored, since the conductor (unlike a passthrough proxy) must
// classify every frame correctly to route it.
func Decode(raw []byte) (*Frame, error) {
	var probe probeFrame
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("acp: invalid JSON: %w", err)
	}

	f := &Frame{
		Raw:      append([]byte(nil), raw...),
		ID:       probe.ID,
		Method:   probe.Method,
		Params:   probe.Params,
		Result:   probe.Result,
		Error:    probe.Error,
		Received: time.Now(),
	}

	hasID := len(probe.ID) > 0 && string(probe.ID) != "null"

	switch {
	case probe.Method != "" && hasID:
		f.Kind = KindRequest
		if _, err := jsonrpc.DecodeMessage(raw); err != nil {
			return nil, fmt.Errorf("acp: malformed request: %w", err)
		}
	case probe.Method != "":
		f.Kind = KindNotification
	case hasID && (probe.Result != nil || probe.Error != nil):
		f.Kind = KindResponse
		if _, err := jsonrpc.DecodeMessage(raw); err != nil {
			return nil, fmt.Errorf("acp: malformed response: %w", err)
		}
	default:
		return nil, fmt.Errorf("acp: frame has neither a method nor a result/error")
	}

	return f, nil
}

// wireResponse/wireNotification mirror the JSON-RPC 2.0 wire shape
// directly. They exist alongside the SDK's jsonrpc types because the
// conductor must preserve original request ids byte-for-byte (see EncodeResponseResult)
// and must emit notifications, a shape the SDK's jsonrpc package does not model.
type wireNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// EncodeRequest builds a freshly-minted request with an integer id (always
// an id the conductor itself allocated, via the ID allocator) and encodes it
// through the MCP SDK's jsonrpc codec.
func EncodeRequest(id int64, method string, params json.RawMessage) ([]byte, error) {
	rid, err := jsonrpc.MakeID(id)
	if err != nil {
		return nil, fmt.Errorf("acp: make id: %w", err)
	}
	req := &jsonrpc.Request{ID: rid, Method: method, Params: params}
	return jsonrpc.EncodeMessage(req)
}

// EncodeNotification builds a notification frame (no id).
func EncodeNotification(method string, params json.RawMessage) ([]byte, error) {
	return json.Marshal(wireNotification{JSONRPC: "2.0", Method: method, Params: params})
}

// EncodeResponseResult builds a success response, writing back rawID
// byte-for-byte exactly as received on the original request — this is what
// guarantees the "id type preservation" invariant (string vs integer, and
// exact numeric representation) without a lossy round-trip through a typed
// id representation.
func EncodeResponseResult(rawID json.RawMessage, result json.RawMessage) ([]byte, error) {
	return json.Marshal(wireResponse{JSONRPC: "2.0", ID: rawID, Result: result})
}

// EncodeErrorResponse builds an error response, preserving rawID the same way.
func EncodeErrorResponse(rawID json.RawMessage, code int64, message string) ([]byte, error) {
	return EncodeResponseError(rawID, &RPCError{Code: code, Message: message})
}

// EncodeResponseError builds an error response from a full RPCError
// (including Data), preserving rawID byte-for-byte.
func EncodeResponseError(rawID json.RawMessage, rpcErr *RPCError) ([]byte, error) {
	return json.Marshal(wireResponse{JSONRPC: "2.0", ID: rawID, Error: rpcErr})
}
