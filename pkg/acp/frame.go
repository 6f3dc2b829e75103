// Package acp provides the newline-delimited JSON-RPC 2.0 frame codec shared
// by every hop of the conductor: the client/proxy/agent pipeline and the MCP
// HTTP bridge both speak this wire format.
package acp

import (
	"encoding/json"
	"time"
)

// Kind classifies a decoded Frame by JSON-RPC 2.0 shape.
type Kind int

const (
	// KindInvalid marks a frame that is not a well-formed JSON-RPC 2.0 request,
	// response, or notification.
	KindInvalid Kind = iota
	// KindRequest is a frame carrying both a method and an id.
	KindRequest
	// KindResponse is a frame carrying an id and either a result or an error.
	KindResponse
	// KindNotification is a frame carrying a method but no id.
	KindNotification
)

// String returns a human-readable label, used in log fields.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Frame is a single decoded JSON-RPC 2.0 message, tagged with its Kind.
//
// ID is kept as the raw JSON bytes of the "id" member (never re-encoded
// through a numeric type) so that the conductor can always write it back
// byte-for-byte, preserving whether the peer used a string or an integer.
type Frame struct {
	Kind   Kind
	ID     json.RawMessage // nil for notifications
	Method string          // empty for responses
	Params json.RawMessage
	Result json.RawMessage
	Error  *RPCError

	// Raw holds the original bytes this Frame was decoded from, if any.
	// Zero for frames constructed in-process (not yet encoded).
	Raw []byte

	// Received is when the frame was read off the wire. Zero for
	// constructed-in-process frames.
	Received time.Time
}

// IsRequest reports whether the frame is a request.
func (f *Frame) IsRequest() bool { return f != nil && f.Kind == KindRequest }

// IsResponse reports whether the frame is a response.
func (f *Frame) IsResponse() bool { return f != nil && f.Kind == KindResponse }

// IsNotification reports whether the frame is a notification.
func (f *Frame) IsNotification() bool { return f != nil && f.Kind == KindNotification }

// HasMethod reports whether m equals the frame's method. Safe to call on
// responses, where Method is always empty and this always returns false.
func (f *Frame) HasMethod(m string) bool { return f != nil && f.Method == m }

// IDString returns the raw id bytes as a string for use as a map key, or ""
// for notifications. Two ids that differ only in JSON whitespace are treated
// as different keys, which is fine: ids the conductor mints itself are
// always compact integers, and ids it round-trips are compared only against
// byte-identical copies of what the peer sent.
func (f *Frame) IDString() string {
	if f == nil || len(f.ID) == 0 {
		return ""
	}
	return string(f.ID)
}
