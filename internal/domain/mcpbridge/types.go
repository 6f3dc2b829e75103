// Package mcpbridge implements the MCP-over-control-channel handler (§4.2):
// the conductor's own responses to mcp/connect, mcp/message, and
// mcp/disconnect, and the in-process tool servers those methods expose.
package mcpbridge

import (
	"context"
	"encoding/json"
)

// ToolDef is one callable tool a ToolServer exposes. Immutable after
// registration.
type ToolDef struct {
	Name         string
	Description  string
	InputSchema  json.RawMessage
	OutputSchema json.RawMessage
	// Invoke runs the tool. ctx carries the connection's sessionId and
	// connectionId (see ContextSessionID/ContextConnectionID).
	Invoke func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// ToolServer is an in-process MCP server identified by an acp:<uuid> URL
// (§3 "ToolServer").
type ToolServer struct {
	ACPURL       string
	Name         string
	Version      string
	Instructions string
	Tools        []ToolDef
}

func (s *ToolServer) tool(name string) (ToolDef, bool) {
	for _, t := range s.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDef{}, false
}

func (s *ToolServer) toolDefsJSON() []toolDefJSON {
	out := make([]toolDefJSON, 0, len(s.Tools))
	for _, t := range s.Tools {
		out = append(out, toolDefJSON{
			Name:         t.Name,
			Description:  t.Description,
			InputSchema:  t.InputSchema,
			OutputSchema: t.OutputSchema,
		})
	}
	return out
}

type toolDefJSON struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"inputSchema,omitempty"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
}

type ctxKey int

const (
	ctxKeySessionID ctxKey = iota
	ctxKeyConnectionID
)

func withConnContext(ctx context.Context, sessionID, connectionID string) context.Context {
	ctx = context.WithValue(ctx, ctxKeySessionID, sessionID)
	return context.WithValue(ctx, ctxKeyConnectionID, connectionID)
}

// ContextSessionID returns the ACP sessionId associated with the tool
// invocation's connection, if any.
func ContextSessionID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeySessionID).(string)
	return v
}

// ContextConnectionID returns the mcp/connect connectionId a tool
// invocation is running under.
func ContextConnectionID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyConnectionID).(string)
	return v
}
