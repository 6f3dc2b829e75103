package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/acpconductor/conductor/pkg/acp"
)

// Canonical control-channel method names (§4.2). The conductor accepts
// only this form on the wire; the underscore-prefixed historical form is
// recognized (so it is never mistakenly forwarded downstream) but rejected
// as malformed, per the resolved method-name-prefix convention.
const (
	MethodConnect    = "mcp/connect"
	MethodMessage    = "mcp/message"
	MethodDisconnect = "mcp/disconnect"
)

// IsControlMethod reports whether method is a control-channel method in
// either its canonical or historical underscore-prefixed spelling. The
// router uses this to decide whether a frame from the client should never
// be forwarded, independent of whether Dispatch will ultimately accept it.
func IsControlMethod(method string) bool {
	_, _, ok := splitControlMethod(method)
	return ok
}

func splitControlMethod(method string) (canonical string, wasUnderscoreForm bool, ok bool) {
	switch method {
	case MethodConnect, MethodMessage, MethodDisconnect:
		return method, false, true
	}
	if strings.HasPrefix(method, "_") {
		stripped := method[1:]
		switch stripped {
		case MethodConnect, MethodMessage, MethodDisconnect:
			return stripped, true, true
		}
	}
	return "", false, false
}

type connState struct {
	serverURL    string
	sessionID    string
	connectionID string
}

// Handler services mcp/connect, mcp/message, and mcp/disconnect (§4.2).
// Dispatch is called both from the router's task and from the HTTP bridge's
// request handlers, possibly at the same time; the connections map is
// guarded by mu, and the underlying Registry has its own lock.
type Handler struct {
	registry *Registry

	mu          sync.Mutex
	connections map[string]*connState
}

// NewHandler creates a Handler backed by registry.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry, connections: make(map[string]*connState)}
}

// Dispatch handles one control-channel method call. The returned RPCError,
// if non-nil, is the complete error to send back (for mcp/disconnect,
// which is always a notification, both return values are meaningless and
// ignored by the caller).
func (h *Handler) Dispatch(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, *acp.RPCError) {
	canonical, wasUnderscoreForm, ok := splitControlMethod(method)
	if !ok {
		return nil, &acp.RPCError{Code: -32601, Message: "method not found"}
	}
	if wasUnderscoreForm {
		return nil, &acp.RPCError{Code: -32600, Message: fmt.Sprintf("malformed method %q: the conductor requires the canonical %q form", method, canonical)}
	}

	switch canonical {
	case MethodConnect:
		return h.handleConnect(params)
	case MethodMessage:
		return h.handleMessage(ctx, params)
	case MethodDisconnect:
		h.handleDisconnect(params)
		return nil, nil
	default:
		return nil, &acp.RPCError{Code: -32601, Message: "method not found"}
	}
}

type connectParams struct {
	ConnectionID string `json:"connectionId,omitempty"`
	ACPURL       string `json:"acp_url,omitempty"`
	URL          string `json:"url,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
}

type connectResult struct {
	ConnectionID string        `json:"connectionId"`
	ServerInfo   serverInfo    `json:"serverInfo"`
	Capabilities capabilities  `json:"capabilities"`
	Tools        []toolDefJSON `json:"tools"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type capabilities struct {
	Tools json.RawMessage `json:"tools"`
}

func (h *Handler) handleConnect(raw json.RawMessage) (json.RawMessage, *acp.RPCError) {
	var p connectParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &acp.RPCError{Code: -32602, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	url := p.ACPURL
	if url == "" {
		url = p.URL
	}
	server, ok := h.registry.Lookup(url)
	if !ok {
		return nil, &acp.RPCError{Code: -32001, Message: "No MCP server registered for URL"}
	}

	connID := p.ConnectionID
	if connID == "" {
		connID = uuid.NewString()
	}

	h.mu.Lock()
	h.connections[connID] = &connState{serverURL: url, sessionID: p.SessionID, connectionID: connID}
	h.mu.Unlock()

	result := connectResult{
		ConnectionID: connID,
		ServerInfo:   serverInfo{Name: server.Name, Version: server.Version},
		Capabilities: capabilities{Tools: json.RawMessage("{}")},
		Tools:        server.toolDefsJSON(),
	}
	out, err := json.Marshal(result)
	if err != nil {
		return nil, &acp.RPCError{Code: -32603, Message: err.Error()}
	}
	return out, nil
}

type messageParams struct {
	ConnectionID string          `json:"connectionId"`
	Method       string          `json:"method"`
	Params       json.RawMessage `json:"params,omitempty"`
}

func (h *Handler) handleMessage(ctx context.Context, raw json.RawMessage) (json.RawMessage, *acp.RPCError) {
	var p messageParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &acp.RPCError{Code: -32602, Message: fmt.Sprintf("invalid params: %v", err)}
	}

	h.mu.Lock()
	cs, ok := h.connections[p.ConnectionID]
	h.mu.Unlock()
	if !ok {
		return nil, &acp.RPCError{Code: -32600, Message: "Unknown connection"}
	}

	server, ok := h.registry.Lookup(cs.serverURL)
	if !ok {
		return nil, &acp.RPCError{Code: -32001, Message: "No MCP server registered for URL"}
	}

	return h.handleServerMethod(ctx, server, cs, p.Method, p.Params)
}

func (h *Handler) handleDisconnect(raw json.RawMessage) {
	var p struct {
		ConnectionID string `json:"connectionId"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	h.mu.Lock()
	delete(h.connections, p.ConnectionID)
	h.mu.Unlock()
}

type initializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    capabilities `json:"capabilities"`
	ServerInfo      serverInfo   `json:"serverInfo"`
}

type toolsListResult struct {
	Tools []toolDefJSON `json:"tools"`
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolsCallResult struct {
	Content []textContent `json:"content"`
}

// handleServerMethod is the ToolServer's own method dispatch (§4.2
// "server.handleMethod MUST itself dispatch").
func (h *Handler) handleServerMethod(ctx context.Context, server *ToolServer, cs *connState, method string, params json.RawMessage) (json.RawMessage, *acp.RPCError) {
	switch method {
	case "initialize":
		out, err := json.Marshal(initializeResult{
			ProtocolVersion: "2024-11-05",
			Capabilities:    capabilities{Tools: json.RawMessage("{}")},
			ServerInfo:      serverInfo{Name: server.Name, Version: server.Version},
		})
		if err != nil {
			return nil, &acp.RPCError{Code: -32603, Message: err.Error()}
		}
		return out, nil

	case "tools/list":
		out, err := json.Marshal(toolsListResult{Tools: server.toolDefsJSON()})
		if err != nil {
			return nil, &acp.RPCError{Code: -32603, Message: err.Error()}
		}
		return out, nil

	case "tools/call":
		var p toolsCallParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &acp.RPCError{Code: -32602, Message: fmt.Sprintf("invalid params: %v", err)}
		}
		tool, ok := server.tool(p.Name)
		if !ok {
			return nil, &acp.RPCError{Code: -32601, Message: fmt.Sprintf("unknown tool %q", p.Name)}
		}
		invokeCtx := withConnContext(ctx, cs.sessionID, cs.connectionID)
		result, err := tool.Invoke(invokeCtx, p.Arguments)
		if err != nil {
			return nil, &acp.RPCError{Code: -32603, Message: err.Error()}
		}
		out, err := json.Marshal(toolsCallResult{Content: []textContent{{Type: "text", Text: string(result)}}})
		if err != nil {
			return nil, &acp.RPCError{Code: -32603, Message: err.Error()}
		}
		return out, nil

	default:
		return nil, &acp.RPCError{Code: -32601, Message: "method not found"}
	}
}
