package mcpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func echoTool() ToolDef {
	return ToolDef{
		Name:        "echo",
		Description: "echoes its input",
		Invoke: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return input, nil
		},
	}
}

func failingTool() ToolDef {
	return ToolDef{
		Name: "boom",
		Invoke: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("kaboom")
		},
	}
}

func newTestHandler(t *testing.T) (*Handler, *Registry) {
	t.Helper()
	reg := NewRegistry()
	if err := reg.Register(&ToolServer{
		ACPURL:  "acp:test-server",
		Name:    "test-server",
		Version: "1.0.0",
		Tools:   []ToolDef{echoTool(), failingTool()},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return NewHandler(reg), reg
}

func TestIsControlMethod(t *testing.T) {
	cases := map[string]bool{
		"mcp/connect":     true,
		"mcp/message":     true,
		"mcp/disconnect":  true,
		"_mcp/connect":    true,
		"_mcp/message":    true,
		"_mcp/disconnect": true,
		"session/new":     false,
		"mcp/foo":         false,
	}
	for method, want := range cases {
		if got := IsControlMethod(method); got != want {
			t.Errorf("IsControlMethod(%q) = %v, want %v", method, got, want)
		}
	}
}

func TestDispatchRejectsUnderscoreForm(t *testing.T) {
	h, _ := newTestHandler(t)
	_, rpcErr := h.Dispatch(context.Background(), "_mcp/connect", json.RawMessage(`{"acp_url":"acp:test-server"}`))
	if rpcErr == nil {
		t.Fatal("expected an error for the underscore-prefixed form")
	}
	if rpcErr.Code != -32600 {
		t.Errorf("code = %d, want -32600", rpcErr.Code)
	}
}

func TestConnectUnknownURL(t *testing.T) {
	h, _ := newTestHandler(t)
	_, rpcErr := h.Dispatch(context.Background(), MethodConnect, json.RawMessage(`{"acp_url":"acp:nope"}`))
	if rpcErr == nil {
		t.Fatal("expected an error for an unregistered URL")
	}
	if rpcErr.Message != "No MCP server registered for URL" {
		t.Errorf("message = %q", rpcErr.Message)
	}
}

func TestConnectListCallDisconnect(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	raw, rpcErr := h.Dispatch(ctx, MethodConnect, json.RawMessage(`{"acp_url":"acp:test-server"}`))
	if rpcErr != nil {
		t.Fatalf("connect: %v", rpcErr)
	}
	var connected connectResult
	if err := json.Unmarshal(raw, &connected); err != nil {
		t.Fatalf("unmarshal connect result: %v", err)
	}
	if connected.ConnectionID == "" {
		t.Fatal("expected a non-empty connectionId")
	}
	if len(connected.Tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(connected.Tools))
	}

	listParams, err := json.Marshal(messageParams{ConnectionID: connected.ConnectionID, Method: "tools/list"})
	if err != nil {
		t.Fatal(err)
	}
	raw, rpcErr = h.Dispatch(ctx, MethodMessage, listParams)
	if rpcErr != nil {
		t.Fatalf("tools/list: %v", rpcErr)
	}
	var list toolsListResult
	if err := json.Unmarshal(raw, &list); err != nil {
		t.Fatalf("unmarshal tools/list result: %v", err)
	}
	if len(list.Tools) != 2 {
		t.Fatalf("expected 2 tools listed, got %d", len(list.Tools))
	}

	callParams, err := json.Marshal(toolsCallParams{Name: "echo", Arguments: json.RawMessage(`{"x":1}`)})
	if err != nil {
		t.Fatal(err)
	}
	msgParams, err := json.Marshal(messageParams{ConnectionID: connected.ConnectionID, Method: "tools/call", Params: callParams})
	if err != nil {
		t.Fatal(err)
	}
	raw, rpcErr = h.Dispatch(ctx, MethodMessage, msgParams)
	if rpcErr != nil {
		t.Fatalf("tools/call: %v", rpcErr)
	}
	var callResult toolsCallResult
	if err := json.Unmarshal(raw, &callResult); err != nil {
		t.Fatalf("unmarshal tools/call result: %v", err)
	}
	if len(callResult.Content) != 1 || callResult.Content[0].Text != `{"x":1}` {
		t.Errorf("unexpected tools/call content: %+v", callResult.Content)
	}

	disconnectParams, err := json.Marshal(struct {
		ConnectionID string `json:"connectionId"`
	}{ConnectionID: connected.ConnectionID})
	if err != nil {
		t.Fatal(err)
	}
	if _, rpcErr := h.Dispatch(ctx, MethodDisconnect, disconnectParams); rpcErr != nil {
		t.Fatalf("disconnect: %v", rpcErr)
	}

	if _, rpcErr := h.Dispatch(ctx, MethodMessage, msgParams); rpcErr == nil {
		t.Fatal("expected an error using a connection after disconnect")
	}
}

func TestToolCallUnknownTool(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	raw, rpcErr := h.Dispatch(ctx, MethodConnect, json.RawMessage(`{"acp_url":"acp:test-server"}`))
	if rpcErr != nil {
		t.Fatalf("connect: %v", rpcErr)
	}
	var connected connectResult
	if err := json.Unmarshal(raw, &connected); err != nil {
		t.Fatal(err)
	}

	callParams, _ := json.Marshal(toolsCallParams{Name: "nonexistent"})
	msgParams, _ := json.Marshal(messageParams{ConnectionID: connected.ConnectionID, Method: "tools/call", Params: callParams})
	if _, rpcErr := h.Dispatch(ctx, MethodMessage, msgParams); rpcErr == nil || rpcErr.Code != -32601 {
		t.Fatalf("expected -32601 for an unknown tool, got %+v", rpcErr)
	}
}

func TestToolCallInvokeError(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	raw, rpcErr := h.Dispatch(ctx, MethodConnect, json.RawMessage(`{"acp_url":"acp:test-server"}`))
	if rpcErr != nil {
		t.Fatalf("connect: %v", rpcErr)
	}
	var connected connectResult
	if err := json.Unmarshal(raw, &connected); err != nil {
		t.Fatal(err)
	}

	callParams, _ := json.Marshal(toolsCallParams{Name: "boom"})
	msgParams, _ := json.Marshal(messageParams{ConnectionID: connected.ConnectionID, Method: "tools/call", Params: callParams})
	if _, rpcErr := h.Dispatch(ctx, MethodMessage, msgParams); rpcErr == nil || rpcErr.Code != -32603 {
		t.Fatalf("expected -32603 for a failing tool invocation, got %+v", rpcErr)
	}
}

func TestMessageUnknownConnection(t *testing.T) {
	h, _ := newTestHandler(t)
	msgParams, _ := json.Marshal(messageParams{ConnectionID: "no-such-connection", Method: "tools/list"})
	if _, rpcErr := h.Dispatch(context.Background(), MethodMessage, msgParams); rpcErr == nil {
		t.Fatal("expected an error for an unknown connection")
	}
}

func TestSessionAndConnectionIDPropagateToInvoke(t *testing.T) {
	reg := NewRegistry()
	var gotSession, gotConn string
	if err := reg.Register(&ToolServer{
		ACPURL:  "acp:ctx-server",
		Name:    "ctx-server",
		Version: "1.0.0",
		Tools: []ToolDef{{
			Name: "whoami",
			Invoke: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
				gotSession = ContextSessionID(ctx)
				gotConn = ContextConnectionID(ctx)
				return json.RawMessage(`{}`), nil
			},
		}},
	}); err != nil {
		t.Fatal(err)
	}
	h := NewHandler(reg)
	ctx := context.Background()

	connectParams, _ := json.Marshal(connectParams{ACPURL: "acp:ctx-server", SessionID: "sess-1"})
	raw, rpcErr := h.Dispatch(ctx, MethodConnect, connectParams)
	if rpcErr != nil {
		t.Fatalf("connect: %v", rpcErr)
	}
	var connected connectResult
	if err := json.Unmarshal(raw, &connected); err != nil {
		t.Fatal(err)
	}

	callParams, _ := json.Marshal(toolsCallParams{Name: "whoami"})
	msgParams, _ := json.Marshal(messageParams{ConnectionID: connected.ConnectionID, Method: "tools/call", Params: callParams})
	if _, rpcErr := h.Dispatch(ctx, MethodMessage, msgParams); rpcErr != nil {
		t.Fatalf("tools/call: %v", rpcErr)
	}

	if gotSession != "sess-1" {
		t.Errorf("sessionID = %q, want sess-1", gotSession)
	}
	if gotConn != connected.ConnectionID {
		t.Errorf("connectionID = %q, want %q", gotConn, connected.ConnectionID)
	}
}
