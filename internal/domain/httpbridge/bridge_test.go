package httpbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/acpconductor/conductor/internal/domain/mcpbridge"
)

func newTestBridge(t *testing.T) (*Bridge, *mcpbridge.Registry) {
	t.Helper()
	reg := mcpbridge.NewRegistry()
	handler := mcpbridge.NewHandler(reg)
	b := New("127.0.0.1", handler, nil)
	t.Cleanup(func() { _ = b.Close() })
	return b, reg
}

func TestRewriteSessionNewNoACPServers(t *testing.T) {
	t.Parallel()
	b, _ := newTestBridge(t)

	params := json.RawMessage(`{"mcpServers":[{"name":"x","url":"https://example.com"}]}`)
	rewritten, key, err := b.RewriteSessionNew(params)
	if err != nil {
		t.Fatalf("RewriteSessionNew: %v", err)
	}
	if key != "" {
		t.Errorf("sessionKey = %q, want empty when no acp: urls present", key)
	}
	if string(rewritten) != string(params) {
		t.Errorf("rewritten = %s, want unchanged", rewritten)
	}
}

func TestRewriteSessionNewRewritesACPURL(t *testing.T) {
	t.Parallel()
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("net/http.(*Server).Serve"))

	b, reg := newTestBridge(t)
	_ = reg.Register(&mcpbridge.ToolServer{ACPURL: "acp:u1", Name: "s", Version: "1.0"})

	params := json.RawMessage(`{"mcpServers":[{"name":"s","url":"acp:u1"}]}`)
	rewritten, key, err := b.RewriteSessionNew(params)
	if err != nil {
		t.Fatalf("RewriteSessionNew: %v", err)
	}
	if key == "" {
		t.Fatal("expected a non-empty sessionKey")
	}

	var parsed struct {
		MCPServers []mcpServerEntry `json:"mcpServers"`
	}
	if err := json.Unmarshal(rewritten, &parsed); err != nil {
		t.Fatalf("unmarshal rewritten params: %v", err)
	}
	if len(parsed.MCPServers) != 1 {
		t.Fatalf("len(mcpServers) = %d, want 1", len(parsed.MCPServers))
	}
	if !strings.HasPrefix(parsed.MCPServers[0].URL, "http://127.0.0.1:") {
		t.Errorf("rewritten url = %q, want http://127.0.0.1:<port>", parsed.MCPServers[0].URL)
	}
	if parsed.MCPServers[0].Type != "http" {
		t.Errorf("type = %q, want http", parsed.MCPServers[0].Type)
	}

	httpURL := parsed.MCPServers[0].URL

	// Before publication, an HTTP POST must park rather than fail.
	done := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Post(httpURL, "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
		if err != nil {
			done <- nil
			return
		}
		done <- resp
	}()

	select {
	case <-done:
		t.Fatal("HTTP request completed before sessionId publication")
	case <-time.After(100 * time.Millisecond):
	}

	b.PublishSessionID(key, json.RawMessage(`{"sessionId":"sess-A"}`))

	select {
	case resp := <-done:
		if resp == nil {
			t.Fatal("request failed")
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete after sessionId publication")
	}
}

func TestBridgeCloseStopsPublishedListeners(t *testing.T) {
	t.Parallel()
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("net/http.(*Server).Serve"))

	reg := mcpbridge.NewRegistry()
	handler := mcpbridge.NewHandler(reg)
	_ = reg.Register(&mcpbridge.ToolServer{ACPURL: "acp:u4", Name: "s", Version: "1.0"})
	b := New("127.0.0.1", handler, nil)

	params := json.RawMessage(`{"mcpServers":[{"name":"s","url":"acp:u4"}]}`)
	rewritten, key, err := b.RewriteSessionNew(params)
	if err != nil {
		t.Fatalf("RewriteSessionNew: %v", err)
	}

	// Publication removes the session from Bridge.sessions; Close must still
	// reach this listener through the persistent listener list.
	b.PublishSessionID(key, json.RawMessage(`{"sessionId":"sess-D"}`))

	var parsed struct {
		MCPServers []mcpServerEntry `json:"mcpServers"`
	}
	_ = json.Unmarshal(rewritten, &parsed)
	httpURL := parsed.MCPServers[0].URL

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := http.Get(httpURL); err == nil {
		t.Fatal("expected the listener to be unreachable after Close")
	}
}

func TestBridgeOPTIONSPreflight(t *testing.T) {
	t.Parallel()
	b, reg := newTestBridge(t)
	_ = reg.Register(&mcpbridge.ToolServer{ACPURL: "acp:u2", Name: "s", Version: "1.0"})

	params := json.RawMessage(`{"mcpServers":[{"name":"s","url":"acp:u2"}]}`)
	rewritten, key, err := b.RewriteSessionNew(params)
	if err != nil {
		t.Fatalf("RewriteSessionNew: %v", err)
	}
	b.PublishSessionID(key, json.RawMessage(`{"sessionId":"sess-B"}`))

	var parsed struct {
		MCPServers []mcpServerEntry `json:"mcpServers"`
	}
	_ = json.Unmarshal(rewritten, &parsed)

	req, _ := http.NewRequest(http.MethodOptions, parsed.MCPServers[0].URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS request: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS header")
	}
}

func TestBridgeToolsCallThroughHTTP(t *testing.T) {
	t.Parallel()
	reg := mcpbridge.NewRegistry()
	handler := mcpbridge.NewHandler(reg)
	_ = reg.Register(&mcpbridge.ToolServer{
		ACPURL:  "acp:u3",
		Name:    "s",
		Version: "1.0",
		Tools: []mcpbridge.ToolDef{{
			Name: "echo",
			Invoke: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
				return input, nil
			},
		}},
	})
	b := New("127.0.0.1", handler, nil)
	defer b.Close()

	params := json.RawMessage(`{"mcpServers":[{"name":"s","url":"acp:u3"}]}`)
	rewritten, key, err := b.RewriteSessionNew(params)
	if err != nil {
		t.Fatalf("RewriteSessionNew: %v", err)
	}
	b.PublishSessionID(key, json.RawMessage(`{"sessionId":"sess-C"}`))

	var parsed struct {
		MCPServers []mcpServerEntry `json:"mcpServers"`
	}
	_ = json.Unmarshal(rewritten, &parsed)

	body := `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"echo","arguments":{"k":"v"}}}`
	resp, err := http.Post(parsed.MCPServers[0].URL, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out struct {
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out.Result.Content) != 1 || out.Result.Content[0].Text != `{"k":"v"}` {
		t.Errorf("content = %+v, want echoed arguments", out.Result.Content)
	}
}
