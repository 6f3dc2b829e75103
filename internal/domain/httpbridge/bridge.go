// Package httpbridge implements the MCP HTTP bridge (§4.3/§4.4): it makes
// every acp: tool-server URL invisible to the agent by binding an ephemeral
// local HTTP listener per session and translating the agent's ordinary
// MCP-over-HTTP traffic into calls against the in-process control-channel
// handler (internal/domain/mcpbridge).
package httpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/acpconductor/conductor/pkg/acp"
)

// Dispatcher is the subset of *mcpbridge.Handler the bridge depends on. A
// narrow interface rather than the concrete type so bridge tests can fake
// the control handler without standing up a real Registry.
type Dispatcher interface {
	Dispatch(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, *acp.RPCError)
}

// Bridge owns every BridgeListener the conductor has created and the
// sessionKey -> pending-listeners registry (§4.4). One Bridge is created per
// conductor run.
type Bridge struct {
	bindAddr string
	handler  Dispatcher
	log      *slog.Logger

	// OnResponse, if set, is called once per HTTP response the bridge
	// returns to an agent, with the status code it sent. Used by the
	// metrics server to count bridge traffic; nil means no observer.
	OnResponse func(status int)

	mu        sync.Mutex
	sessions  map[string]*pendingSession // sessionKey -> not-yet-published listeners
	listeners []*Listener                // every listener ever created, for Close
	closed    bool
}

type pendingSession struct {
	listeners []*Listener
}

// mcpServerEntry mirrors the shape session/new accepts inside mcpServers
// (§6 "MCP server config shape").
type mcpServerEntry struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}

// New creates a Bridge whose listeners bind to bindAddr (typically
// "127.0.0.1"). handler services the mcp/connect, mcp/message, and
// mcp/disconnect calls the bridge synthesizes on the control channel.
func New(bindAddr string, handler Dispatcher, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		bindAddr: bindAddr,
		handler:  handler,
		log:      log,
		sessions: make(map[string]*pendingSession),
	}
}

// RewriteSessionNew implements router.Hooks.RewriteSessionNew: it rewrites
// every acp: URL in params.mcpServers to an http://127.0.0.1:<port> URL
// bound for this session, and returns a sessionKey the router threads
// through to PublishSessionID once the agent's session/new response arrives.
//
// §SUPPLEMENTAL "multiple tool servers per bridge listener": every acp: URL
// in one session/new shares a single BridgeListener (and therefore a single
// HTTP port), not one listener per URL, so the agent's one MCP-over-HTTP
// client sees one merged tool namespace.
func (b *Bridge) RewriteSessionNew(params json.RawMessage) (json.RawMessage, string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(params, &raw); err != nil {
		return nil, "", fmt.Errorf("httpbridge: session/new params: %w", err)
	}
	rawServers, ok := raw["mcpServers"]
	if !ok {
		return params, "", nil
	}
	var servers []mcpServerEntry
	if err := json.Unmarshal(rawServers, &servers); err != nil {
		return nil, "", fmt.Errorf("httpbridge: mcpServers: %w", err)
	}

	var acpURLs []string
	for _, s := range servers {
		if strings.HasPrefix(s.URL, "acp:") {
			acpURLs = append(acpURLs, s.URL)
		}
	}
	if len(acpURLs) == 0 {
		return params, "", nil
	}

	listener, err := newListener(b, acpURLs)
	if err != nil {
		return nil, "", err
	}

	httpURL := listener.httpURL()
	for i, s := range servers {
		if strings.HasPrefix(s.URL, "acp:") {
			servers[i].URL = httpURL
			servers[i].Type = "http"
		}
	}

	sessionKey := uuid.NewString()
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = listener.Close()
		return nil, "", fmt.Errorf("httpbridge: bridge is shutting down")
	}
	b.sessions[sessionKey] = &pendingSession{listeners: []*Listener{listener}}
	b.listeners = append(b.listeners, listener)
	b.mu.Unlock()

	newServersJSON, err := json.Marshal(servers)
	if err != nil {
		return nil, "", err
	}
	raw["mcpServers"] = newServersJSON
	rewritten, err := json.Marshal(raw)
	if err != nil {
		return nil, "", err
	}

	go listener.serve()

	b.log.Info("httpbridge: listener bound", "session_key", sessionKey, "addr", listener.ln.Addr().String(), "tool_servers", len(acpURLs))

	return rewritten, sessionKey, nil
}

// PublishSessionID implements router.Hooks.PublishSessionID: once the
// agent's session/new response is observed, every listener parked under
// sessionKey learns its sessionId and starts accepting HTTP requests.
func (b *Bridge) PublishSessionID(sessionKey string, result json.RawMessage) {
	b.mu.Lock()
	sess, ok := b.sessions[sessionKey]
	delete(b.sessions, sessionKey)
	b.mu.Unlock()
	if !ok {
		return
	}

	var parsed struct {
		SessionID string `json:"sessionId"`
	}
	_ = json.Unmarshal(result, &parsed)

	for _, l := range sess.listeners {
		l.publishSessionID(parsed.SessionID)
	}
}

// Close tears down every listener the bridge has ever created, published or
// still pending, and rejects any RewriteSessionNew call still in flight. It
// closes from b.listeners rather than b.sessions: PublishSessionID removes a
// session from b.sessions the moment it publishes, so by the time Close runs
// every listener actually in active use has already been dropped from
// b.sessions, and only b.listeners still has a reference to them.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.closed = true
	b.sessions = make(map[string]*pendingSession)
	listeners := b.listeners
	b.mu.Unlock()

	for _, l := range listeners {
		_ = l.Close()
	}
	return nil
}
