package httpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/acpconductor/conductor/internal/domain/mcpbridge"
	"github.com/acpconductor/conductor/pkg/acp"
)

// Listener is a BridgeListener (§3): one per session, fronting every
// acp: tool server the session's mcpServers list referenced. It never
// accepts an HTTP request before sessionID has been published.
type Listener struct {
	bridge  *Bridge
	acpURLs []string
	ln      net.Listener
	srv     *http.Server

	mu         sync.Mutex
	sessionID  string
	sessionSet chan struct{}
	closed     chan struct{}

	connsOnce sync.Once
	connErr   *acp.RPCError
	conn      *mergedConnection // lazily established on the first HTTP POST
}

func newListener(b *Bridge, acpURLs []string) (*Listener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(b.bindAddr, "0"))
	if err != nil {
		return nil, fmt.Errorf("httpbridge: binding listener: %w", err)
	}
	return &Listener{
		bridge:     b,
		acpURLs:    acpURLs,
		ln:         ln,
		sessionSet: make(chan struct{}),
		closed:     make(chan struct{}),
	}, nil
}

func (l *Listener) httpURL() string {
	return fmt.Sprintf("http://%s", l.ln.Addr().String())
}

func (l *Listener) publishSessionID(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.sessionSet:
		return // already published; publication happens at most once
	default:
	}
	l.sessionID = sessionID
	close(l.sessionSet)
}

// Close stops accepting connections and unblocks any HTTP handler parked
// waiting for sessionID publication.
func (l *Listener) Close() error {
	l.mu.Lock()
	select {
	case <-l.closed:
		l.mu.Unlock()
		return nil
	default:
		close(l.closed)
	}
	l.mu.Unlock()

	if l.conn != nil {
		l.conn.disconnectAll(l.bridge.handler)
	}

	if l.srv != nil {
		return l.srv.Close()
	}
	return l.ln.Close()
}

func (l *Listener) serve() {
	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handle)
	l.srv = &http.Server{Handler: mux}
	_ = l.srv.Serve(l.ln)
}

func (l *Listener) handle(w http.ResponseWriter, r *http.Request) {
	if l.bridge.OnResponse != nil {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() { l.bridge.OnResponse(sw.status) }()
		w = sw
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	select {
	case <-l.sessionSet:
	case <-l.closed:
		http.Error(w, "bridge shutting down", http.StatusServiceUnavailable)
		return
	case <-r.Context().Done():
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}
	frame, err := acp.Decode(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON-RPC message: %v", err), http.StatusBadRequest)
		return
	}

	conn, rpcErr := l.ensureConnected(r.Context())
	if rpcErr != nil {
		http.Error(w, rpcErr.Message, http.StatusBadGateway)
		return
	}

	switch {
	case frame.IsRequest():
		result, rpcErr := conn.call(r.Context(), l.bridge.handler, frame.Method, frame.Params)
		var respBytes []byte
		if rpcErr != nil {
			respBytes, err = acp.EncodeResponseError(frame.ID, rpcErr)
		} else {
			respBytes, err = acp.EncodeResponseResult(frame.ID, result)
		}
		if err != nil {
			http.Error(w, "encoding response", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(respBytes)

	case frame.IsNotification():
		conn.notify(r.Context(), l.bridge.handler, frame.Method, frame.Params)
		w.WriteHeader(http.StatusAccepted)

	default:
		http.Error(w, "expected a request or notification", http.StatusBadRequest)
	}
}

// ensureConnected lazily opens one mcp/connect per underlying acp: URL on
// the first HTTP message, per §4.3 ("if this is the first message on this
// socket, synthesize a mcp/connect").
func (l *Listener) ensureConnected(ctx context.Context) (*mergedConnection, *acp.RPCError) {
	l.connsOnce.Do(func() {
		l.conn, l.connErr = newMergedConnection(ctx, l.bridge.handler, l.acpURLs, l.sessionID, l.bridge.log)
	})
	return l.conn, l.connErr
}

// underlyingConn is one acp: tool server's connection, opened via
// mcp/connect against the control handler.
type underlyingConn struct {
	acpURL       string
	connectionID string
	toolNames    []string
}

// mergedConnection aggregates every underlying tool server a session's
// mcpServers list named into one merged MCP surface (§SUPPLEMENTAL "multiple
// tool servers per bridge listener"): one tools/list, one tools/call
// dispatch table, duplicate tool names resolved first-registered-wins.
type mergedConnection struct {
	underlying []*underlyingConn
	toolOwner  map[string]*underlyingConn // tool name -> owning connection, first registration wins
}

func newMergedConnection(ctx context.Context, d Dispatcher, acpURLs []string, sessionID string, log *slog.Logger) (*mergedConnection, *acp.RPCError) {
	mc := &mergedConnection{toolOwner: make(map[string]*underlyingConn)}
	for _, url := range acpURLs {
		params, _ := json.Marshal(struct {
			ACPURL    string `json:"acp_url"`
			SessionID string `json:"sessionId,omitempty"`
		}{ACPURL: url, SessionID: sessionID})

		result, rpcErr := d.Dispatch(ctx, mcpbridge.MethodConnect, params)
		if rpcErr != nil {
			return nil, rpcErr
		}
		var parsed struct {
			ConnectionID string `json:"connectionId"`
			Tools        []struct {
				Name string `json:"name"`
			} `json:"tools"`
		}
		if err := json.Unmarshal(result, &parsed); err != nil {
			return nil, &acp.RPCError{Code: -32603, Message: err.Error()}
		}

		uc := &underlyingConn{acpURL: url, connectionID: parsed.ConnectionID}
		for _, t := range parsed.Tools {
			uc.toolNames = append(uc.toolNames, t.Name)
			if _, taken := mc.toolOwner[t.Name]; !taken {
				mc.toolOwner[t.Name] = uc
			} else {
				// A later tool server registered the same name; the first
				// registration wins for routing and the conflict is logged.
				log.Warn("httpbridge: tool name shadowed by an earlier tool server", "tool", t.Name, "acp_url", url)
			}
		}
		mc.underlying = append(mc.underlying, uc)
	}
	return mc, nil
}

func (mc *mergedConnection) call(ctx context.Context, d Dispatcher, method string, params json.RawMessage) (json.RawMessage, *acp.RPCError) {
	switch method {
	case "initialize":
		return d.Dispatch(ctx, mcpbridge.MethodMessage, mustMarshalMessage(mc.underlying[0].connectionID, method, params))

	case "tools/list":
		return mc.mergedToolsList(ctx, d)

	case "tools/call":
		var p struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &acp.RPCError{Code: -32602, Message: fmt.Sprintf("invalid params: %v", err)}
		}
		owner, ok := mc.toolOwner[p.Name]
		if !ok {
			return nil, &acp.RPCError{Code: -32601, Message: fmt.Sprintf("unknown tool %q", p.Name)}
		}
		return d.Dispatch(ctx, mcpbridge.MethodMessage, mustMarshalMessage(owner.connectionID, method, params))

	default:
		if len(mc.underlying) == 0 {
			return nil, &acp.RPCError{Code: -32601, Message: "method not found"}
		}
		return d.Dispatch(ctx, mcpbridge.MethodMessage, mustMarshalMessage(mc.underlying[0].connectionID, method, params))
	}
}

// disconnectAll emits mcp/disconnect for every underlying connection. It is
// called only from Listener.Close; the close of an individual HTTP socket
// emits no mcp/disconnect.
func (mc *mergedConnection) disconnectAll(d Dispatcher) {
	for _, uc := range mc.underlying {
		params, _ := json.Marshal(struct {
			ConnectionID string `json:"connectionId"`
		}{ConnectionID: uc.connectionID})
		_, _ = d.Dispatch(context.Background(), mcpbridge.MethodDisconnect, params)
	}
}

func (mc *mergedConnection) notify(ctx context.Context, d Dispatcher, method string, params json.RawMessage) {
	if len(mc.underlying) == 0 {
		return
	}
	_, _ = d.Dispatch(ctx, mcpbridge.MethodMessage, mustMarshalMessage(mc.underlying[0].connectionID, method, params))
}

func (mc *mergedConnection) mergedToolsList(ctx context.Context, d Dispatcher) (json.RawMessage, *acp.RPCError) {
	var tools []json.RawMessage
	seen := make(map[string]bool)
	for _, uc := range mc.underlying {
		result, rpcErr := d.Dispatch(ctx, mcpbridge.MethodMessage, mustMarshalMessage(uc.connectionID, "tools/list", nil))
		if rpcErr != nil {
			return nil, rpcErr
		}
		var parsed struct {
			Tools []json.RawMessage `json:"tools"`
		}
		if err := json.Unmarshal(result, &parsed); err != nil {
			return nil, &acp.RPCError{Code: -32603, Message: err.Error()}
		}
		for _, t := range parsed.Tools {
			var named struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(t, &named); err != nil {
				continue
			}
			if mc.toolOwner[named.Name] != uc || seen[named.Name] {
				continue // shadowed by an earlier-registered tool server
			}
			seen[named.Name] = true
			tools = append(tools, t)
		}
	}
	out, err := json.Marshal(struct {
		Tools []json.RawMessage `json:"tools"`
	}{Tools: tools})
	if err != nil {
		return nil, &acp.RPCError{Code: -32603, Message: err.Error()}
	}
	return out, nil
}

// statusWriter records the status code written so the bridge can report it
// to Bridge.OnResponse after the handler returns.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func mustMarshalMessage(connectionID, method string, params json.RawMessage) json.RawMessage {
	out, _ := json.Marshal(struct {
		ConnectionID string          `json:"connectionId"`
		Method       string          `json:"method"`
		Params       json.RawMessage `json:"params,omitempty"`
	}{ConnectionID: connectionID, Method: method, Params: params})
	return out
}
