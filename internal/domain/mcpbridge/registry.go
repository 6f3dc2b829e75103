package mcpbridge

import (
	"fmt"
	"sync"
)

// Registry maps acp: URLs to the ToolServer registered under them.
// Registration typically happens once at startup, before any session/new
// referencing the URL is forwarded, but lookups happen from the router's
// task while mcp/connect is handled — so unlike most of the conductor's
// state, this one is guarded by a mutex rather than owned by a single task.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*ToolServer
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{servers: make(map[string]*ToolServer)}
}

// Register adds or replaces the ToolServer at its ACPURL.
func (r *Registry) Register(s *ToolServer) error {
	if s.ACPURL == "" {
		return fmt.Errorf("mcpbridge: ToolServer must have a non-empty ACPURL")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[s.ACPURL] = s
	return nil
}

// Unregister removes the ToolServer at url, if any.
func (r *Registry) Unregister(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.servers, url)
}

// Lookup returns the ToolServer registered at url.
func (r *Registry) Lookup(url string) (*ToolServer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servers[url]
	return s, ok
}
