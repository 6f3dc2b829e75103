// Package pipeline holds the conductor's ordered component list and the
// per-hop bookkeeping (pending requests, id allocation) the router needs to
// rewrite ids and correlate responses across hops. It has no knowledge of
// transport (see internal/port/connector) or of the JSON-RPC payloads beyond
// the handful of fields the router inspects (see pkg/acp).
package pipeline

// Role identifies a component's position in the pipeline.
type Role int

const (
	// RoleClient is the pipeline's first, client-facing component.
	RoleClient Role = iota
	// RoleProxy is an interior component between the client and the agent.
	RoleProxy
	// RoleAgent is the pipeline's last component.
	RoleAgent
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleProxy:
		return "proxy"
	case RoleAgent:
		return "agent"
	default:
		return "unknown"
	}
}

// Component is one named position in the pipeline. Index 0 is always the
// client; the last index is always the agent; everything in between is a
// proxy. The pipeline is fixed for the conductor's lifetime (§3 Pipeline).
type Component struct {
	Name string
	Role Role
}

// Pipeline is the ordered, non-empty sequence of components the conductor
// routes between: [client, proxy_0, ..., proxy_n-1, agent].
type Pipeline struct {
	Components []Component
}

// New builds a Pipeline from a list of proxy names (possibly empty). The
// client and agent endpoints are implicit: index 0 and the last index.
func New(proxyNames []string) *Pipeline {
	components := make([]Component, 0, len(proxyNames)+2)
	components = append(components, Component{Name: "client", Role: RoleClient})
	for _, name := range proxyNames {
		components = append(components, Component{Name: name, Role: RoleProxy})
	}
	components = append(components, Component{Name: "agent", Role: RoleAgent})
	return &Pipeline{Components: components}
}

// HasProxies reports whether the pipeline has at least one interior proxy.
func (p *Pipeline) HasProxies() bool {
	return len(p.Components) > 2
}

// ProxyCount returns the number of interior proxies (0 for a direct
// client-agent pipeline).
func (p *Pipeline) ProxyCount() int {
	return len(p.Components) - 2
}

// AgentIndex returns the index of the terminal agent component.
func (p *Pipeline) AgentIndex() int {
	return len(p.Components) - 1
}

// Next returns the component immediately after index i in the forward
// (client->agent) direction, and whether one exists.
func (p *Pipeline) Next(i int) (Component, bool) {
	if i+1 >= len(p.Components) {
		return Component{}, false
	}
	return p.Components[i+1], true
}

// Prev returns the component immediately before index i in the forward
// direction — i.e. the next hop in the backward (agent->client) direction.
func (p *Pipeline) Prev(i int) (Component, bool) {
	if i-1 < 0 {
		return Component{}, false
	}
	return p.Components[i-1], true
}
