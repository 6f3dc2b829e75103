package pipeline

import (
	"encoding/json"
	"fmt"
)

// Direction records which way a PendingRequest is travelling.
type Direction int

const (
	// Forward is client -> ... -> agent.
	Forward Direction = iota
	// Backward is agent -> ... -> client.
	Backward
)

func (d Direction) String() string {
	if d == Forward {
		return "forward"
	}
	return "backward"
}

// Wrapping records whether a forwarded request was sent inside a
// _proxy/successor/request envelope (§4.2).
type Wrapping int

const (
	// NoWrap means the request was forwarded unmodified.
	NoWrap Wrapping = iota
	// SuccessorWrap means the request was forwarded wrapped.
	SuccessorWrap
)

// PendingRequest is the conductor's record of a forwarded, not-yet-answered
// request: the id it gave to the next hop, the id the previous hop used,
// which component originated it, and how it must be re-wrapped on return.
//
// Owned exclusively by the router's single task; see package doc.
type PendingRequest struct {
	OutboundID json.RawMessage // the id minted for the next hop
	InboundID  json.RawMessage // the id the originating peer used, byte-exact
	Method     string          // original method name (unwrapped)
	Origin     int             // pipeline index of the component that sent the request
	Target     int             // pipeline index of the component the request was sent to
	Direction  Direction
	Wrapping   Wrapping
}

// Table tracks one PendingRequest per (target component, outbound id) pair —
// the invariant from §3: "for each (peer, outboundId) pair, at most one live
// PendingRequest." A conductor has one Table per directed hop (one per
// component it sends requests to), indexed by the outbound id string it
// minted for that hop.
type Table struct {
	byOutboundID map[string]*PendingRequest
}

// NewTable creates an empty pending-request table.
func NewTable() *Table {
	return &Table{byOutboundID: make(map[string]*PendingRequest)}
}

// Put records a newly forwarded request. Returns an error if a live entry
// already exists for this outbound id (would violate the §3 invariant).
// Outbound ids come from the hop's IDAllocator, which never repeats one.
func (t *Table) Put(p *PendingRequest) error {
	key := string(p.OutboundID)
	if _, exists := t.byOutboundID[key]; exists {
		return fmt.Errorf("pipeline: outbound id %s already has a live pending request", key)
	}
	t.byOutboundID[key] = p
	return nil
}

// Take removes and returns the PendingRequest for outboundID, if any. This
// is the single path by which a PendingRequest's lifecycle ends (§3:
// "destroyed when the matching response is routed back").
func (t *Table) Take(outboundID json.RawMessage) (*PendingRequest, bool) {
	key := string(outboundID)
	p, ok := t.byOutboundID[key]
	if ok {
		delete(t.byOutboundID, key)
	}
	return p, ok
}

// Len reports the number of live pending requests. The router reports it
// to Hooks.OnPendingChange and uses it to choose the log severity of a
// component disconnect.
func (t *Table) Len() int {
	return len(t.byOutboundID)
}

// Abort empties the table, returning everything that was live. The router
// does not call it: its shutdown path closes the connectors and leaves the
// tables as they are.
func (t *Table) Abort() []*PendingRequest {
	out := make([]*PendingRequest, 0, len(t.byOutboundID))
	for _, p := range t.byOutboundID {
		out = append(out, p)
	}
	t.byOutboundID = make(map[string]*PendingRequest)
	return out
}
