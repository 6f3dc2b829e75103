package pipeline

import (
	"encoding/json"
	"strconv"
)

// IDAllocator mints a monotonically increasing integer id for every
// outbound request sent to one particular peer (§2 "ID allocator":
// "Monotonic integer source per outbound-to-each-peer direction"). The
// conductor holds one allocator per hop it originates requests on.
type IDAllocator struct {
	next int64
}

// NewIDAllocator creates an allocator starting at 1 (0 is avoided so a
// zero-value id never appears on the wire, which would be indistinguishable
// from an unset field in some lenient JSON-RPC client implementations).
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{next: 1}
}

// Allocate returns the next integer id, both as int64 (for acp.EncodeRequest)
// and as the raw JSON bytes the conductor will later match a response
// against.
func (a *IDAllocator) Allocate() (int64, json.RawMessage) {
	id := a.next
	a.next++
	return id, json.RawMessage(strconv.FormatInt(id, 10))
}
