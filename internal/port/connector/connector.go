// Package connector defines the port the conductor uses to reach every
// component in its pipeline (client, proxy, or agent) uniformly. The
// concrete transport — a spawned subprocess over stdio, an in-process
// channel pair, or a socket — is an adapter implementing this interface;
// the router never knows which.
package connector

import (
	"context"

	"github.com/acpconductor/conductor/pkg/acp"
)

// Connector is one bidirectional frame channel to a pipeline component.
// Implementations: internal/adapter/connector (stdio subprocess, in-process
// pipe pair).
type Connector interface {
	// Connect establishes the channel and returns a receive-only stream of
	// inbound frames. The stream is closed when the component's inbound side
	// closes, errors, or Close is called. A decode failure on an inbound
	// frame is reported as an Event with a non-nil Err; the router treats
	// this as fatal per the conductor's failure model.
	Connect(ctx context.Context) (<-chan Event, error)

	// Send writes a single outbound frame to the component. Send must not be
	// called concurrently with itself (the router only ever sends from its
	// single task loop, by construction).
	Send(ctx context.Context, frame []byte) error

	// Close tears down the channel and releases any underlying resources
	// (killing a spawned subprocess, closing a pipe). Idempotent.
	Close() error
}

// Event is one inbound occurrence from a Connector's stream: either a
// decoded frame or a terminal error (closed stream, malformed frame).
type Event struct {
	Frame *acp.Frame
	Err   error
}
