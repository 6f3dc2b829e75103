// Package router implements the conductor's core: the proxy handshake, the
// per-hop id rewriting and successor-wrapping that let zero or more proxies
// splice into the client/agent conversation invisibly, and the fatal
// shutdown path on component loss (§4.1).
//
// A Router owns exactly one task: Run. Every piece of mutable state
// (pending-request tables, id allocators, relay queues) is touched only
// from that task, so none of it is guarded by a mutex — the single-task
// model of §5 is enforced by construction, not by locking discipline.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/acpconductor/conductor/internal/domain/pipeline"
	"github.com/acpconductor/conductor/internal/domain/queue"
	"github.com/acpconductor/conductor/internal/port/connector"
	"github.com/acpconductor/conductor/pkg/acp"
)

// Hooks are optional callbacks the router invokes at well-defined points.
// Every field may be left nil; the router only calls what is set. They let
// the MCP HTTP bridge and metrics layer observe the router without the
// router depending on either package.
type Hooks struct {
	// OnForward is called once per frame the router decides to forward,
	// after wrapping/unwrapping has been applied, for metrics.
	OnForward func(direction pipeline.Direction, method string, wrapped bool)

	// RewriteSessionNew is called when a session/new request is about to be
	// delivered to the agent. It receives the request's original params and
	// returns the params to actually send (with acp: URLs rewritten) and a
	// sessionKey used to correlate the eventual response. A nil return for
	// the hook itself (not set) means session/new is forwarded untouched.
	RewriteSessionNew func(params json.RawMessage) (rewritten json.RawMessage, sessionKey string, err error)

	// PublishSessionID is called with the sessionKey returned by
	// RewriteSessionNew once the agent's response to that session/new
	// arrives, carrying the response's raw result.
	PublishSessionID func(sessionKey string, result json.RawMessage)

	// OnPendingChange is called after every Put/Take against a component's
	// pending-request table, with that component's name and its new size.
	// Used by the metrics layer to maintain a live pending-request gauge per
	// hop; nil means no observer.
	OnPendingChange func(component string, n int)

	// IsControlMethod reports whether method is an mcp/* control-channel
	// method (in either its canonical or underscore-prefixed spelling) that
	// must never reach a proxy or the agent (§4.2, Testable Property 3).
	// Only consulted for frames arriving from the client. Left nil, no
	// method is ever intercepted.
	IsControlMethod func(method string) bool

	// HandleControlMethod answers a frame IsControlMethod accepted instead
	// of forwarding it. Must be set whenever IsControlMethod is.
	HandleControlMethod func(ctx context.Context, method string, params json.RawMessage) (result json.RawMessage, rpcErr *acp.RPCError)
}

// Router wires a fixed pipeline of Connectors together and forwards frames
// between them according to the rules of §4.1/§4.2.
type Router struct {
	pipeline   *pipeline.Pipeline
	connectors []connector.Connector

	tables      []*pipeline.Table
	allocators  []*pipeline.IDAllocator
	relayQueues [][]pipeline.Direction // per component index, FIFO of pending relay directions
	sessionKeys map[string]string      // outbound id (string) sent to the agent -> sessionKey

	q      *queue.Queue
	log    *slog.Logger
	hooks  Hooks
}

// New builds a Router for the given pipeline and one Connector per pipeline
// component, in pipeline order (connectors[0] is the client, the last is
// the agent).
func New(p *pipeline.Pipeline, connectors []connector.Connector, q *queue.Queue, log *slog.Logger, hooks Hooks) (*Router, error) {
	if len(connectors) != len(p.Components) {
		return nil, fmt.Errorf("router: need %d connectors, got %d", len(p.Components), len(connectors))
	}
	if log == nil {
		log = slog.Default()
	}
	n := len(p.Components)
	r := &Router{
		pipeline:    p,
		connectors:  connectors,
		tables:      make([]*pipeline.Table, n),
		allocators:  make([]*pipeline.IDAllocator, n),
		relayQueues: make([][]pipeline.Direction, n),
		sessionKeys: make(map[string]string),
		q:           q,
		log:         log,
		hooks:       hooks,
	}
	for i := range r.tables {
		r.tables[i] = pipeline.NewTable()
		r.allocators[i] = pipeline.NewIDAllocator()
	}
	return r, nil
}

// taggedEvent pairs a connector.Event with the pipeline index it arrived
// from, the shape the router's single task actually consumes.
type taggedEvent struct {
	source int
	ev     connector.Event
}

// Run connects every component, performs the initialize handshake, then
// forwards frames until a fatal fault occurs or ctx is cancelled. It
// returns nil only on a clean, caller-requested shutdown (ctx cancelled
// after the handshake has completed, whether or not requests are still
// pending); any component fault or handshake rejection is returned
// as an error wrapping ErrComponentFault / ErrHandshakeRejected.
func (r *Router) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan taggedEvent, len(r.connectors)*4)
	var wg sync.WaitGroup
	for i, c := range r.connectors {
		stream, err := c.Connect(ctx)
		if err != nil {
			return fmt.Errorf("%w: connecting %s: %v", ErrComponentFault, r.pipeline.Components[i].Name, err)
		}
		wg.Add(1)
		go func(i int, stream <-chan connector.Event) {
			defer wg.Done()
			for ev := range stream {
				select {
				case events <- taggedEvent{source: i, ev: ev}:
				case <-ctx.Done():
					return
				}
			}
		}(i, stream)
	}
	go func() {
		wg.Wait()
		close(events)
	}()

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		r.runQueueConsumer(ctx)
	}()

	runErr := r.runHandshake(ctx, events)
	if runErr == nil {
		runErr = r.runEventLoop(ctx, events)
	}

	r.shutdown()
	cancel()
	<-consumerDone

	return runErr
}

// runQueueConsumer is the single place Connector.Send is ever called,
// popping Items in strict FIFO order (§5 "the queue therefore also
// linearises").
func (r *Router) runQueueConsumer(ctx context.Context) {
	for {
		item, ok := r.q.Pop(ctx)
		if !ok {
			return
		}
		if err := item.Apply(ctx); err != nil {
			r.log.Warn("router: delivery failed", "dest", item.Dest, "error", err)
		}
	}
}

// notifyPendingChange reports target's pending-table size to OnPendingChange,
// if set.
func (r *Router) notifyPendingChange(target int) {
	if r.hooks.OnPendingChange != nil {
		r.hooks.OnPendingChange(r.pipeline.Components[target].Name, r.tables[target].Len())
	}
}

// sendTo enqueues bytes for delivery to the component at index target.
func (r *Router) sendTo(ctx context.Context, target int, bytes []byte) error {
	c := r.connectors[target]
	name := r.pipeline.Components[target].Name
	r.log.Debug("router: enqueuing frame",
		"component", name,
		"digest", xxhash.Sum64(bytes),
	)
	return r.q.Push(ctx, queue.Item{
		Dest: name,
		Apply: func(ctx context.Context) error {
			return c.Send(ctx, bytes)
		},
	})
}

// nextEvent reads the next tagged event, treating an error event or the end
// of every stream as a fatal component fault. A cancelled context is
// returned as ctx.Err() rather than as a fault.
func (r *Router) nextEvent(ctx context.Context, events <-chan taggedEvent) (taggedEvent, error) {
	select {
	case te, ok := <-events:
		if !ok {
			return taggedEvent{}, fmt.Errorf("%w: all components disconnected", ErrComponentFault)
		}
		if te.ev.Err != nil {
			r.logComponentFault(te.source, te.ev.Err)
			return taggedEvent{}, fmt.Errorf("%w: %s: %v", ErrComponentFault, r.pipeline.Components[te.source].Name, te.ev.Err)
		}
		return te, nil
	case <-ctx.Done():
		return taggedEvent{}, ctx.Err()
	}
}

// logComponentFault logs source's disconnection at a severity that depends
// on whether it left live pending work behind (§SUPPLEMENTAL "graceful
// drain on agent-initiated shutdown"): a component that hit a clean EOF with
// no requests still awaiting its response exited on its own terms, not mid
// conversation, so it is logged at info. A read error, or an EOF with live
// pending requests, is logged at error.
func (r *Router) logComponentFault(source int, err error) {
	name := r.pipeline.Components[source].Name
	if errors.Is(err, io.EOF) && r.tables[source].Len() == 0 {
		r.log.Info("router: component disconnected cleanly", "component", name)
		return
	}
	r.log.Error("router: component fault", "component", name, "error", err, "pending_requests", r.tables[source].Len())
}

// shutdown closes every connector. Idempotent per Connector.Close's own
// contract; errors are logged, not propagated, since shutdown happens on
// every exit path including the clean one.
func (r *Router) shutdown() {
	for i, c := range r.connectors {
		if err := c.Close(); err != nil {
			r.log.Debug("router: close failed", "component", r.pipeline.Components[i].Name, "error", err)
		}
	}
	r.q.Close()
}
