package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/acpconductor/conductor/internal/domain/pipeline"
	"github.com/acpconductor/conductor/pkg/acp"
)

// buildResponseBytes encodes frame's result or error as a response carrying
// id, preserving id's original bytes exactly.
func buildResponseBytes(id []byte, frame *acp.Frame) ([]byte, error) {
	if frame.Error != nil {
		return acp.EncodeResponseError(id, frame.Error)
	}
	return acp.EncodeResponseResult(id, frame.Result)
}

// runEventLoop processes every frame after the handshake has completed. It
// returns nil when ctx is cancelled by the caller (clean shutdown); any
// other error is a fatal fault.
func (r *Router) runEventLoop(ctx context.Context, events <-chan taggedEvent) error {
	for {
		te, err := r.nextEvent(ctx, events)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if err := r.handleEvent(ctx, te); err != nil {
			return err
		}
	}
}

// handleEvent dispatches one inbound frame: a response is matched against
// this component's pending-request table; a request or notification is
// relayed to the next hop with id-rewriting and, where required,
// successor-wrapping.
func (r *Router) handleEvent(ctx context.Context, te taggedEvent) error {
	frame := te.ev.Frame
	switch {
	case frame.IsResponse():
		return r.handleResponse(ctx, te.source, frame)
	case frame.IsRequest(), frame.IsNotification():
		if te.source == 0 && r.hooks.IsControlMethod != nil && r.hooks.IsControlMethod(frame.Method) {
			return r.handleControlMethod(ctx, frame)
		}
		return r.handleForwardable(ctx, te.source, frame)
	default:
		return fmt.Errorf("%w: component %d sent an invalid frame", ErrProtocolViolation, te.source)
	}
}

// handleControlMethod answers an mcp/* frame from the client in-process,
// never letting it reach a proxy or the agent (§4.2, Testable Property 3).
func (r *Router) handleControlMethod(ctx context.Context, frame *acp.Frame) error {
	result, rpcErr := r.hooks.HandleControlMethod(ctx, frame.Method, frame.Params)
	if !frame.IsRequest() {
		return nil
	}
	var respBytes []byte
	var err error
	if rpcErr != nil {
		respBytes, err = acp.EncodeResponseError(frame.ID, rpcErr)
	} else {
		respBytes, err = acp.EncodeResponseResult(frame.ID, result)
	}
	if err != nil {
		return fmt.Errorf("router: encoding control-method response: %w", err)
	}
	return r.sendTo(ctx, 0, respBytes)
}

func (r *Router) handleResponse(ctx context.Context, source int, frame *acp.Frame) error {
	pr, ok := r.tables[source].Take(frame.ID)
	r.notifyPendingChange(source)
	if !ok {
		r.log.Warn("router: response with no matching pending request, dropping",
			"component", r.pipeline.Components[source].Name, "id", frame.IDString())
		return nil
	}

	if sessionKey, has := r.sessionKeys[frame.IDString()]; has {
		delete(r.sessionKeys, frame.IDString())
		if r.hooks.PublishSessionID != nil {
			r.hooks.PublishSessionID(sessionKey, frame.Result)
		}
	}

	respBytes, err := buildResponseBytes(pr.InboundID, frame)
	if err != nil {
		return fmt.Errorf("router: encoding response to %s: %w", r.pipeline.Components[pr.Origin].Name, err)
	}
	return r.sendTo(ctx, pr.Origin, respBytes)
}

// relayTarget resolves the direction, next-hop index, and the real
// (unwrapped) method/params for a request or notification arriving from
// source.
func (r *Router) relayTarget(source int, frame *acp.Frame) (direction pipeline.Direction, method string, params []byte) {
	agentIdx := r.pipeline.AgentIndex()

	switch {
	case source == 0:
		return pipeline.Forward, frame.Method, frame.Params
	case source == agentIdx:
		return pipeline.Backward, frame.Method, frame.Params
	case isSuccessorEnvelope(frame.Method):
		dir, popped := r.popRelay(source)
		if !popped {
			r.log.Warn("router: successor envelope with no queued relay context, defaulting to forward",
				"proxy", r.pipeline.Components[source].Name)
			dir = pipeline.Forward
		}
		innerMethod, innerParams, err := unwrapEnvelope(frame.Params)
		if err != nil {
			r.log.Warn("router: malformed successor envelope, forwarding opaquely as-is",
				"proxy", r.pipeline.Components[source].Name, "error", err)
			return dir, frame.Method, frame.Params
		}
		return dir, innerMethod, innerParams
	default:
		r.log.Warn("router: proxy sent an unwrapped frame outside the handshake, defaulting to forward",
			"proxy", r.pipeline.Components[source].Name, "method", frame.Method)
		return pipeline.Forward, frame.Method, frame.Params
	}
}

func (r *Router) handleForwardable(ctx context.Context, source int, frame *acp.Frame) error {
	direction, method, params := r.relayTarget(source, frame)

	var target int
	if direction == pipeline.Forward {
		target = source + 1
	} else {
		target = source - 1
	}
	if target < 0 || target >= len(r.pipeline.Components) {
		return fmt.Errorf("%w: %s has no %s hop to relay %q to",
			ErrProtocolViolation, r.pipeline.Components[source].Name, direction, method)
	}

	agentIdx := r.pipeline.AgentIndex()
	wrapping := pipeline.NoWrap
	if target > 0 && target < agentIdx {
		wrapping = pipeline.SuccessorWrap
	}

	outboundMethod, outboundParams := method, params
	var err error
	if wrapping == pipeline.SuccessorWrap {
		outboundMethod, outboundParams, err = wrapEnvelope(frame.IsRequest(), method, params)
		if err != nil {
			return fmt.Errorf("router: wrapping %q for %s: %w", method, r.pipeline.Components[target].Name, err)
		}
	}

	var sessionKey string
	if target == agentIdx && method == "session/new" && r.hooks.RewriteSessionNew != nil {
		rewritten, key, herr := r.hooks.RewriteSessionNew(outboundParams)
		if herr != nil {
			return fmt.Errorf("router: rewriting session/new: %w", herr)
		}
		outboundParams = rewritten
		sessionKey = key
	}

	if r.hooks.OnForward != nil {
		r.hooks.OnForward(direction, method, wrapping == pipeline.SuccessorWrap)
	}

	if frame.IsRequest() {
		id, rawID := r.allocators[target].Allocate()
		bytes, err := acp.EncodeRequest(id, outboundMethod, outboundParams)
		if err != nil {
			return fmt.Errorf("router: encoding request to %s: %w", r.pipeline.Components[target].Name, err)
		}
		pr := &pipeline.PendingRequest{
			OutboundID: rawID,
			InboundID:  frame.ID,
			Method:     method,
			Origin:     source,
			Target:     target,
			Direction:  direction,
			Wrapping:   wrapping,
		}
		if err := r.tables[target].Put(pr); err != nil {
			return fmt.Errorf("router: %w", err)
		}
		r.notifyPendingChange(target)
		if sessionKey != "" {
			r.sessionKeys[string(rawID)] = sessionKey
		}
		if wrapping == pipeline.SuccessorWrap {
			r.pushRelay(target, direction)
		}
		return r.sendTo(ctx, target, bytes)
	}

	bytes, err := acp.EncodeNotification(outboundMethod, outboundParams)
	if err != nil {
		return fmt.Errorf("router: encoding notification to %s: %w", r.pipeline.Components[target].Name, err)
	}
	if wrapping == pipeline.SuccessorWrap {
		r.pushRelay(target, direction)
	}
	return r.sendTo(ctx, target, bytes)
}

// pushRelay records that the proxy at index i has one more wrapped frame
// in flight, travelling in direction dir, so that when it relays its own
// successor-wrapped frame back the router knows which way to continue it.
func (r *Router) pushRelay(i int, dir pipeline.Direction) {
	r.relayQueues[i] = append(r.relayQueues[i], dir)
}

// popRelay removes and returns the oldest queued relay direction for proxy
// i, matching relays to the order the router originally dispatched them in
// (§5's ordering guarantee means a well-behaved proxy relays in the same
// order it received).
func (r *Router) popRelay(i int) (pipeline.Direction, bool) {
	q := r.relayQueues[i]
	if len(q) == 0 {
		return 0, false
	}
	dir := q[0]
	r.relayQueues[i] = q[1:]
	return dir, true
}
