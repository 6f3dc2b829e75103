package router

import (
	"context"
	"fmt"

	"github.com/acpconductor/conductor/pkg/acp"
)

// runHandshake performs the sequential initialize handshake (§4.1): the
// client's first frame must be an initialize request, which the router
// relays to each proxy in order (offering "_meta.proxy": true) and finally
// to the agent (unmodified). Any proxy that fails to acknowledge fails the
// whole handshake.
func (r *Router) runHandshake(ctx context.Context, events <-chan taggedEvent) error {
	first, err := r.nextEvent(ctx, events)
	if err != nil {
		return err
	}
	clientFrame := first.ev.Frame
	if first.source != 0 || !clientFrame.IsRequest() || !clientFrame.HasMethod("initialize") {
		return fmt.Errorf("%w: expected an initialize request from the client, got %s %q from component %d",
			ErrProtocolViolation, clientFrame.Kind, clientFrame.Method, first.source)
	}

	agentIdx := r.pipeline.AgentIndex()
	originalParams := clientFrame.Params

	for i := 1; i < agentIdx; i++ {
		proxyParams, err := withProxyMeta(originalParams)
		if err != nil {
			return fmt.Errorf("router: building proxy initialize params: %w", err)
		}
		resp, err := r.sendInitializeAndAwait(ctx, events, i, proxyParams)
		if err != nil {
			return err
		}
		if resp.Error != nil || !resultAcksProxy(resp.Result) {
			name := r.pipeline.Components[i].Name
			errBytes, encErr := acp.EncodeErrorResponse(clientFrame.ID, -32000,
				fmt.Sprintf("proxy %q did not acknowledge the successor-wrapping contract", name))
			if encErr != nil {
				return fmt.Errorf("router: encoding handshake rejection: %w", encErr)
			}
			if err := r.sendTo(ctx, 0, errBytes); err != nil {
				return fmt.Errorf("router: notifying client of handshake rejection: %w", err)
			}
			r.log.Error("router: proxy rejected successor-wrapping handshake", "proxy", name)
			return ErrHandshakeRejected
		}
	}

	agentResp, err := r.sendInitializeAndAwait(ctx, events, agentIdx, originalParams)
	if err != nil {
		return err
	}

	finalBytes, err := buildResponseBytes(clientFrame.ID, agentResp)
	if err != nil {
		return fmt.Errorf("router: encoding initialize response to client: %w", err)
	}
	return r.sendTo(ctx, 0, finalBytes)
}

// sendInitializeAndAwait sends an initialize request to pipeline index
// target and blocks for its matching response. The handshake is strictly
// sequential, so any event arriving from a different component in the
// meantime is a protocol violation.
func (r *Router) sendInitializeAndAwait(ctx context.Context, events <-chan taggedEvent, target int, params []byte) (*acp.Frame, error) {
	id, rawID := r.allocators[target].Allocate()
	reqBytes, err := acp.EncodeRequest(id, "initialize", params)
	if err != nil {
		return nil, fmt.Errorf("router: encoding initialize for %s: %w", r.pipeline.Components[target].Name, err)
	}
	if err := r.sendTo(ctx, target, reqBytes); err != nil {
		return nil, fmt.Errorf("router: sending initialize to %s: %w", r.pipeline.Components[target].Name, err)
	}

	te, err := r.nextEvent(ctx, events)
	if err != nil {
		return nil, err
	}
	if te.source != target || !te.ev.Frame.IsResponse() || te.ev.Frame.IDString() != string(rawID) {
		return nil, fmt.Errorf("%w: expected initialize response from %s, got %s from component %d",
			ErrProtocolViolation, r.pipeline.Components[target].Name, te.ev.Frame.Kind, te.source)
	}
	return te.ev.Frame, nil
}
