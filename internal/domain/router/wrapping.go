package router

import (
	"encoding/json"
	"fmt"
)

const (
	methodSuccessorRequest      = "_proxy/successor/request"
	methodSuccessorNotification = "_proxy/successor/notification"
)

// envelope is the {method, params} shape carried inside a
// _proxy/successor/request or _proxy/successor/notification frame (§4.2).
type envelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// wrapEnvelope builds the wrapped method name and params for forwarding a
// request or notification to a proxy.
func wrapEnvelope(isRequest bool, method string, params json.RawMessage) (string, json.RawMessage, error) {
	wrapped, err := json.Marshal(envelope{Method: method, Params: params})
	if err != nil {
		return "", nil, fmt.Errorf("router: marshal successor envelope: %w", err)
	}
	if isRequest {
		return methodSuccessorRequest, wrapped, nil
	}
	return methodSuccessorNotification, wrapped, nil
}

// unwrapEnvelope extracts the real method/params from a
// _proxy/successor/request or _proxy/successor/notification frame's params.
func unwrapEnvelope(params json.RawMessage) (string, json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(params, &env); err != nil {
		return "", nil, fmt.Errorf("router: unmarshal successor envelope: %w", err)
	}
	if env.Method == "" {
		return "", nil, fmt.Errorf("router: successor envelope missing inner method")
	}
	return env.Method, env.Params, nil
}

// isSuccessorEnvelope reports whether method is one of the two reserved
// wrapping methods.
func isSuccessorEnvelope(method string) bool {
	return method == methodSuccessorRequest || method == methodSuccessorNotification
}

// metaObject is the shape of a params/result "_meta" member the router
// inspects or injects.
type metaObject struct {
	Proxy bool `json:"proxy"`
}

type withMeta struct {
	Meta *metaObject `json:"_meta,omitempty"`
}

// withProxyMeta returns params with "_meta.proxy" set to true, preserving
// every other top-level member verbatim. params may be nil or an empty
// object.
func withProxyMeta(params json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if len(params) > 0 {
		if err := json.Unmarshal(params, &fields); err != nil {
			return nil, fmt.Errorf("router: params is not a JSON object: %w", err)
		}
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}

	var meta map[string]json.RawMessage
	if raw, ok := fields["_meta"]; ok {
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("router: params._meta is not a JSON object: %w", err)
		}
	}
	if meta == nil {
		meta = make(map[string]json.RawMessage)
	}
	meta["proxy"] = json.RawMessage("true")

	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	fields["_meta"] = metaRaw

	return json.Marshal(fields)
}

// resultAcksProxy reports whether a JSON-RPC result carries
// "_meta.proxy": true.
func resultAcksProxy(result json.RawMessage) bool {
	if len(result) == 0 {
		return false
	}
	var wrapped withMeta
	if err := json.Unmarshal(result, &wrapped); err != nil {
		return false
	}
	return wrapped.Meta != nil && wrapped.Meta.Proxy
}
