package router

import "errors"

// ErrHandshakeRejected is returned by Run when a proxy fails to acknowledge
// the successor-wrapping contract during the initialize handshake (§4.1).
// The service layer maps this to the "proxy handshake rejection" exit code.
var ErrHandshakeRejected = errors.New("router: proxy rejected the successor-wrapping handshake")

// ErrComponentFault is returned by Run when a pipeline component's inbound
// channel closes, errors, or produces an unparseable frame (§4.1 failure
// model). Wrapped with the offending component's name.
var ErrComponentFault = errors.New("router: pipeline component fault")

// ErrProtocolViolation is returned when a component sends something the
// router did not expect at a point where only a specific frame is valid
// (the first client frame, a handshake response). Treated as fatal, same as
// ErrComponentFault.
var ErrProtocolViolation = errors.New("router: unexpected frame")
