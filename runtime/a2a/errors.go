package a2a

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies client-side failures for retry policy.
type ErrorKind string

// Error kinds.
const (
	// ErrorKindTransport covers connection refused, DNS, and socket errors.
	ErrorKindTransport ErrorKind = "transport"

	// ErrorKindProtocol covers malformed JSON-RPC or SSE framing.
	ErrorKindProtocol ErrorKind = "protocol"

	// ErrorKindRemote covers JSON-RPC error responses from the agent.
	ErrorKindRemote ErrorKind = "remote"

	// ErrorKindTimeout covers per-call deadline expiry.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindCancelled covers caller-initiated cancellation.
	ErrorKindCancelled ErrorKind = "cancelled"
)

// ClientError is the typed error returned by Client operations.
type ClientError struct {
	Kind      ErrorKind
	Endpoint  string
	Method    string
	Attempts  int
	Retryable bool
	Cause     error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("a2a: %s %s: %s error after %d attempt(s): %v",
		e.Method, e.Endpoint, e.Kind, e.Attempts, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error { return e.Cause }

// RPCError represents a JSON-RPC error returned by an A2A agent.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("a2a: rpc error %d: %s", e.Code, e.Message)
}

// Retryable reports whether the remote error is worth retrying.
// Agent-unavailable and timeout codes indicate transient conditions.
func (e *RPCError) Retryable() bool {
	return e.Code == CodeAgentUnavailable || e.Code == CodeTimeout || e.Code == CodeInternalError
}

// classifyError maps an error from an HTTP exchange to its kind and
// whether the client should retry it.
func classifyError(err error) (ErrorKind, bool) {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return ErrorKindRemote, rpcErr.Retryable()
	}

	if errors.Is(err, context.Canceled) {
		return ErrorKindCancelled, false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorKindTimeout, true
		}
		return ErrorKindTransport, true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorKindTransport, true
	}

	return ErrorKindProtocol, false
}
