// Package httputil provides shared HTTP client construction utilities
// for the orchestration runtime. It centralizes timeout defaults and
// transport tuning so that every component uses consistent configuration.
package httputil

import (
	"net/http"
	"time"
)

// Standard timeout defaults used across the runtime.
const (
	// DefaultUnaryTimeout is the HTTP timeout for unary A2A calls
	// (message/send, tasks/get, tasks/cancel).
	DefaultUnaryTimeout = 30 * time.Second

	// DefaultStreamingTimeout is the HTTP timeout for streaming A2A calls.
	// An SSE stream carries an entire task execution, so it runs much
	// longer than a unary exchange.
	DefaultStreamingTimeout = 180 * time.Second

	// DefaultProbeTimeout is the HTTP timeout for agent-card health probes.
	DefaultProbeTimeout = 5 * time.Second
)

// Keep-alive transport defaults for pooled agent sessions.
const (
	// DefaultMaxConnsPerHost bounds concurrent connections to one agent.
	DefaultMaxConnsPerHost = 10

	// DefaultMaxIdleConnsPerHost bounds idle keep-alive connections kept
	// warm for one agent.
	DefaultMaxIdleConnsPerHost = 5

	// DefaultIdleConnTimeout is how long an idle keep-alive connection
	// stays open before the transport closes it.
	DefaultIdleConnTimeout = 30 * time.Second
)

// NewHTTPClient returns an *http.Client configured with the given timeout.
// Pass one of the Default*Timeout constants, or a custom duration.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// NewKeepAliveTransport returns an *http.Transport tuned for persistent
// agent sessions. maxConns and maxIdle fall back to the package defaults
// when zero.
func NewKeepAliveTransport(maxConns, maxIdle int, idleTimeout time.Duration) *http.Transport {
	if maxConns <= 0 {
		maxConns = DefaultMaxConnsPerHost
	}
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdleConnsPerHost
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleConnTimeout
	}
	return &http.Transport{
		MaxConnsPerHost:     maxConns,
		MaxIdleConnsPerHost: maxIdle,
		IdleConnTimeout:     idleTimeout,
		ForceAttemptHTTP2:   true,
	}
}
