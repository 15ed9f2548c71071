package logger

import "context"

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for common logging fields. Values stored under these keys are
// automatically extracted by ContextHandler and added to log entries.
const (
	// ContextKeySessionID identifies the orchestration session.
	ContextKeySessionID contextKey = "session_id"

	// ContextKeyNodeID identifies the workflow node being executed.
	ContextKeyNodeID contextKey = "node_id"

	// ContextKeyTaskID identifies the remote A2A task.
	ContextKeyTaskID contextKey = "task_id"

	// ContextKeyPhase identifies the orchestration phase.
	ContextKeyPhase contextKey = "phase"

	// ContextKeyEndpoint identifies the agent endpoint being called.
	ContextKeyEndpoint contextKey = "endpoint"
)

// allContextKeys lists all context keys that should be extracted for logging.
var allContextKeys = []contextKey{
	ContextKeySessionID,
	ContextKeyNodeID,
	ContextKeyTaskID,
	ContextKeyPhase,
	ContextKeyEndpoint,
}

// WithSessionID returns a new context with the session ID set.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// WithNodeID returns a new context with the workflow node ID set.
func WithNodeID(ctx context.Context, nodeID string) context.Context {
	return context.WithValue(ctx, ContextKeyNodeID, nodeID)
}

// WithTaskID returns a new context with the A2A task ID set.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, ContextKeyTaskID, taskID)
}

// WithPhase returns a new context with the orchestration phase set.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, ContextKeyPhase, phase)
}

// WithEndpoint returns a new context with the agent endpoint set.
func WithEndpoint(ctx context.Context, endpoint string) context.Context {
	return context.WithValue(ctx, ContextKeyEndpoint, endpoint)
}
