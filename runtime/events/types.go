package events

import (
	"time"
)

// EventType identifies the type of event emitted by the runtime.
type EventType string

const (
	// EventSessionStarted marks an orchestration session start.
	EventSessionStarted EventType = "session.started"
	// EventSessionCompleted marks an orchestration session reaching synthesis.
	EventSessionCompleted EventType = "session.completed"
	// EventSessionFailed marks an orchestration session failure.
	EventSessionFailed EventType = "session.failed"
	// EventSessionCancelled marks an orchestration session cancellation.
	EventSessionCancelled EventType = "session.cancelled"

	// EventPhaseStarted marks an orchestration phase start.
	EventPhaseStarted EventType = "phase.started"
	// EventPhaseCompleted marks an orchestration phase completion.
	EventPhaseCompleted EventType = "phase.completed"

	// EventNodeDispatched marks a workflow node handed to an agent.
	EventNodeDispatched EventType = "node.dispatched"
	// EventNodeCompleted marks a workflow node finishing successfully.
	EventNodeCompleted EventType = "node.completed"
	// EventNodeFailed marks a workflow node failure.
	EventNodeFailed EventType = "node.failed"
	// EventNodeSkipped marks a workflow node skipped due to a failed dependency.
	EventNodeSkipped EventType = "node.skipped"
	// EventNodeInputRequired marks a workflow node pausing for caller input.
	EventNodeInputRequired EventType = "node.input_required"

	// EventDispatchStarted marks an outbound agent call start.
	EventDispatchStarted EventType = "dispatch.started"
	// EventDispatchCompleted marks an outbound agent call completion.
	EventDispatchCompleted EventType = "dispatch.completed"
	// EventDispatchFailed marks an outbound agent call failure after retries.
	EventDispatchFailed EventType = "dispatch.failed"

	// EventValidationPassed marks a quality validation pass.
	EventValidationPassed EventType = "validation.passed"
	// EventValidationFailed marks a quality validation failure.
	EventValidationFailed EventType = "validation.failed"

	// EventPlanCreated marks a workflow plan being produced.
	EventPlanCreated EventType = "plan.created"
	// EventPlanAdjusted marks a mid-flight re-plan.
	EventPlanAdjusted EventType = "plan.adjusted"

	// EventGraphMutated marks a structural change to the workflow graph.
	EventGraphMutated EventType = "graph.mutated"
)

// EventData is a marker interface for event payloads.
type EventData interface {
	eventData()
}

// Event represents a runtime event delivered to listeners.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	Data      EventData
}

// baseEventData provides the shared marker implementation.
type baseEventData struct{}

func (baseEventData) eventData() {}

// SessionStartedData is the payload for session.started.
type SessionStartedData struct {
	baseEventData
	Query string
}

// SessionCompletedData is the payload for session.completed.
type SessionCompletedData struct {
	baseEventData
	Duration  time.Duration
	NodeCount int
	Overall   float64
}

// SessionFailedData is the payload for session.failed.
type SessionFailedData struct {
	baseEventData
	Error    error
	Phase    string
	Duration time.Duration
}

// SessionCancelledData is the payload for session.cancelled.
type SessionCancelledData struct {
	baseEventData
	Duration time.Duration
}

// PhaseStartedData is the payload for phase.started.
type PhaseStartedData struct {
	baseEventData
	Phase string
}

// PhaseCompletedData is the payload for phase.completed.
type PhaseCompletedData struct {
	baseEventData
	Phase    string
	Duration time.Duration
}

// NodeDispatchedData is the payload for node.dispatched.
type NodeDispatchedData struct {
	baseEventData
	NodeID  string
	AgentID string
	Level   int
}

// NodeCompletedData is the payload for node.completed.
type NodeCompletedData struct {
	baseEventData
	NodeID   string
	AgentID  string
	Duration time.Duration
}

// NodeFailedData is the payload for node.failed.
type NodeFailedData struct {
	baseEventData
	NodeID   string
	AgentID  string
	Error    error
	Duration time.Duration
}

// NodeSkippedData is the payload for node.skipped.
type NodeSkippedData struct {
	baseEventData
	NodeID string
	Reason string
}

// NodeInputRequiredData is the payload for node.input_required.
type NodeInputRequiredData struct {
	baseEventData
	NodeID string
	Prompt string
}

// DispatchStartedData is the payload for dispatch.started.
type DispatchStartedData struct {
	baseEventData
	Endpoint string
	Method   string
	NodeID   string
}

// DispatchCompletedData is the payload for dispatch.completed.
type DispatchCompletedData struct {
	baseEventData
	Endpoint string
	Method   string
	NodeID   string
	Duration time.Duration
}

// DispatchFailedData is the payload for dispatch.failed.
type DispatchFailedData struct {
	baseEventData
	Endpoint string
	Method   string
	NodeID   string
	Attempts int
	Error    error
	Duration time.Duration
}

// ValidationPassedData is the payload for validation.passed.
type ValidationPassedData struct {
	baseEventData
	NodeID   string
	Domain   string
	Overall  float64
	Duration time.Duration
}

// ValidationFailedData is the payload for validation.failed.
type ValidationFailedData struct {
	baseEventData
	NodeID   string
	Domain   string
	Overall  float64
	Failing  []string
	Duration time.Duration
}

// PlanCreatedData is the payload for plan.created.
type PlanCreatedData struct {
	baseEventData
	Strategy  string
	NodeCount int
	EdgeCount int
}

// PlanAdjustedData is the payload for plan.adjusted.
type PlanAdjustedData struct {
	baseEventData
	Reason       string
	NodesAdded   int
	NodesRemoved int
}

// GraphMutatedData is the payload for graph.mutated.
type GraphMutatedData struct {
	baseEventData
	Op     string
	NodeID string
}
