package events

import "time"

// Emitter provides helpers for publishing runtime events with shared
// session metadata. A nil Emitter is a no-op, so callers can wire one
// conditionally.
type Emitter struct {
	bus       *EventBus
	sessionID string
}

// NewEmitter creates an event emitter bound to one session.
func NewEmitter(bus *EventBus, sessionID string) *Emitter {
	return &Emitter{
		bus:       bus,
		sessionID: sessionID,
	}
}

// emit publishes an event with shared context fields.
func (e *Emitter) emit(eventType EventType, data EventData) {
	if e == nil || e.bus == nil {
		return
	}

	e.bus.Publish(&Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Data:      data,
	})
}

// SessionStarted emits the session.started event.
func (e *Emitter) SessionStarted(query string) {
	e.emit(EventSessionStarted, SessionStartedData{Query: query})
}

// SessionCompleted emits the session.completed event.
func (e *Emitter) SessionCompleted(duration time.Duration, nodeCount int, overall float64) {
	e.emit(EventSessionCompleted, SessionCompletedData{
		Duration:  duration,
		NodeCount: nodeCount,
		Overall:   overall,
	})
}

// SessionFailed emits the session.failed event.
func (e *Emitter) SessionFailed(err error, phase string, duration time.Duration) {
	e.emit(EventSessionFailed, SessionFailedData{
		Error:    err,
		Phase:    phase,
		Duration: duration,
	})
}

// SessionCancelled emits the session.cancelled event.
func (e *Emitter) SessionCancelled(duration time.Duration) {
	e.emit(EventSessionCancelled, SessionCancelledData{Duration: duration})
}

// PhaseStarted emits the phase.started event.
func (e *Emitter) PhaseStarted(phase string) {
	e.emit(EventPhaseStarted, PhaseStartedData{Phase: phase})
}

// PhaseCompleted emits the phase.completed event.
func (e *Emitter) PhaseCompleted(phase string, duration time.Duration) {
	e.emit(EventPhaseCompleted, PhaseCompletedData{
		Phase:    phase,
		Duration: duration,
	})
}

// NodeDispatched emits the node.dispatched event.
func (e *Emitter) NodeDispatched(nodeID, agentID string, level int) {
	e.emit(EventNodeDispatched, NodeDispatchedData{
		NodeID:  nodeID,
		AgentID: agentID,
		Level:   level,
	})
}

// NodeCompleted emits the node.completed event.
func (e *Emitter) NodeCompleted(nodeID, agentID string, duration time.Duration) {
	e.emit(EventNodeCompleted, NodeCompletedData{
		NodeID:   nodeID,
		AgentID:  agentID,
		Duration: duration,
	})
}

// NodeFailed emits the node.failed event.
func (e *Emitter) NodeFailed(nodeID, agentID string, err error, duration time.Duration) {
	e.emit(EventNodeFailed, NodeFailedData{
		NodeID:   nodeID,
		AgentID:  agentID,
		Error:    err,
		Duration: duration,
	})
}

// NodeSkipped emits the node.skipped event.
func (e *Emitter) NodeSkipped(nodeID, reason string) {
	e.emit(EventNodeSkipped, NodeSkippedData{NodeID: nodeID, Reason: reason})
}

// NodeInputRequired emits the node.input_required event.
func (e *Emitter) NodeInputRequired(nodeID, prompt string) {
	e.emit(EventNodeInputRequired, NodeInputRequiredData{NodeID: nodeID, Prompt: prompt})
}

// DispatchStarted emits the dispatch.started event.
func (e *Emitter) DispatchStarted(endpoint, method, nodeID string) {
	e.emit(EventDispatchStarted, DispatchStartedData{
		Endpoint: endpoint,
		Method:   method,
		NodeID:   nodeID,
	})
}

// DispatchCompleted emits the dispatch.completed event.
func (e *Emitter) DispatchCompleted(endpoint, method, nodeID string, duration time.Duration) {
	e.emit(EventDispatchCompleted, DispatchCompletedData{
		Endpoint: endpoint,
		Method:   method,
		NodeID:   nodeID,
		Duration: duration,
	})
}

// DispatchFailed emits the dispatch.failed event.
func (e *Emitter) DispatchFailed(endpoint, method, nodeID string, attempts int, err error, duration time.Duration) {
	e.emit(EventDispatchFailed, DispatchFailedData{
		Endpoint: endpoint,
		Method:   method,
		NodeID:   nodeID,
		Attempts: attempts,
		Error:    err,
		Duration: duration,
	})
}

// ValidationPassed emits the validation.passed event.
func (e *Emitter) ValidationPassed(nodeID, domain string, overall float64, duration time.Duration) {
	e.emit(EventValidationPassed, ValidationPassedData{
		NodeID:   nodeID,
		Domain:   domain,
		Overall:  overall,
		Duration: duration,
	})
}

// ValidationFailed emits the validation.failed event.
func (e *Emitter) ValidationFailed(nodeID, domain string, overall float64, failing []string, duration time.Duration) {
	e.emit(EventValidationFailed, ValidationFailedData{
		NodeID:   nodeID,
		Domain:   domain,
		Overall:  overall,
		Failing:  failing,
		Duration: duration,
	})
}

// PlanCreated emits the plan.created event.
func (e *Emitter) PlanCreated(strategy string, nodeCount, edgeCount int) {
	e.emit(EventPlanCreated, PlanCreatedData{
		Strategy:  strategy,
		NodeCount: nodeCount,
		EdgeCount: edgeCount,
	})
}

// PlanAdjusted emits the plan.adjusted event.
func (e *Emitter) PlanAdjusted(reason string, nodesAdded, nodesRemoved int) {
	e.emit(EventPlanAdjusted, PlanAdjustedData{
		Reason:       reason,
		NodesAdded:   nodesAdded,
		NodesRemoved: nodesRemoved,
	})
}

// GraphMutated emits the graph.mutated event.
func (e *Emitter) GraphMutated(op, nodeID string) {
	e.emit(EventGraphMutated, GraphMutatedData{Op: op, NodeID: nodeID})
}
