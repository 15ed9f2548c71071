package telemetry

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/budprat/agentic-5-sub002/runtime/events"
)

// spanEntry tracks an in-flight span and its context.
type spanEntry struct {
	span trace.Span
	ctx  context.Context //nolint:containedctx // needed to parent child spans
}

// pendingEnd buffers a span completion that arrived before the corresponding
// start. The EventBus dispatches each Publish in a separate goroutine, so
// completion events can race ahead of start events.
type pendingEnd struct {
	errMsg string // empty means success
	attrs  []attribute.KeyValue
}

// OTelEventListener converts orchestration events into OTel spans in real
// time: one root span per session, child spans per phase, node, and agent
// dispatch, and span events for validation and plan activity. It is safe for
// concurrent use and tolerates out-of-order event delivery.
type OTelEventListener struct {
	tracer trace.Tracer

	mu          sync.Mutex
	sessions    map[string]*spanEntry  // sessionID → root span + ctx
	inflight    map[string]*spanEntry  // span key → span + ctx
	pendingEnds map[string]*pendingEnd // buffered completions for out-of-order delivery
}

// NewOTelEventListener creates a listener that mirrors orchestration events
// as OTel spans. Subscribe its OnEvent method on the event bus.
func NewOTelEventListener(tracer trace.Tracer) *OTelEventListener {
	return &OTelEventListener{
		tracer:      tracer,
		sessions:    make(map[string]*spanEntry),
		inflight:    make(map[string]*spanEntry),
		pendingEnds: make(map[string]*pendingEnd),
	}
}

// OnEvent handles a single orchestration event. It can be passed to
// EventBus.SubscribeAll.
func (l *OTelEventListener) OnEvent(evt *events.Event) {
	switch evt.Type {
	case events.EventSessionStarted:
		l.startSession(evt)
	case events.EventSessionCompleted:
		l.endSession(evt, "")
	case events.EventSessionFailed:
		if data, ok := asPtr[events.SessionFailedData](evt.Data); ok {
			l.endSession(evt, data.Error.Error())
		}
	case events.EventSessionCancelled:
		l.endSession(evt, "cancelled")

	case events.EventPhaseStarted:
		l.startPhase(evt)
	case events.EventPhaseCompleted:
		l.completePhase(evt)

	case events.EventNodeDispatched:
		l.startNode(evt)
	case events.EventNodeCompleted:
		l.completeNode(evt)
	case events.EventNodeFailed:
		l.failNode(evt)
	case events.EventNodeInputRequired:
		l.pauseNode(evt)
	case events.EventNodeSkipped:
		l.recordSkip(evt)

	case events.EventDispatchStarted:
		l.startDispatch(evt)
	case events.EventDispatchCompleted:
		l.completeDispatch(evt)
	case events.EventDispatchFailed:
		l.failDispatch(evt)

	case events.EventValidationPassed, events.EventValidationFailed:
		l.recordValidation(evt)

	case events.EventPlanCreated, events.EventPlanAdjusted, events.EventGraphMutated:
		l.recordPlanActivity(evt)
	}
}

// --- Session ---

func (l *OTelEventListener) startSession(evt *events.Event) {
	attrs := []attribute.KeyValue{attribute.String("session.id", evt.SessionID)}
	if data, ok := asPtr[events.SessionStartedData](evt.Data); ok {
		attrs = append(attrs, attribute.Int("session.query_length", len(data.Query)))
	}
	ctx, span := l.tracer.Start(context.Background(), "agentic.session",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	l.mu.Lock()
	l.sessions[evt.SessionID] = &spanEntry{span: span, ctx: ctx}
	l.mu.Unlock()
}

func (l *OTelEventListener) endSession(evt *events.Event, errMsg string) {
	l.mu.Lock()
	entry, ok := l.sessions[evt.SessionID]
	if ok {
		delete(l.sessions, evt.SessionID)
	}
	l.mu.Unlock()
	if !ok {
		return
	}

	if data, ok := asPtr[events.SessionCompletedData](evt.Data); ok {
		entry.span.SetAttributes(
			attribute.Int64("session.duration_ms", data.Duration.Milliseconds()),
			attribute.Int("session.node_count", data.NodeCount),
			attribute.Float64("session.quality", data.Overall),
		)
	}
	if errMsg != "" {
		entry.span.SetStatus(codes.Error, errMsg)
	} else {
		entry.span.SetStatus(codes.Ok, "")
	}
	entry.span.End()
}

// sessionCtx returns the context for the session so child spans parent under
// the root. Falls back to context.Background() if the session is unknown.
func (l *OTelEventListener) sessionCtx(sessionID string) context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.sessions[sessionID]; ok {
		return entry.ctx
	}
	return context.Background()
}

// startSpan starts a span parented under the session root and stores it in
// inflight. If a completion was already buffered (out-of-order delivery), the
// span is immediately ended.
func (l *OTelEventListener) startSpan(
	sessionID, key, name string, kind trace.SpanKind, attrs ...attribute.KeyValue,
) {
	parentCtx := l.sessionCtx(sessionID)
	ctx, span := l.tracer.Start(parentCtx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
	)
	l.mu.Lock()
	pe, havePending := l.pendingEnds[key]
	if havePending {
		delete(l.pendingEnds, key)
	} else {
		l.inflight[key] = &spanEntry{span: span, ctx: ctx}
	}
	l.mu.Unlock()

	if havePending {
		span.SetAttributes(pe.attrs...)
		if pe.errMsg != "" {
			span.SetStatus(codes.Error, pe.errMsg)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// endSpan ends an inflight span. If the span hasn't started yet, the
// completion is buffered and applied when startSpan creates the span.
func (l *OTelEventListener) endSpan(key string, attrs ...attribute.KeyValue) {
	l.mu.Lock()
	entry, ok := l.inflight[key]
	if ok {
		delete(l.inflight, key)
	} else {
		l.pendingEnds[key] = &pendingEnd{attrs: attrs}
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	entry.span.SetAttributes(attrs...)
	entry.span.SetStatus(codes.Ok, "")
	entry.span.End()
}

// failSpan ends an inflight span with an error status, buffering on
// out-of-order delivery like endSpan.
func (l *OTelEventListener) failSpan(key, errMsg string, attrs ...attribute.KeyValue) {
	l.mu.Lock()
	entry, ok := l.inflight[key]
	if ok {
		delete(l.inflight, key)
	} else {
		l.pendingEnds[key] = &pendingEnd{errMsg: errMsg, attrs: attrs}
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	entry.span.SetAttributes(attrs...)
	entry.span.SetStatus(codes.Error, errMsg)
	entry.span.End()
}

// asPtr extracts event data as a pointer, handling both value and pointer
// payloads.
func asPtr[T any](data any) (*T, bool) {
	if p, ok := data.(*T); ok {
		return p, true
	}
	if v, ok := data.(T); ok {
		return &v, true
	}
	return nil, false
}

// --- Phase ---

func phaseKey(sessionID, phase string) string {
	return "phase:" + sessionID + ":" + phase
}

func (l *OTelEventListener) startPhase(evt *events.Event) {
	data, ok := asPtr[events.PhaseStartedData](evt.Data)
	if !ok {
		return
	}
	l.startSpan(evt.SessionID, phaseKey(evt.SessionID, data.Phase),
		"agentic.phase."+strings.ToLower(data.Phase),
		trace.SpanKindInternal,
		attribute.String("phase.name", data.Phase),
	)
}

func (l *OTelEventListener) completePhase(evt *events.Event) {
	data, ok := asPtr[events.PhaseCompletedData](evt.Data)
	if !ok {
		return
	}
	l.endSpan(phaseKey(evt.SessionID, data.Phase),
		attribute.Int64("phase.duration_ms", data.Duration.Milliseconds()),
	)
}

// --- Node ---

func nodeKey(sessionID, nodeID string) string {
	return "node:" + sessionID + ":" + nodeID
}

func (l *OTelEventListener) startNode(evt *events.Event) {
	data, ok := asPtr[events.NodeDispatchedData](evt.Data)
	if !ok {
		return
	}
	l.startSpan(evt.SessionID, nodeKey(evt.SessionID, data.NodeID), "agentic.node",
		trace.SpanKindInternal,
		attribute.String("node.id", data.NodeID),
		attribute.String("agent.id", data.AgentID),
		attribute.Int("node.level", data.Level),
	)
}

func (l *OTelEventListener) completeNode(evt *events.Event) {
	data, ok := asPtr[events.NodeCompletedData](evt.Data)
	if !ok {
		return
	}
	l.endSpan(nodeKey(evt.SessionID, data.NodeID),
		attribute.Int64("node.duration_ms", data.Duration.Milliseconds()),
	)
}

func (l *OTelEventListener) failNode(evt *events.Event) {
	data, ok := asPtr[events.NodeFailedData](evt.Data)
	if !ok {
		return
	}
	l.failSpan(nodeKey(evt.SessionID, data.NodeID), data.Error.Error(),
		attribute.Int64("node.duration_ms", data.Duration.Milliseconds()),
	)
}

// pauseNode ends the node span when it parks on user input. The resumed
// dispatch opens a fresh span.
func (l *OTelEventListener) pauseNode(evt *events.Event) {
	data, ok := asPtr[events.NodeInputRequiredData](evt.Data)
	if !ok {
		return
	}
	l.endSpan(nodeKey(evt.SessionID, data.NodeID),
		attribute.Bool("node.input_required", true),
	)
}

func (l *OTelEventListener) recordSkip(evt *events.Event) {
	data, ok := asPtr[events.NodeSkippedData](evt.Data)
	if !ok {
		return
	}
	l.addRootEvent(evt.SessionID, "node.skipped",
		attribute.String("node.id", data.NodeID),
		attribute.String("skip.reason", data.Reason),
	)
}

// --- Dispatch ---

func dispatchKey(sessionID, nodeID string) string {
	return "dispatch:" + sessionID + ":" + nodeID
}

func (l *OTelEventListener) startDispatch(evt *events.Event) {
	data, ok := asPtr[events.DispatchStartedData](evt.Data)
	if !ok {
		return
	}
	l.startSpan(evt.SessionID, dispatchKey(evt.SessionID, data.NodeID), "agentic.dispatch",
		trace.SpanKindClient,
		attribute.String("rpc.method", data.Method),
		attribute.String("peer.endpoint", data.Endpoint),
		attribute.String("node.id", data.NodeID),
	)
}

func (l *OTelEventListener) completeDispatch(evt *events.Event) {
	data, ok := asPtr[events.DispatchCompletedData](evt.Data)
	if !ok {
		return
	}
	l.endSpan(dispatchKey(evt.SessionID, data.NodeID),
		attribute.Int64("dispatch.duration_ms", data.Duration.Milliseconds()),
	)
}

func (l *OTelEventListener) failDispatch(evt *events.Event) {
	data, ok := asPtr[events.DispatchFailedData](evt.Data)
	if !ok {
		return
	}
	l.failSpan(dispatchKey(evt.SessionID, data.NodeID), data.Error.Error(),
		attribute.Int64("dispatch.duration_ms", data.Duration.Milliseconds()),
		attribute.Int("dispatch.attempts", data.Attempts),
	)
}

// --- Validation and plan activity ---

// recordValidation attaches a validation result to the node span when it is
// still inflight, otherwise to the session root.
func (l *OTelEventListener) recordValidation(evt *events.Event) {
	var (
		name  string
		attrs []attribute.KeyValue
		node  string
	)
	switch data := evt.Data.(type) {
	case events.ValidationPassedData:
		name, node = "quality.validation.passed", data.NodeID
		attrs = []attribute.KeyValue{
			attribute.String("quality.domain", data.Domain),
			attribute.Float64("quality.overall", data.Overall),
		}
	case events.ValidationFailedData:
		name, node = "quality.validation.failed", data.NodeID
		attrs = []attribute.KeyValue{
			attribute.String("quality.domain", data.Domain),
			attribute.Float64("quality.overall", data.Overall),
			attribute.StringSlice("quality.failing", data.Failing),
		}
	default:
		return
	}

	l.mu.Lock()
	entry, ok := l.inflight[nodeKey(evt.SessionID, node)]
	if !ok {
		entry, ok = l.sessions[evt.SessionID]
	}
	l.mu.Unlock()
	if ok {
		entry.span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

func (l *OTelEventListener) recordPlanActivity(evt *events.Event) {
	switch data := evt.Data.(type) {
	case events.PlanCreatedData:
		l.addRootEvent(evt.SessionID, "plan.created",
			attribute.String("plan.strategy", data.Strategy),
			attribute.Int("plan.node_count", data.NodeCount),
			attribute.Int("plan.edge_count", data.EdgeCount),
		)
	case events.PlanAdjustedData:
		l.addRootEvent(evt.SessionID, "plan.adjusted",
			attribute.String("plan.reason", data.Reason),
			attribute.Int("plan.nodes_added", data.NodesAdded),
			attribute.Int("plan.nodes_removed", data.NodesRemoved),
		)
	case events.GraphMutatedData:
		l.addRootEvent(evt.SessionID, "graph.mutated",
			attribute.String("graph.op", data.Op),
			attribute.String("node.id", data.NodeID),
		)
	}
}

func (l *OTelEventListener) addRootEvent(sessionID, name string, attrs ...attribute.KeyValue) {
	l.mu.Lock()
	entry, ok := l.sessions[sessionID]
	l.mu.Unlock()
	if ok {
		entry.span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}
