package prometheus

import (
	"github.com/budprat/agentic-5-sub002/runtime/events"
)

// Status constants for metric labels.
const (
	statusSuccess   = "success"
	statusError     = "error"
	statusSkipped   = "skipped"
	statusCancelled = "cancelled"
	statusPassed    = "passed"
	statusFailed    = "failed"
)

// MetricsListener records runtime events as Prometheus metrics.
// It implements the events.Listener signature and should be registered
// with an EventBus using SubscribeAll.
type MetricsListener struct{}

// NewMetricsListener creates a new MetricsListener.
func NewMetricsListener() *MetricsListener {
	return &MetricsListener{}
}

// Handle processes an event and records relevant metrics.
func (l *MetricsListener) Handle(event *events.Event) {
	//exhaustive:ignore
	switch event.Type {
	case events.EventSessionStarted:
		RecordSessionStart()
	case events.EventSessionCompleted:
		l.handleSessionCompleted(event)
	case events.EventSessionFailed:
		l.handleSessionFailed(event)
	case events.EventSessionCancelled:
		l.handleSessionCancelled(event)
	case events.EventPhaseCompleted:
		l.handlePhaseCompleted(event)
	case events.EventNodeCompleted:
		l.handleNodeCompleted(event)
	case events.EventNodeFailed:
		l.handleNodeFailed(event)
	case events.EventNodeSkipped:
		l.handleNodeSkipped(event)
	case events.EventDispatchCompleted:
		l.handleDispatchCompleted(event)
	case events.EventDispatchFailed:
		l.handleDispatchFailed(event)
	case events.EventValidationPassed:
		l.handleValidationPassed(event)
	case events.EventValidationFailed:
		l.handleValidationFailed(event)
	default:
		// Ignore events that don't have metrics
	}
}

func (l *MetricsListener) handleSessionCompleted(event *events.Event) {
	if data, ok := event.Data.(events.SessionCompletedData); ok {
		RecordSessionEnd(statusSuccess, data.Duration.Seconds())
	}
}

func (l *MetricsListener) handleSessionFailed(event *events.Event) {
	if data, ok := event.Data.(events.SessionFailedData); ok {
		RecordSessionEnd(statusError, data.Duration.Seconds())
	}
}

func (l *MetricsListener) handleSessionCancelled(event *events.Event) {
	if data, ok := event.Data.(events.SessionCancelledData); ok {
		RecordSessionEnd(statusCancelled, data.Duration.Seconds())
	}
}

func (l *MetricsListener) handlePhaseCompleted(event *events.Event) {
	if data, ok := event.Data.(events.PhaseCompletedData); ok {
		RecordPhase(data.Phase, data.Duration.Seconds())
	}
}

func (l *MetricsListener) handleNodeCompleted(event *events.Event) {
	if data, ok := event.Data.(events.NodeCompletedData); ok {
		RecordNode(data.AgentID, statusSuccess, data.Duration.Seconds())
	}
}

func (l *MetricsListener) handleNodeFailed(event *events.Event) {
	if data, ok := event.Data.(events.NodeFailedData); ok {
		RecordNode(data.AgentID, statusError, data.Duration.Seconds())
	}
}

func (l *MetricsListener) handleNodeSkipped(event *events.Event) {
	// Skipped nodes never ran, so there is no agent or duration to label.
	if _, ok := event.Data.(events.NodeSkippedData); ok {
		nodesTotal.WithLabelValues("none", statusSkipped).Inc()
	}
}

func (l *MetricsListener) handleDispatchCompleted(event *events.Event) {
	if data, ok := event.Data.(events.DispatchCompletedData); ok {
		RecordDispatch(data.Method, statusSuccess, data.Duration.Seconds())
	}
}

func (l *MetricsListener) handleDispatchFailed(event *events.Event) {
	if data, ok := event.Data.(events.DispatchFailedData); ok {
		RecordDispatch(data.Method, statusError, data.Duration.Seconds())
	}
}

func (l *MetricsListener) handleValidationPassed(event *events.Event) {
	if data, ok := event.Data.(events.ValidationPassedData); ok {
		RecordValidation(data.Domain, statusPassed, data.Duration.Seconds())
	}
}

func (l *MetricsListener) handleValidationFailed(event *events.Event) {
	if data, ok := event.Data.(events.ValidationFailedData); ok {
		RecordValidation(data.Domain, statusFailed, data.Duration.Seconds())
	}
}

// Listener returns an events.Listener function that can be registered
// with an EventBus.
func (l *MetricsListener) Listener() events.Listener {
	return l.Handle
}
