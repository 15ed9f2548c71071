package a2a

import (
	"context"
	"sync"

	"github.com/budprat/agentic-5-sub002/runtime/logger"
)

// eventQueueBuffer is the channel buffer size for executor event queues.
const eventQueueBuffer = 64

// AgentChunk is a single unit of output yielded by an agent's streaming
// function.
type AgentChunk struct {
	// Text is incremental textual content.
	Text string

	// Data, when non-nil, carries a non-textual payload delivered as an
	// artifact.
	Data any

	// RequireUserInput pauses the task pending a follow-up message.
	// InputPrompt tells the caller what is needed.
	RequireUserInput bool
	InputPrompt      string

	// TaskComplete marks the last chunk of the task.
	TaskComplete bool

	// Err aborts the task.
	Err error
}

// AgentStreamer is the agent implementation hosted behind a Server. Each
// call streams chunks for one task until completion, pause, or error.
type AgentStreamer interface {
	Stream(ctx context.Context, query, contextID, taskID string) (<-chan AgentChunk, error)
}

// EventQueue carries stream events from the executor to the transport.
// It enforces exactly one final event per task: events enqueued after the
// final one are dropped.
type EventQueue struct {
	mu        sync.Mutex
	ch        chan StreamEvent
	closed    bool
	finalSent bool
}

// NewEventQueue creates an event queue.
func NewEventQueue() *EventQueue {
	return &EventQueue{ch: make(chan StreamEvent, eventQueueBuffer)}
}

// Enqueue adds an event to the queue. After a final event has been sent
// the queue is closed and later events are dropped.
func (q *EventQueue) Enqueue(evt StreamEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.finalSent {
		return
	}

	q.ch <- evt

	if evt.IsFinal() {
		q.finalSent = true
		q.closed = true
		close(q.ch)
	}
}

// Close closes the queue without a final event. Used when a task pauses
// for input or the server shuts down.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Events returns the receive side of the queue.
func (q *EventQueue) Events() <-chan StreamEvent {
	return q.ch
}

// Executor adapts a hosted agent to the A2A event protocol. It invokes
// the agent's streaming function and translates each chunk into task
// store transitions and stream events.
type Executor struct {
	store TaskStore
	agent AgentStreamer
}

// NewExecutor creates an executor for agent backed by store.
func NewExecutor(store TaskStore, agent AgentStreamer) *Executor {
	return &Executor{store: store, agent: agent}
}

// Execute drives one agent invocation for taskID. The task must exist in
// the submitted or input-required state. Events are delivered on q; the
// queue is closed when the task settles, and left open only when the task
// pauses for input.
func (e *Executor) Execute(ctx context.Context, query, contextID, taskID string, q *EventQueue) {
	if err := e.store.SetState(taskID, TaskStateWorking, nil); err != nil {
		e.fail(taskID, q, "task not runnable: "+err.Error())
		return
	}
	q.Enqueue(StreamEvent{StatusUpdate: &TaskStatusUpdateEvent{
		Kind:      EventKindStatusUpdate,
		TaskID:    taskID,
		ContextID: contextID,
		Status:    TaskStatus{State: TaskStateWorking},
	}})

	chunks, err := e.agent.Stream(ctx, query, contextID, taskID)
	if err != nil {
		e.fail(taskID, q, err.Error())
		return
	}

	e.consume(ctx, chunks, contextID, taskID, q)
}

// consume translates agent chunks into events until the task settles.
func (e *Executor) consume(ctx context.Context, chunks <-chan AgentChunk, contextID, taskID string, q *EventQueue) {
	artifactIdx := 0

	for {
		select {
		case <-ctx.Done():
			_ = e.store.Cancel(taskID)
			q.Enqueue(StreamEvent{StatusUpdate: &TaskStatusUpdateEvent{
				Kind:      EventKindStatusUpdate,
				TaskID:    taskID,
				ContextID: contextID,
				Status:    TaskStatus{State: TaskStateCanceled},
				Final:     true,
			}})
			return

		case chunk, ok := <-chunks:
			if !ok {
				// Channel closed without a completion chunk.
				e.complete(taskID, contextID, nil, q)
				return
			}

			switch {
			case chunk.Err != nil:
				e.fail(taskID, q, chunk.Err.Error())
				return

			case chunk.RequireUserInput:
				_ = e.store.SetState(taskID, TaskStateInputRequired, nil)
				q.Enqueue(StreamEvent{InputRequired: &InputRequiredEvent{
					Kind:      EventKindInputRequired,
					TaskID:    taskID,
					ContextID: contextID,
					Prompt:    chunk.InputPrompt,
				}})
				logger.Debug("task paused for input", "task_id", taskID)
				// Queue stays open pending a follow-up message.
				return

			case chunk.TaskComplete:
				var parts []Part
				if chunk.Data != nil {
					e.emitArtifact(taskID, contextID, chunk, &artifactIdx, true, q)
					e.completeStored(taskID)
					return
				}
				if chunk.Text != "" {
					parts = []Part{TextPart(chunk.Text)}
				}
				e.complete(taskID, contextID, parts, q)
				return

			case chunk.Data != nil:
				e.emitArtifact(taskID, contextID, chunk, &artifactIdx, false, q)

			default:
				q.Enqueue(StreamEvent{StatusUpdate: &TaskStatusUpdateEvent{
					Kind:      EventKindStatusUpdate,
					TaskID:    taskID,
					ContextID: contextID,
					Status: TaskStatus{
						State:   TaskStateWorking,
						Message: &Message{Role: RoleAgent, Parts: []Part{TextPart(chunk.Text)}},
					},
				}})
			}
		}
	}
}

// emitArtifact stores and emits a data-bearing chunk as an artifact.
func (e *Executor) emitArtifact(taskID, contextID string, chunk AgentChunk, idx *int, final bool, q *EventQueue) {
	parts := []Part{DataPart(chunk.Data)}
	if chunk.Text != "" {
		parts = append([]Part{TextPart(chunk.Text)}, parts...)
	}
	artifact := Artifact{
		ArtifactID: artifactID(*idx),
		Parts:      parts,
	}
	*idx++

	_ = e.store.AddArtifacts(taskID, []Artifact{artifact})
	q.Enqueue(StreamEvent{ArtifactUpdate: &TaskArtifactUpdateEvent{
		Kind:      EventKindArtifactUpdate,
		TaskID:    taskID,
		ContextID: contextID,
		Artifact:  artifact,
		Append:    true,
		Final:     final,
	}})
}

// complete settles the task and emits the final streaming response.
func (e *Executor) complete(taskID, contextID string, parts []Part, q *EventQueue) {
	if len(parts) > 0 {
		_ = e.store.AddArtifacts(taskID, []Artifact{{
			ArtifactID: "artifact-final",
			Parts:      parts,
		}})
	}
	e.completeStored(taskID)
	q.Enqueue(StreamEvent{StreamingResponse: &StreamingResponseEvent{
		Kind:      EventKindStreamingResponse,
		TaskID:    taskID,
		ContextID: contextID,
		Parts:     parts,
		Final:     true,
	}})
}

func (e *Executor) completeStored(taskID string) {
	_ = e.store.SetState(taskID, TaskStateCompleted, nil)
}

// fail settles the task as failed and emits the final error event.
func (e *Executor) fail(taskID string, q *EventQueue, detail string) {
	_ = e.store.SetState(taskID, TaskStateFailed, &Message{
		Role:  RoleAgent,
		Parts: []Part{TextPart(detail)},
	})
	q.Enqueue(StreamEvent{Error: &ErrorEvent{
		Kind:        EventKindError,
		TaskID:      taskID,
		Code:        CodeInternalError,
		Message:     detail,
		Recoverable: false,
		Final:       true,
	}})
	logger.Warn("task failed", "task_id", taskID, "detail", detail)
}
