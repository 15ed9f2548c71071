package a2a

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// subscriberBuffer is the channel buffer size for broadcast subscribers.
const subscriberBuffer = 64

// ssePayload is a single SSE payload ready to be written.
type ssePayload struct {
	Data []byte // JSON-encoded JSON-RPC response
}

// taskBroadcaster fans out SSE events to multiple subscribers for a
// single task.
type taskBroadcaster struct {
	mu     sync.Mutex
	subs   []chan ssePayload
	closed bool
}

// subscribe adds a new subscriber and returns its channel.
func (b *taskBroadcaster) subscribe() <-chan ssePayload {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan ssePayload, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// unsubscribe removes a subscriber channel.
func (b *taskBroadcaster) unsubscribe(ch <-chan ssePayload) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// send broadcasts an event to all subscribers. A subscriber whose buffer
// is full is closed and dropped; its stream loop then terminates instead
// of waiting forever for a final event that was silently discarded.
func (b *taskBroadcaster) send(evt ssePayload) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	kept := b.subs[:0]
	for _, ch := range b.subs {
		select {
		case ch <- evt:
			kept = append(kept, ch)
		default:
			close(ch)
		}
	}
	b.subs = kept
}

// close marks the broadcaster as closed and closes all subscriber
// channels.
func (b *taskBroadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// getBroadcaster returns or creates a broadcaster for the given task ID.
func (s *Server) getBroadcaster(taskID string) *taskBroadcaster {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	b, ok := s.subs[taskID]
	if !ok {
		b = &taskBroadcaster{}
		s.subs[taskID] = b
	}
	return b
}

// removeBroadcaster removes a broadcaster from the map.
func (s *Server) removeBroadcaster(taskID string) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	delete(s.subs, taskID)
}

// closeAllBroadcasters closes all active broadcasters.
func (s *Server) closeAllBroadcasters() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for id, b := range s.subs {
		b.close()
		delete(s.subs, id)
	}
}

// marshalRaw marshals v to json.RawMessage.
func marshalRaw(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

// broadcastEvent wraps event in a JSON-RPC envelope and sends it to the
// broadcaster.
func broadcastEvent(b *taskBroadcaster, rpcID, event any) {
	data, _ := json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      rpcID,
		Result:  marshalRaw(event),
	})
	b.send(ssePayload{Data: data})
}

// writeSSE writes a single SSE event to the response.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, id, event any) {
	data, _ := json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  marshalRaw(event),
	})
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// setSSEHeaders prepares the response for server-sent events.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// handleStreamMessage processes a message/stream request. The subscriber
// is attached before the executor starts so no event is missed. A message
// carrying a task ID resumes a paused task and streams its remaining
// events.
func (s *Server) handleStreamMessage(w http.ResponseWriter, r *http.Request, req *JSONRPCRequest) {
	var params SendMessageRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeRPCError(w, req.ID, CodeInvalidParams, "Invalid params")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeRPCError(w, req.ID, CodeInternalError, "Streaming not supported")
		return
	}

	query := QueryText(&params.Message)

	var taskID string
	if params.Message.TaskID != "" {
		taskID = params.Message.TaskID
	} else {
		contextID := params.Message.ContextID
		if contextID == "" {
			contextID = generateID()
		}
		taskID = generateID()
		if _, err := s.taskStore.Create(taskID, contextID); err != nil {
			writeRPCError(w, req.ID, CodeInternalError, fmt.Sprintf("Failed to create task: %v", err))
			return
		}
	}

	b := s.getBroadcaster(taskID)
	ch := b.subscribe()
	defer b.unsubscribe(ch)

	if params.Message.TaskID != "" {
		if _, rpcErr := s.resumeTask(taskID, query); rpcErr != nil {
			writeRPCError(w, req.ID, rpcErr.Code, rpcErr.Message)
			return
		}
	} else {
		task, _ := s.taskStore.Get(taskID)
		s.runTask(taskID, task.ContextID, query, NewEventQueue())
	}

	setSSEHeaders(w)
	s.streamPayloads(w, r, flusher, ch)
}

// streamPayloads copies broadcast payloads to the SSE response until the
// broadcaster closes or the client disconnects.
func (s *Server) streamPayloads(w http.ResponseWriter, r *http.Request, flusher http.Flusher, ch <-chan ssePayload) {
	ctx := r.Context()
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			_, _ = fmt.Fprintf(w, "data: %s\n\n", evt.Data)
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// handleTaskSubscribe processes a tasks/subscribe request by attaching to
// the task's live broadcaster, or replaying the current status when no
// stream is active.
func (s *Server) handleTaskSubscribe(w http.ResponseWriter, r *http.Request, req *JSONRPCRequest) {
	var params SubscribeTaskRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeRPCError(w, req.ID, CodeInvalidParams, "Invalid params")
		return
	}

	s.subsMu.Lock()
	broadcaster, hasBroadcaster := s.subs[params.ID]
	s.subsMu.Unlock()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeRPCError(w, req.ID, CodeInternalError, "Streaming not supported")
		return
	}

	if !hasBroadcaster {
		task, err := s.taskStore.Get(params.ID)
		if err != nil {
			writeRPCError(w, req.ID, CodeInvalidParams, fmt.Sprintf("Task not found: %v", err))
			return
		}

		// Task exists but no active stream. Send its current status.
		setSSEHeaders(w)
		writeSSE(w, flusher, req.ID, TaskStatusUpdateEvent{
			Kind:      EventKindStatusUpdate,
			TaskID:    task.ID,
			ContextID: task.ContextID,
			Status:    task.Status,
			Final:     IsTerminal(task.Status.State),
		})
		return
	}

	ch := broadcaster.subscribe()
	defer broadcaster.unsubscribe(ch)

	setSSEHeaders(w)
	s.streamPayloads(w, r, flusher, ch)
}
