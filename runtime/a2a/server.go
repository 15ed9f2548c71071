package a2a

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/budprat/agentic-5-sub002/runtime/logger"
)

const (
	// idBytes is the number of random bytes used to generate task and
	// context IDs.
	idBytes = 16

	// defaultReadHeaderTimeout prevents Slowloris attacks.
	defaultReadHeaderTimeout = 10 * time.Second

	// defaultPageSize is used when ListTasksRequest.PageSize is 0.
	defaultPageSize = 100

	// sendSettleTime is how long handleSendMessage waits for fast tasks
	// to settle before returning the task in its current state.
	sendSettleTime = 5 * time.Millisecond
)

// ServerOption configures a [Server].
type ServerOption func(*Server)

// WithCard sets the agent card served at the well-known path.
func WithCard(card *AgentCard) ServerOption {
	return func(s *Server) { s.card = *card }
}

// WithPort sets the TCP port for ListenAndServe.
func WithPort(port int) ServerOption {
	return func(s *Server) { s.port = port }
}

// WithTaskStore sets a custom task store. Defaults to an in-memory store.
func WithTaskStore(store TaskStore) ServerOption {
	return func(s *Server) { s.taskStore = store }
}

// Server exposes a hosted agent as an A2A-compliant JSON-RPC endpoint
// with SSE streaming.
type Server struct {
	agent     AgentStreamer
	taskStore TaskStore
	card      AgentCard
	port      int
	httpSrv   *http.Server

	subsMu sync.Mutex
	subs   map[string]*taskBroadcaster // task_id -> broadcaster

	cancelsMu sync.Mutex
	cancels   map[string]context.CancelFunc // task_id -> cancel for in-flight work

	pendingMu sync.Mutex
	pending   map[string]*EventQueue // input-required tasks awaiting follow-up
}

// NewServer creates a new A2A server hosting agent.
func NewServer(agent AgentStreamer, opts ...ServerOption) *Server {
	s := &Server{
		agent:   agent,
		subs:    make(map[string]*taskBroadcaster),
		cancels: make(map[string]context.CancelFunc),
		pending: make(map[string]*EventQueue),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.taskStore == nil {
		s.taskStore = NewInMemoryTaskStore()
	}
	return s
}

// Handler returns an http.Handler implementing the A2A protocol.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+AgentCardPath, s.handleAgentCard)
	mux.HandleFunc("POST "+RPCPath, s.handleRPC)
	return mux
}

// ListenAndServe starts the HTTP server on the configured port.
func (s *Server) ListenAndServe() error {
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	return s.httpSrv.ListenAndServe()
}

// Serve starts the HTTP server on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	return s.httpSrv.Serve(ln)
}

// Shutdown gracefully shuts down the server: drains HTTP requests,
// cancels in-flight tasks, and closes open queues.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error

	if s.httpSrv != nil {
		firstErr = s.httpSrv.Shutdown(ctx)
	}

	s.cancelsMu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = make(map[string]context.CancelFunc)
	s.cancelsMu.Unlock()

	s.pendingMu.Lock()
	for id, q := range s.pending {
		q.Close()
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()

	s.closeAllBroadcasters()

	return firstErr
}

// handleAgentCard serves the agent card as JSON.
func (s *Server) handleAgentCard(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.card)
}

// handleRPC dispatches a JSON-RPC 2.0 request to the appropriate handler.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, nil, CodeParseError, "Parse error")
		return
	}

	switch req.Method {
	case MethodSendMessage:
		s.handleSendMessage(w, r, &req)
	case MethodSendStreamingMessage:
		s.handleStreamMessage(w, r, &req)
	case MethodGetTask:
		s.handleGetTask(w, &req)
	case MethodCancelTask:
		s.handleCancelTask(w, &req)
	case MethodSubscribeTask:
		s.handleTaskSubscribe(w, r, &req)
	case MethodListTasks:
		s.handleListTasks(w, &req)
	default:
		writeRPCError(w, req.ID, CodeMethodNotFound, "Method not found")
	}
}

// handleSendMessage processes a message/send request. A message carrying
// a task ID resumes a paused task instead of starting a new one.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, req *JSONRPCRequest) {
	var params SendMessageRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeRPCError(w, req.ID, CodeInvalidParams, "Invalid params")
		return
	}

	query := QueryText(&params.Message)

	var taskID string
	var done <-chan struct{}

	if params.Message.TaskID != "" {
		taskID = params.Message.TaskID
		var rpcErr *JSONRPCError
		done, rpcErr = s.resumeTask(taskID, query)
		if rpcErr != nil {
			writeRPCError(w, req.ID, rpcErr.Code, rpcErr.Message)
			return
		}
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

		q := NewEventQueue()
		done = s.runTask(taskID, contextID, query, q)
	}

	if params.Configuration != nil && params.Configuration.Blocking {
		select {
		case <-done:
		case <-r.Context().Done():
		}
	} else {
		select {
		case <-done:
		case <-time.After(sendSettleTime):
		}
	}

	task, err := s.taskStore.Get(taskID)
	if err != nil {
		writeRPCError(w, req.ID, CodeInternalError, fmt.Sprintf("Task lookup failed: %v", err))
		return
	}
	writeRPCResult(w, req.ID, task)
}

// runTask starts the executor for a task and drains its queue in the
// background, feeding the broadcaster. The returned channel closes when
// the task settles or pauses for input.
func (s *Server) runTask(taskID, contextID, query string, q *EventQueue) <-chan struct{} {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelsMu.Lock()
	s.cancels[taskID] = cancel
	s.cancelsMu.Unlock()

	exec := NewExecutor(s.taskStore, s.agent)
	go exec.Execute(ctx, query, contextID, taskID, q)

	b := s.getBroadcaster(taskID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range q.Events() {
			broadcastEvent(b, nil, evt.Payload())

			if evt.IsFinal() {
				s.finishTask(taskID, b)
				return
			}
			if evt.InputRequired != nil {
				s.setPending(taskID, q)
				return
			}
		}
		s.finishTask(taskID, b)
	}()

	return done
}

// resumeTask restarts a paused task with follow-up input. The original
// event queue is reused so open subscriptions keep receiving events.
func (s *Server) resumeTask(taskID, query string) (<-chan struct{}, *JSONRPCError) {
	task, err := s.taskStore.Get(taskID)
	if err != nil {
		return nil, &JSONRPCError{Code: CodeInvalidParams, Message: fmt.Sprintf("Task not found: %v", err)}
	}
	if task.Status.State != TaskStateInputRequired {
		return nil, &JSONRPCError{
			Code:    CodeInvalidRequest,
			Message: fmt.Sprintf("Task %q is not awaiting input (state %q)", taskID, task.Status.State),
		}
	}

	s.pendingMu.Lock()
	q, ok := s.pending[taskID]
	if ok {
		delete(s.pending, taskID)
	}
	s.pendingMu.Unlock()

	if !ok {
		return nil, &JSONRPCError{Code: CodeInternalError, Message: "No pending queue for task"}
	}

	logger.Debug("resuming task with follow-up input", "task_id", taskID)
	return s.runTask(taskID, task.ContextID, query, q), nil
}

// finishTask tears down per-task state once the final event has gone out.
func (s *Server) finishTask(taskID string, b *taskBroadcaster) {
	b.close()
	s.removeBroadcaster(taskID)

	s.cancelsMu.Lock()
	delete(s.cancels, taskID)
	s.cancelsMu.Unlock()

	s.pendingMu.Lock()
	delete(s.pending, taskID)
	s.pendingMu.Unlock()
}

func (s *Server) setPending(taskID string, q *EventQueue) {
	s.pendingMu.Lock()
	s.pending[taskID] = q
	s.pendingMu.Unlock()
}

// handleGetTask processes a tasks/get request.
func (s *Server) handleGetTask(w http.ResponseWriter, req *JSONRPCRequest) {
	var params GetTaskRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeRPCError(w, req.ID, CodeInvalidParams, "Invalid params")
		return
	}

	task, err := s.taskStore.Get(params.ID)
	if err != nil {
		writeRPCError(w, req.ID, CodeInvalidParams, fmt.Sprintf("Task not found: %v", err))
		return
	}

	writeRPCResult(w, req.ID, task)
}

// handleCancelTask processes a tasks/cancel request.
func (s *Server) handleCancelTask(w http.ResponseWriter, req *JSONRPCRequest) {
	var params CancelTaskRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeRPCError(w, req.ID, CodeInvalidParams, "Invalid params")
		return
	}

	// Cancel in-flight work if running.
	s.cancelsMu.Lock()
	if cancel, ok := s.cancels[params.ID]; ok {
		cancel()
		delete(s.cancels, params.ID)
	}
	s.cancelsMu.Unlock()

	// The executor may have already canceled the task when its context
	// was torn down above, so a canceled task is treated as success.
	if err := s.taskStore.Cancel(params.ID); err != nil {
		task, getErr := s.taskStore.Get(params.ID)
		if getErr != nil || task.Status.State != TaskStateCanceled {
			writeRPCError(w, req.ID, CodeInvalidParams, fmt.Sprintf("Cancel failed: %v", err))
			return
		}
	}

	task, _ := s.taskStore.Get(params.ID)
	writeRPCResult(w, req.ID, task)
}

// handleListTasks processes a tasks/list request.
func (s *Server) handleListTasks(w http.ResponseWriter, req *JSONRPCRequest) {
	var params ListTasksRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeRPCError(w, req.ID, CodeInvalidParams, "Invalid params")
		return
	}

	limit := params.PageSize
	if limit <= 0 {
		limit = defaultPageSize
	}

	tasks, err := s.taskStore.List(params.ContextID, limit, 0)
	if err != nil {
		writeRPCError(w, req.ID, CodeInternalError, fmt.Sprintf("List failed: %v", err))
		return
	}

	taskList := make([]Task, len(tasks))
	for i, t := range tasks {
		taskList[i] = *t
	}

	writeRPCResult(w, req.ID, ListTasksResponse{
		Tasks:    taskList,
		PageSize: limit,
	})
}

// generateID returns a random hex string suitable for task and context IDs.
func generateID() string {
	b := make([]byte, idBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// writeRPCResult writes a JSON-RPC 2.0 success response.
func writeRPCResult(w http.ResponseWriter, id, result any) {
	data, _ := json.Marshal(result)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  data,
	})
}

// writeRPCError writes a JSON-RPC 2.0 error response.
func writeRPCError(w http.ResponseWriter, id any, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: msg},
	})
}
