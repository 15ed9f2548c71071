// Package a2a implements the agent-to-agent protocol: JSON-RPC 2.0 over
// HTTP with server-sent-event streaming. It provides the wire types, a
// pooled client, a server-side executor adapter, and the task lifecycle
// store shared by both sides.
package a2a

import (
	"encoding/json"
	"fmt"
	"time"
)

// JSON-RPC methods understood by A2A agents.
const (
	MethodSendMessage          = "message/send"
	MethodSendStreamingMessage = "message/stream"
	MethodGetTask              = "tasks/get"
	MethodCancelTask           = "tasks/cancel"
	MethodSubscribeTask        = "tasks/subscribe"
	MethodListTasks            = "tasks/list"
)

// AgentCardPath is the well-known HTTP path serving the agent card.
// A GET returning 200 with a card body is the health probe contract.
const AgentCardPath = "/.well-known/agent-card"

// JSON-RPC error codes used on the wire.
const (
	CodeParseError       = -32700
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeAgentUnavailable = -32001
	CodeInputRequired    = -32002
	CodeQualityFailed    = -32003
	CodeTimeout          = -32004
)

// JSONRPCRequest is a JSON-RPC 2.0 request envelope.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response envelope.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError is the error member of a JSON-RPC 2.0 response.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Role identifies the author of a message.
type Role string

// Message roles.
const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Part kinds.
const (
	PartKindText = "text"
	PartKindData = "data"
)

// Part is one unit of message or artifact content. Kind selects which
// payload field is set: "text" carries Text, "data" carries arbitrary JSON.
type Part struct {
	Kind string          `json:"kind"`
	Text string          `json:"text,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// DataPart builds a data part from v. Marshal failures yield a null payload;
// callers control v and are expected to pass marshalable values.
func DataPart(v any) Part {
	data, err := json.Marshal(v)
	if err != nil {
		data = json.RawMessage("null")
	}
	return Part{Kind: PartKindData, Data: data}
}

// Message is the A2A message payload carried by message/send and
// message/stream.
type Message struct {
	Role      Role           `json:"role"`
	Parts     []Part         `json:"parts"`
	MessageID string         `json:"messageId,omitempty"`
	ContextID string         `json:"contextId,omitempty"`
	TaskID    string         `json:"taskId,omitempty"`
	Kind      string         `json:"kind,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskState is the lifecycle state of an A2A task.
type TaskState string

// Task states.
const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateFailed        TaskState = "failed"
	TaskStateCanceled      TaskState = "canceled"
)

// TaskStatus is the current state of a task plus an optional agent message.
type TaskStatus struct {
	State     TaskState  `json:"state"`
	Message   *Message   `json:"message,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Artifact is a named output produced by a task.
type Artifact struct {
	ArtifactID string `json:"artifactId"`
	Name       string `json:"name,omitempty"`
	Parts      []Part `json:"parts"`
}

// Task is the server-side record of one message exchange.
type Task struct {
	ID        string         `json:"id"`
	ContextID string         `json:"contextId"`
	Status    TaskStatus     `json:"status"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AgentCard is the immutable static descriptor of one agent, served at
// AgentCardPath and persisted as JSON on disk.
type AgentCard struct {
	AgentID       string   `json:"agent_id"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Tier          int      `json:"tier"`
	Host          string   `json:"host"`
	Port          int      `json:"port"`
	Capabilities  []string `json:"capabilities,omitempty"`
	Dependencies  []string `json:"dependencies,omitempty"`
	QualityDomain string   `json:"quality_domain,omitempty"`
	Status        string   `json:"status,omitempty"`
}

// Endpoint returns the agent's base URL.
func (c *AgentCard) Endpoint() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// Event kind discriminators carried in the "kind" field of stream events.
const (
	EventKindStatusUpdate      = "status-update"
	EventKindArtifactUpdate    = "artifact-update"
	EventKindStreamingResponse = "streaming-response"
	EventKindInputRequired     = "input-required"
	EventKindError             = "error"
)

// TaskStatusUpdateEvent reports a task state change during streaming.
type TaskStatusUpdateEvent struct {
	Kind      string     `json:"kind"`
	TaskID    string     `json:"taskId"`
	ContextID string     `json:"contextId,omitempty"`
	Status    TaskStatus `json:"status"`
	Final     bool       `json:"final,omitempty"`
}

// TaskArtifactUpdateEvent carries an artifact chunk during streaming.
type TaskArtifactUpdateEvent struct {
	Kind      string   `json:"kind"`
	TaskID    string   `json:"taskId"`
	ContextID string   `json:"contextId,omitempty"`
	Artifact  Artifact `json:"artifact"`
	Append    bool     `json:"append,omitempty"`
	Final     bool     `json:"final,omitempty"`
}

// StreamingResponseEvent carries incremental response content.
type StreamingResponseEvent struct {
	Kind      string `json:"kind"`
	TaskID    string `json:"taskId"`
	ContextID string `json:"contextId,omitempty"`
	Parts     []Part `json:"parts"`
	Final     bool   `json:"final,omitempty"`
}

// InputRequiredEvent signals that the task is paused awaiting caller input.
type InputRequiredEvent struct {
	Kind      string `json:"kind"`
	TaskID    string `json:"taskId"`
	ContextID string `json:"contextId,omitempty"`
	Prompt    string `json:"prompt"`
}

// ErrorEvent reports a task failure during streaming.
type ErrorEvent struct {
	Kind        string `json:"kind"`
	TaskID      string `json:"taskId"`
	Code        int    `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	Final       bool   `json:"final,omitempty"`
}

// StreamEvent is a single event received during message streaming.
// Exactly one field is non-nil.
type StreamEvent struct {
	StatusUpdate      *TaskStatusUpdateEvent
	ArtifactUpdate    *TaskArtifactUpdateEvent
	StreamingResponse *StreamingResponseEvent
	InputRequired     *InputRequiredEvent
	Error             *ErrorEvent
}

// TaskID returns the task ID of whichever event variant is set.
func (e StreamEvent) TaskID() string {
	switch {
	case e.StatusUpdate != nil:
		return e.StatusUpdate.TaskID
	case e.ArtifactUpdate != nil:
		return e.ArtifactUpdate.TaskID
	case e.StreamingResponse != nil:
		return e.StreamingResponse.TaskID
	case e.InputRequired != nil:
		return e.InputRequired.TaskID
	case e.Error != nil:
		return e.Error.TaskID
	}
	return ""
}

// IsFinal reports whether this event terminates its task's stream.
// InputRequired pauses the task but does not terminate the stream.
func (e StreamEvent) IsFinal() bool {
	switch {
	case e.StatusUpdate != nil:
		return e.StatusUpdate.Final
	case e.ArtifactUpdate != nil:
		return e.ArtifactUpdate.Final
	case e.StreamingResponse != nil:
		return e.StreamingResponse.Final
	case e.Error != nil:
		return e.Error.Final
	}
	return false
}

// Payload returns the wire representation of whichever variant is set.
func (e StreamEvent) Payload() any {
	switch {
	case e.StatusUpdate != nil:
		return e.StatusUpdate
	case e.ArtifactUpdate != nil:
		return e.ArtifactUpdate
	case e.StreamingResponse != nil:
		return e.StreamingResponse
	case e.InputRequired != nil:
		return e.InputRequired
	case e.Error != nil:
		return e.Error
	}
	return nil
}

// ParseStreamEvent decodes a JSON payload into a StreamEvent. It unwraps a
// JSON-RPC envelope if present, then discriminates on the "kind" field,
// falling back to field presence for peers that omit it.
func ParseStreamEvent(data []byte) (StreamEvent, bool) {
	raw := json.RawMessage(data)

	// Unwrap JSON-RPC envelope if present.
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if json.Unmarshal(raw, &envelope) == nil && len(envelope.Result) > 0 {
		raw = envelope.Result
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return StreamEvent{}, false
	}

	kind := ""
	if k, ok := fields["kind"]; ok {
		_ = json.Unmarshal(k, &kind)
	}

	switch {
	case kind == EventKindArtifactUpdate || hasField(fields, kind, "artifact"):
		var evt TaskArtifactUpdateEvent
		if json.Unmarshal(raw, &evt) != nil {
			return StreamEvent{}, false
		}
		return StreamEvent{ArtifactUpdate: &evt}, true

	case kind == EventKindInputRequired || hasField(fields, kind, "prompt"):
		var evt InputRequiredEvent
		if json.Unmarshal(raw, &evt) != nil {
			return StreamEvent{}, false
		}
		return StreamEvent{InputRequired: &evt}, true

	case kind == EventKindError || hasField(fields, kind, "code"):
		var evt ErrorEvent
		if json.Unmarshal(raw, &evt) != nil {
			return StreamEvent{}, false
		}
		return StreamEvent{Error: &evt}, true

	case kind == EventKindStreamingResponse || hasField(fields, kind, "parts"):
		var evt StreamingResponseEvent
		if json.Unmarshal(raw, &evt) != nil {
			return StreamEvent{}, false
		}
		return StreamEvent{StreamingResponse: &evt}, true

	case kind == EventKindStatusUpdate || hasField(fields, kind, "status"):
		var evt TaskStatusUpdateEvent
		if json.Unmarshal(raw, &evt) != nil {
			return StreamEvent{}, false
		}
		return StreamEvent{StatusUpdate: &evt}, true
	}

	return StreamEvent{}, false
}

// hasField reports whether the field-presence fallback applies: the kind
// discriminator is absent and the payload carries the given field.
func hasField(fields map[string]json.RawMessage, kind, name string) bool {
	if kind != "" {
		return false
	}
	_, ok := fields[name]
	return ok
}

// SendConfiguration tunes message/send behavior.
type SendConfiguration struct {
	// Blocking makes the call wait for the task to settle instead of
	// returning after the settle window.
	Blocking bool `json:"blocking,omitempty"`
}

// SendMessageRequest is the params payload for message/send and
// message/stream.
type SendMessageRequest struct {
	Message       Message            `json:"message"`
	Configuration *SendConfiguration `json:"configuration,omitempty"`
	Metadata      map[string]any     `json:"metadata,omitempty"`
}

// GetTaskRequest is the params payload for tasks/get.
type GetTaskRequest struct {
	ID string `json:"id"`
}

// CancelTaskRequest is the params payload for tasks/cancel.
type CancelTaskRequest struct {
	ID string `json:"id"`
}

// SubscribeTaskRequest is the params payload for tasks/subscribe.
type SubscribeTaskRequest struct {
	ID string `json:"id"`
}

// ListTasksRequest is the params payload for tasks/list.
type ListTasksRequest struct {
	ContextID string `json:"contextId,omitempty"`
	PageSize  int    `json:"pageSize,omitempty"`
}

// ListTasksResponse is the result payload for tasks/list.
type ListTasksResponse struct {
	Tasks    []Task `json:"tasks"`
	PageSize int    `json:"pageSize"`
}
