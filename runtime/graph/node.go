// Package graph implements the mutable workflow DAG executed by the runner.
// Nodes carry task assignments and move through a monotonic state machine;
// edges encode dependencies and are checked for cycles on insertion.
package graph

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NodeState is the lifecycle state of a workflow node.
type NodeState string

// Node lifecycle states. Transitions are monotonic except for the
// running/input-required pause loop.
const (
	NodePending       NodeState = "PENDING"
	NodeReady         NodeState = "READY"
	NodeRunning       NodeState = "RUNNING"
	NodeInputRequired NodeState = "INPUT_REQUIRED"
	NodeCompleted     NodeState = "COMPLETED"
	NodeFailed        NodeState = "FAILED"
	NodeSkipped       NodeState = "SKIPPED"
	NodeCancelled     NodeState = "CANCELLED"
)

var (
	// ErrNodeNotFound is returned for operations on unknown node ids.
	ErrNodeNotFound = errors.New("graph: node not found")
	// ErrCycle is returned by AddEdge when the edge would create a cycle.
	ErrCycle = errors.New("graph: edge would create a cycle")
	// ErrInvalidNodeTransition is returned for disallowed state changes.
	ErrInvalidNodeTransition = errors.New("graph: invalid node transition")
	// ErrDuplicateNode is returned when a node id is added twice.
	ErrDuplicateNode = errors.New("graph: duplicate node id")
)

// validNodeTransitions defines the allowed state changes. Terminal states
// have no outgoing transitions.
var validNodeTransitions = map[NodeState][]NodeState{
	NodePending:       {NodeReady, NodeRunning, NodeSkipped, NodeCancelled},
	NodeReady:         {NodeRunning, NodeSkipped, NodeCancelled},
	NodeRunning:       {NodeCompleted, NodeFailed, NodeInputRequired, NodeCancelled},
	NodeInputRequired: {NodeRunning, NodeFailed, NodeCancelled},
	NodeCompleted:     {},
	NodeFailed:        {},
	NodeSkipped:       {},
	NodeCancelled:     {},
}

// IsTerminal reports whether s has no outgoing transitions.
func IsTerminal(s NodeState) bool {
	return len(validNodeTransitions[s]) == 0
}

func canTransition(from, to NodeState) bool {
	for _, next := range validNodeTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NodeResult holds the outcome of a completed or failed node.
type NodeResult struct {
	Text      string         `json:"text,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Quality   float64        `json:"quality,omitempty"`
	Error     string         `json:"error,omitempty"`
	Artifacts int            `json:"artifacts,omitempty"`
}

// Node is one unit of work in the workflow graph.
type Node struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	AgentID     string         `json:"agent_id,omitempty"`
	Capability  string         `json:"capability,omitempty"`
	Query       string         `json:"query,omitempty"`
	State       NodeState      `json:"state"`
	Retries     int            `json:"retries"`
	MaxRetries  int            `json:"max_retries"`
	Timeout     time.Duration  `json:"timeout,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Result      *NodeResult    `json:"result,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// NewNode builds a pending node. An empty id gets a generated uuid.
func NewNode(id, description string) *Node {
	if id == "" {
		id = uuid.NewString()
	}
	return &Node{
		ID:          id,
		Description: description,
		State:       NodePending,
	}
}

// clone returns a shallow copy safe to hand to callers outside the graph lock.
func (n *Node) clone() *Node {
	c := *n
	return &c
}

func (n *Node) transition(to NodeState, now time.Time) error {
	if !canTransition(n.State, to) {
		return fmt.Errorf("%w: %s: %s -> %s", ErrInvalidNodeTransition, n.ID, n.State, to)
	}
	switch to {
	case NodeRunning:
		if n.StartedAt.IsZero() {
			n.StartedAt = now
		}
	case NodeCompleted, NodeFailed, NodeSkipped, NodeCancelled:
		n.CompletedAt = now
	}
	n.State = to
	return nil
}
