package graph

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// TimeFunc returns the current time. Override for deterministic tests.
type TimeFunc func() time.Time

// Graph is a mutable workflow DAG owned by a single session. All methods are
// safe for concurrent use; the lock is never held across I/O.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	succs map[string]map[string]struct{}
	preds map[string]map[string]struct{}
	order []string

	// TimeFunc stamps node transitions. Override for deterministic tests.
	TimeFunc TimeFunc
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:    make(map[string]*Node),
		succs:    make(map[string]map[string]struct{}),
		preds:    make(map[string]map[string]struct{}),
		TimeFunc: time.Now,
	}
}

// AddNode inserts node and returns its id.
func (g *Graph) AddNode(node *Node) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if node.ID == "" {
		return "", fmt.Errorf("graph: node id is required")
	}
	if _, dup := g.nodes[node.ID]; dup {
		return "", fmt.Errorf("%w: %s", ErrDuplicateNode, node.ID)
	}
	if node.State == "" {
		node.State = NodePending
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = g.TimeFunc()
	}
	g.nodes[node.ID] = node
	g.succs[node.ID] = make(map[string]struct{})
	g.preds[node.ID] = make(map[string]struct{})
	g.order = append(g.order, node.ID)
	return node.ID, nil
}

// AddEdge makes succ depend on pred. The insertion is rejected without
// mutation when either endpoint is missing or when pred is reachable from
// succ, which would close a cycle.
func (g *Graph) AddEdge(predID, succID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[predID]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, predID)
	}
	if _, ok := g.nodes[succID]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, succID)
	}
	if predID == succID {
		return fmt.Errorf("%w: %s -> %s", ErrCycle, predID, succID)
	}
	if g.reachable(succID, predID) {
		return fmt.Errorf("%w: %s -> %s", ErrCycle, predID, succID)
	}
	g.succs[predID][succID] = struct{}{}
	g.preds[succID][predID] = struct{}{}
	return nil
}

// reachable reports whether target can be reached from start by following
// successor edges. Caller holds the lock.
func (g *Graph) reachable(start, target string) bool {
	stack := []string{start}
	seen := map[string]struct{}{start: {}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		for next := range g.succs[cur] {
			if _, ok := seen[next]; !ok {
				seen[next] = struct{}{}
				stack = append(stack, next)
			}
		}
	}
	return false
}

// RemoveNode deletes a node and all edges touching it.
func (g *Graph) RemoveNode(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	for succ := range g.succs[id] {
		delete(g.preds[succ], id)
	}
	for pred := range g.preds[id] {
		delete(g.succs[pred], id)
	}
	delete(g.succs, id)
	delete(g.preds, id)
	delete(g.nodes, id)
	for i, nid := range g.order {
		if nid == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return nil
}

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return node.clone(), nil
}

// Nodes returns copies of all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id].clone())
	}
	return out
}

// Predecessors returns the ids of a node's direct dependencies, sorted.
func (g *Graph) Predecessors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.preds[id])
}

// Successors returns the ids of a node's direct dependents, sorted.
func (g *Graph) Successors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.succs[id])
}

// ReadyNodes returns copies of the nodes that may be dispatched now: nodes
// in PENDING or READY whose predecessors have all COMPLETED.
func (g *Graph) ReadyNodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*Node
	for _, id := range g.order {
		node := g.nodes[id]
		if node.State != NodePending && node.State != NodeReady {
			continue
		}
		if g.predsCompleted(id) {
			out = append(out, node.clone())
		}
	}
	return out
}

func (g *Graph) predsCompleted(id string) bool {
	for pred := range g.preds[id] {
		if g.nodes[pred].State != NodeCompleted {
			return false
		}
	}
	return true
}

// ExecutionPlan returns node ids grouped into BFS levels: a node's level is
// one past its deepest predecessor. Terminal nodes are included so the plan
// reflects the whole graph; the runner skips levels that are already done.
func (g *Graph) ExecutionPlan() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	levels := make(map[string]int, len(g.nodes))
	indeg := make(map[string]int, len(g.nodes))
	var queue []string
	for _, id := range g.order {
		indeg[id] = len(g.preds[id])
		if indeg[id] == 0 {
			queue = append(queue, id)
			levels[id] = 0
		}
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for succ := range g.succs[cur] {
			if l := levels[cur] + 1; l > levels[succ] {
				levels[succ] = l
			}
			indeg[succ]--
			if indeg[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	maxLevel := -1
	for _, l := range levels {
		if l > maxLevel {
			maxLevel = l
		}
	}
	plan := make([][]string, maxLevel+1)
	for _, id := range g.order {
		l := levels[id]
		plan[l] = append(plan[l], id)
	}
	return plan
}

// Transition moves a node to a new state, validating monotonicity.
func (g *Graph) Transition(id string, to NodeState) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return node.transition(to, g.TimeFunc())
}

// SetResult records a node's outcome. The state is not changed.
func (g *Graph) SetResult(id string, result *NodeResult) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	node.Result = result
	return nil
}

// CascadeSkip marks every non-terminal node downstream of id as SKIPPED.
// Used after an unrecoverable failure so dependent work is not dispatched.
func (g *Graph) CascadeSkip(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var skipped []string
	stack := sortedKeys(g.succs[id])
	seen := make(map[string]struct{})
	now := g.TimeFunc()
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}

		node := g.nodes[cur]
		if !IsTerminal(node.State) && node.State != NodeRunning && node.State != NodeInputRequired {
			if err := node.transition(NodeSkipped, now); err == nil {
				skipped = append(skipped, cur)
			}
		}
		stack = append(stack, sortedKeys(g.succs[cur])...)
	}
	sort.Strings(skipped)
	return skipped
}

// CancelAll moves every non-terminal node to CANCELLED.
func (g *Graph) CancelAll() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.TimeFunc()
	for _, id := range g.order {
		node := g.nodes[id]
		if !IsTerminal(node.State) {
			_ = node.transition(NodeCancelled, now)
		}
	}
}

// AllTerminal reports whether every node is in a terminal state.
func (g *Graph) AllTerminal() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, node := range g.nodes {
		if !IsTerminal(node.State) {
			return false
		}
	}
	return true
}

// Snapshot is a serializable summary of graph progress.
type Snapshot struct {
	Nodes       int               `json:"nodes"`
	Edges       int               `json:"edges"`
	Levels      int               `json:"levels"`
	ByState     map[NodeState]int `json:"by_state"`
	AllTerminal bool              `json:"all_terminal"`
}

// Stats returns a snapshot of the graph's current shape and progress.
func (g *Graph) Stats() Snapshot {
	plan := g.ExecutionPlan()

	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := Snapshot{
		Nodes:       len(g.nodes),
		Levels:      len(plan),
		ByState:     make(map[NodeState]int),
		AllTerminal: true,
	}
	for _, node := range g.nodes {
		snap.ByState[node.State]++
		if !IsTerminal(node.State) {
			snap.AllTerminal = false
		}
	}
	for _, succ := range g.succs {
		snap.Edges += len(succ)
	}
	return snap
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
