package graph

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

// diamond builds a -> b, a -> c, b -> d, c -> d.
func diamond(t *testing.T) *Graph {
	t.Helper()
	g := New()
	for _, id := range []string{"a", "b", "c", "d"} {
		if _, err := g.AddNode(NewNode(id, "task "+id)); err != nil {
			t.Fatalf("AddNode(%s): %v", id, err)
		}
	}
	for _, edge := range [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}} {
		if err := g.AddEdge(edge[0], edge[1]); err != nil {
			t.Fatalf("AddEdge(%s, %s): %v", edge[0], edge[1], err)
		}
	}
	return g
}

func mustTransition(t *testing.T, g *Graph, id string, states ...NodeState) {
	t.Helper()
	for _, s := range states {
		if err := g.Transition(id, s); err != nil {
			t.Fatalf("Transition(%s, %s): %v", id, s, err)
		}
	}
}

func TestAddNode_Duplicate(t *testing.T) {
	g := New()
	if _, err := g.AddNode(NewNode("a", "")); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if _, err := g.AddNode(NewNode("a", "")); !errors.Is(err, ErrDuplicateNode) {
		t.Errorf("err = %v, want ErrDuplicateNode", err)
	}
}

func TestAddEdge_RejectsCycle(t *testing.T) {
	g := diamond(t)

	if err := g.AddEdge("d", "a"); !errors.Is(err, ErrCycle) {
		t.Errorf("d->a err = %v, want ErrCycle", err)
	}
	if err := g.AddEdge("a", "a"); !errors.Is(err, ErrCycle) {
		t.Errorf("a->a err = %v, want ErrCycle", err)
	}

	// Rejection must not mutate: d gains no successor.
	if succs := g.Successors("d"); len(succs) != 0 {
		t.Errorf("successors of d = %v, want none", succs)
	}
}

func TestAddEdge_MissingNode(t *testing.T) {
	g := diamond(t)
	if err := g.AddEdge("a", "zzz"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("err = %v, want ErrNodeNotFound", err)
	}
}

func TestExecutionPlan_Diamond(t *testing.T) {
	g := diamond(t)

	want := [][]string{{"a"}, {"b", "c"}, {"d"}}
	if got := g.ExecutionPlan(); !reflect.DeepEqual(got, want) {
		t.Errorf("plan = %v, want %v", got, want)
	}
}

func TestExecutionPlan_DeepestPredecessorWins(t *testing.T) {
	// a -> b -> d and a -> d: d sits at level 2, not 1.
	g := New()
	for _, id := range []string{"a", "b", "d"} {
		_, _ = g.AddNode(NewNode(id, ""))
	}
	_ = g.AddEdge("a", "b")
	_ = g.AddEdge("b", "d")
	_ = g.AddEdge("a", "d")

	want := [][]string{{"a"}, {"b"}, {"d"}}
	if got := g.ExecutionPlan(); !reflect.DeepEqual(got, want) {
		t.Errorf("plan = %v, want %v", got, want)
	}
}

func TestReadyNodes(t *testing.T) {
	g := diamond(t)

	ready := ids(g.ReadyNodes())
	if !reflect.DeepEqual(ready, []string{"a"}) {
		t.Fatalf("ready = %v, want [a]", ready)
	}

	mustTransition(t, g, "a", NodeRunning, NodeCompleted)
	ready = ids(g.ReadyNodes())
	if !reflect.DeepEqual(ready, []string{"b", "c"}) {
		t.Fatalf("ready after a = %v, want [b c]", ready)
	}

	// d needs both b and c.
	mustTransition(t, g, "b", NodeRunning, NodeCompleted)
	ready = ids(g.ReadyNodes())
	if !reflect.DeepEqual(ready, []string{"c"}) {
		t.Fatalf("ready after b = %v, want [c]", ready)
	}

	mustTransition(t, g, "c", NodeRunning, NodeCompleted)
	ready = ids(g.ReadyNodes())
	if !reflect.DeepEqual(ready, []string{"d"}) {
		t.Fatalf("ready after c = %v, want [d]", ready)
	}
}

func TestTransition_Monotonic(t *testing.T) {
	g := New()
	_, _ = g.AddNode(NewNode("a", ""))

	mustTransition(t, g, "a", NodeRunning, NodeCompleted)

	if err := g.Transition("a", NodeRunning); !errors.Is(err, ErrInvalidNodeTransition) {
		t.Errorf("terminal re-run err = %v, want ErrInvalidNodeTransition", err)
	}
}

func TestTransition_PauseResumeLoop(t *testing.T) {
	g := New()
	_, _ = g.AddNode(NewNode("a", ""))

	mustTransition(t, g, "a",
		NodeRunning, NodeInputRequired, NodeRunning, NodeCompleted)

	node, _ := g.Node("a")
	if node.State != NodeCompleted {
		t.Errorf("state = %s, want COMPLETED", node.State)
	}
}

func TestTransition_Timestamps(t *testing.T) {
	g := New()
	base := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	tick := 0
	g.TimeFunc = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	_, _ = g.AddNode(NewNode("a", ""))
	mustTransition(t, g, "a", NodeRunning, NodeInputRequired, NodeRunning, NodeCompleted)

	node, _ := g.Node("a")
	if node.StartedAt.IsZero() || node.CompletedAt.IsZero() {
		t.Fatal("timestamps not set")
	}
	// The resume must not reset the original start time.
	if want := base.Add(2 * time.Second); !node.StartedAt.Equal(want) {
		t.Errorf("StartedAt = %v, want %v", node.StartedAt, want)
	}
	if !node.CompletedAt.After(node.StartedAt) {
		t.Errorf("CompletedAt %v not after StartedAt %v", node.CompletedAt, node.StartedAt)
	}
}

func TestRemoveNode_DropsDanglingEdges(t *testing.T) {
	g := diamond(t)

	if err := g.RemoveNode("b"); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}

	if succs := g.Successors("a"); !reflect.DeepEqual(succs, []string{"c"}) {
		t.Errorf("successors of a = %v, want [c]", succs)
	}
	if preds := g.Predecessors("d"); !reflect.DeepEqual(preds, []string{"c"}) {
		t.Errorf("predecessors of d = %v, want [c]", preds)
	}
	if _, err := g.Node("b"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("Node(b) err = %v, want ErrNodeNotFound", err)
	}
}

func TestCascadeSkip(t *testing.T) {
	g := diamond(t)

	mustTransition(t, g, "a", NodeRunning, NodeCompleted)
	mustTransition(t, g, "b", NodeRunning, NodeFailed)

	skipped := g.CascadeSkip("b")
	if !reflect.DeepEqual(skipped, []string{"d"}) {
		t.Fatalf("skipped = %v, want [d]", skipped)
	}

	node, _ := g.Node("d")
	if node.State != NodeSkipped {
		t.Errorf("d state = %s, want SKIPPED", node.State)
	}
	// The sibling branch is untouched.
	node, _ = g.Node("c")
	if node.State != NodePending {
		t.Errorf("c state = %s, want PENDING", node.State)
	}
}

func TestCancelAll(t *testing.T) {
	g := diamond(t)
	mustTransition(t, g, "a", NodeRunning, NodeCompleted)
	mustTransition(t, g, "b", NodeRunning)

	g.CancelAll()

	if !g.AllTerminal() {
		t.Error("AllTerminal = false after CancelAll")
	}
	node, _ := g.Node("a")
	if node.State != NodeCompleted {
		t.Errorf("a state = %s, completed nodes must keep their state", node.State)
	}
	node, _ = g.Node("b")
	if node.State != NodeCancelled {
		t.Errorf("b state = %s, want CANCELLED", node.State)
	}
}

func TestStats(t *testing.T) {
	g := diamond(t)
	mustTransition(t, g, "a", NodeRunning, NodeCompleted)

	snap := g.Stats()
	if snap.Nodes != 4 || snap.Edges != 4 || snap.Levels != 3 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.ByState[NodeCompleted] != 1 || snap.ByState[NodePending] != 3 {
		t.Errorf("by state = %v", snap.ByState)
	}
	if snap.AllTerminal {
		t.Error("AllTerminal = true with pending nodes")
	}
}

func TestSetResult(t *testing.T) {
	g := New()
	_, _ = g.AddNode(NewNode("a", ""))

	if err := g.SetResult("a", &NodeResult{Text: "done", Quality: 0.9}); err != nil {
		t.Fatalf("SetResult: %v", err)
	}
	node, _ := g.Node("a")
	if node.Result == nil || node.Result.Text != "done" {
		t.Errorf("result = %+v", node.Result)
	}

	if err := g.SetResult("zzz", &NodeResult{}); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("err = %v, want ErrNodeNotFound", err)
	}
}

func TestNewNode_GeneratesID(t *testing.T) {
	a, b := NewNode("", "x"), NewNode("", "x")
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("ids = %q, %q, want distinct non-empty", a.ID, b.ID)
	}
}

func ids(nodes []*Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}
