package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/budprat/agentic-5-sub002/runtime/a2a"
	"github.com/budprat/agentic-5-sub002/runtime/graph"
)

func finalResponse(nodeID, text string) a2a.StreamEvent {
	return a2a.StreamEvent{StreamingResponse: &a2a.StreamingResponseEvent{
		Kind:   a2a.EventKindStreamingResponse,
		TaskID: nodeID,
		Parts:  []a2a.Part{a2a.TextPart(text)},
		Final:  true,
	}}
}

func statusWorking(nodeID string) a2a.StreamEvent {
	return a2a.StreamEvent{StatusUpdate: &a2a.TaskStatusUpdateEvent{
		Kind:   a2a.EventKindStatusUpdate,
		TaskID: nodeID,
		Status: a2a.TaskStatus{State: a2a.TaskStateWorking},
	}}
}

func inputRequired(nodeID, prompt string) a2a.StreamEvent {
	return a2a.StreamEvent{InputRequired: &a2a.InputRequiredEvent{
		Kind:   a2a.EventKindInputRequired,
		TaskID: nodeID,
		Prompt: prompt,
	}}
}

func errorEvent(nodeID, msg string) a2a.StreamEvent {
	return a2a.StreamEvent{Error: &a2a.ErrorEvent{
		Kind:    a2a.EventKindError,
		TaskID:  nodeID,
		Code:    a2a.CodeInternalError,
		Message: msg,
		Final:   true,
	}}
}

// scriptedDispatch replays per-node event scripts. Queries are recorded so
// resume semantics can be asserted. The returned channel honors ctx.
type scriptedDispatch struct {
	mu      sync.Mutex
	scripts map[string][][]a2a.StreamEvent
	calls   map[string]int
	queries map[string][]string
}

func newScriptedDispatch() *scriptedDispatch {
	return &scriptedDispatch{
		scripts: make(map[string][][]a2a.StreamEvent),
		calls:   make(map[string]int),
		queries: make(map[string][]string),
	}
}

func (d *scriptedDispatch) script(nodeID string, events ...a2a.StreamEvent) {
	d.scripts[nodeID] = append(d.scripts[nodeID], events)
}

func (d *scriptedDispatch) fn(ctx context.Context, node *graph.Node) (<-chan a2a.StreamEvent, error) {
	d.mu.Lock()
	call := d.calls[node.ID]
	d.calls[node.ID]++
	d.queries[node.ID] = append(d.queries[node.ID], node.Query)
	var script []a2a.StreamEvent
	if call < len(d.scripts[node.ID]) {
		script = d.scripts[node.ID][call]
	}
	d.mu.Unlock()

	ch := make(chan a2a.StreamEvent)
	go func() {
		defer close(ch)
		for _, evt := range script {
			select {
			case ch <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (d *scriptedDispatch) lastQuery(t *testing.T, nodeID string) string {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	qs := d.queries[nodeID]
	if len(qs) == 0 {
		t.Fatalf("node %s was never dispatched", nodeID)
	}
	return qs[len(qs)-1]
}

func drain(ch <-chan NodeEvent) []NodeEvent {
	var out []NodeEvent
	for evt := range ch {
		out = append(out, evt)
	}
	return out
}

func nodeState(t *testing.T, g *graph.Graph, id string) graph.NodeState {
	t.Helper()
	node, err := g.Node(id)
	if err != nil {
		t.Fatalf("Node(%s): %v", id, err)
	}
	return node.State
}

func chainGraph(t *testing.T, ids ...string) *graph.Graph {
	t.Helper()
	g := graph.New()
	for _, id := range ids {
		if _, err := g.AddNode(graph.NewNode(id, "task "+id)); err != nil {
			t.Fatal(err)
		}
	}
	for i := 1; i < len(ids); i++ {
		if err := g.AddEdge(ids[i-1], ids[i]); err != nil {
			t.Fatal(err)
		}
	}
	return g
}

func TestRun_LinearChain(t *testing.T) {
	g := chainGraph(t, "t1", "t2", "t3")
	d := newScriptedDispatch()
	d.script("t1", statusWorking("t1"), finalResponse("t1", "one"))
	d.script("t2", finalResponse("t2", "two"))
	d.script("t3", finalResponse("t3", "three"))

	r := New(g, d.fn)
	merged := drain(r.Run(context.Background()))

	if err := r.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}
	if !g.AllTerminal() {
		t.Fatal("graph not terminal after run")
	}
	for _, id := range []string{"t1", "t2", "t3"} {
		if s := nodeState(t, g, id); s != graph.NodeCompleted {
			t.Errorf("%s state = %s, want COMPLETED", id, s)
		}
	}

	// Per-node event order is preserved across the merge.
	var t1Events []a2a.StreamEvent
	for _, evt := range merged {
		if evt.NodeID == "t1" {
			t1Events = append(t1Events, evt.Event)
		}
	}
	if len(t1Events) != 2 || t1Events[0].StatusUpdate == nil || !t1Events[1].IsFinal() {
		t.Errorf("t1 events out of order: %+v", t1Events)
	}

	node, _ := g.Node("t2")
	if node.Result == nil || node.Result.Text != "two" {
		t.Errorf("t2 result = %+v", node.Result)
	}
}

func TestRun_ParallelFanOut(t *testing.T) {
	g := graph.New()
	d := newScriptedDispatch()
	for _, id := range []string{"t1", "t2", "t3"} {
		if _, err := g.AddNode(graph.NewNode(id, "")); err != nil {
			t.Fatal(err)
		}
		d.script(id, finalResponse(id, "out "+id))
	}

	r := New(g, d.fn, WithMaxParallel(2))
	merged := drain(r.Run(context.Background()))

	seen := make(map[string]bool)
	for _, evt := range merged {
		seen[evt.NodeID] = true
	}
	for _, id := range []string{"t1", "t2", "t3"} {
		if !seen[id] {
			t.Errorf("no events for %s", id)
		}
		if s := nodeState(t, g, id); s != graph.NodeCompleted {
			t.Errorf("%s state = %s", id, s)
		}
	}
}

func TestRun_FailedNodeSkipsDescendants(t *testing.T) {
	g := chainGraph(t, "t1", "t2", "t3")
	d := newScriptedDispatch()
	d.script("t1", errorEvent("t1", "boom"))

	r := New(g, d.fn)
	merged := drain(r.Run(context.Background()))

	if s := nodeState(t, g, "t1"); s != graph.NodeFailed {
		t.Errorf("t1 state = %s, want FAILED", s)
	}
	for _, id := range []string{"t2", "t3"} {
		if s := nodeState(t, g, id); s != graph.NodeSkipped {
			t.Errorf("%s state = %s, want SKIPPED", id, s)
		}
	}
	if !g.AllTerminal() {
		t.Error("graph not terminal")
	}

	sawError := false
	for _, evt := range merged {
		if evt.NodeID == "t1" && evt.Event.Error != nil {
			sawError = true
		}
	}
	if !sawError {
		t.Error("error event not forwarded")
	}

	node, _ := g.Node("t1")
	if node.Result == nil || !strings.Contains(node.Result.Error, "boom") {
		t.Errorf("t1 result = %+v", node.Result)
	}
}

func TestRun_AgentErrorEmitsOneFinal(t *testing.T) {
	g := chainGraph(t, "t1")
	d := newScriptedDispatch()
	d.script("t1", statusWorking("t1"), errorEvent("t1", "boom"))

	r := New(g, d.fn)
	merged := drain(r.Run(context.Background()))

	finals := 0
	for _, evt := range merged {
		if evt.NodeID == "t1" && evt.Event.IsFinal() {
			finals++
		}
	}
	if finals != 1 {
		t.Fatalf("final events for t1 = %d, want exactly 1", finals)
	}

	if s := nodeState(t, g, "t1"); s != graph.NodeFailed {
		t.Errorf("t1 state = %s, want FAILED", s)
	}
	node, _ := g.Node("t1")
	if node.Result == nil || !strings.Contains(node.Result.Error, "boom") {
		t.Errorf("t1 result = %+v", node.Result)
	}
}

func TestRun_DispatchErrorFailsNode(t *testing.T) {
	g := chainGraph(t, "t1")
	dispatch := func(context.Context, *graph.Node) (<-chan a2a.StreamEvent, error) {
		return nil, errors.New("connection refused")
	}

	r := New(g, dispatch)
	merged := drain(r.Run(context.Background()))

	if s := nodeState(t, g, "t1"); s != graph.NodeFailed {
		t.Errorf("state = %s, want FAILED", s)
	}
	if len(merged) != 1 || merged[0].Event.Error == nil {
		t.Errorf("merged = %+v, want single error event", merged)
	}
}

func TestRun_PauseAndResume(t *testing.T) {
	g := chainGraph(t, "t1", "t2")
	d := newScriptedDispatch()
	d.script("t1", inputRequired("t1", "which region?"))
	d.script("t1", finalResponse("t1", "EMEA data"))
	d.script("t2", finalResponse("t2", "done"))

	r := New(g, d.fn)
	merged := drain(r.Run(context.Background()))

	if !r.Paused() {
		t.Fatal("runner not paused")
	}
	waiting := r.Waiting()
	if waiting["t1"] != "which region?" {
		t.Fatalf("waiting = %v", waiting)
	}
	if s := nodeState(t, g, "t1"); s != graph.NodeInputRequired {
		t.Fatalf("t1 state = %s, want INPUT_REQUIRED", s)
	}
	sawPrompt := false
	for _, evt := range merged {
		if evt.Event.InputRequired != nil {
			sawPrompt = true
		}
	}
	if !sawPrompt {
		t.Error("input-required event not forwarded")
	}

	// t2 must not have been dispatched during the pause.
	if s := nodeState(t, g, "t2"); s != graph.NodePending {
		t.Fatalf("t2 state = %s, want PENDING", s)
	}

	drain(r.Resume(context.Background(), "EMEA"))

	if r.Paused() {
		t.Fatal("still paused after resume")
	}
	if !strings.Contains(d.lastQuery(t, "t1"), "EMEA") {
		t.Errorf("resume query = %q, want appended input", d.lastQuery(t, "t1"))
	}
	for _, id := range []string{"t1", "t2"} {
		if s := nodeState(t, g, id); s != graph.NodeCompleted {
			t.Errorf("%s state = %s, want COMPLETED", id, s)
		}
	}
}

func TestRun_Cancellation(t *testing.T) {
	g := graph.New()
	for _, id := range []string{"t1", "t2"} {
		if _, err := g.AddNode(graph.NewNode(id, "")); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 2)
	dispatch := func(dctx context.Context, node *graph.Node) (<-chan a2a.StreamEvent, error) {
		started <- struct{}{}
		ch := make(chan a2a.StreamEvent)
		go func() {
			<-dctx.Done()
			close(ch)
		}()
		return ch, nil
	}

	r := New(g, dispatch)
	events := r.Run(ctx)

	<-started
	<-started
	cancel()
	drain(events)

	if !errors.Is(r.Err(), context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", r.Err())
	}
	for _, id := range []string{"t1", "t2"} {
		if s := nodeState(t, g, id); s != graph.NodeCancelled {
			t.Errorf("%s state = %s, want CANCELLED", id, s)
		}
	}
}

func TestRun_NodeTimeout(t *testing.T) {
	g := chainGraph(t, "t1")
	dispatch := func(dctx context.Context, _ *graph.Node) (<-chan a2a.StreamEvent, error) {
		ch := make(chan a2a.StreamEvent)
		go func() {
			<-dctx.Done()
			close(ch)
		}()
		return ch, nil
	}

	r := New(g, dispatch, WithNodeTimeout(30*time.Millisecond))
	drain(r.Run(context.Background()))

	if s := nodeState(t, g, "t1"); s != graph.NodeFailed {
		t.Fatalf("state = %s, want FAILED", s)
	}
	n, _ := g.Node("t1")
	if !strings.Contains(n.Result.Error, "timeout") {
		t.Errorf("result error = %q, want timeout", n.Result.Error)
	}
}

func TestRun_LevelHookAborts(t *testing.T) {
	g := chainGraph(t, "t1", "t2")
	d := newScriptedDispatch()
	d.script("t1", finalResponse("t1", "one"))
	d.script("t2", finalResponse("t2", "two"))

	hookErr := errors.New("quality gate failed")
	r := New(g, d.fn, WithLevelHook(func(level int) error {
		if level == 0 {
			return hookErr
		}
		return nil
	}))
	drain(r.Run(context.Background()))

	if !errors.Is(r.Err(), hookErr) {
		t.Errorf("Err = %v, want hook error", r.Err())
	}
	if s := nodeState(t, g, "t2"); s != graph.NodePending {
		t.Errorf("t2 state = %s, hook abort must stop dispatch", s)
	}
}

func TestRun_LevelMonotonicity(t *testing.T) {
	g := chainGraph(t, "t1", "t2")
	d := newScriptedDispatch()
	d.script("t1", finalResponse("t1", "one"))
	d.script("t2", finalResponse("t2", "two"))

	r := New(g, d.fn)
	drain(r.Run(context.Background()))

	a, _ := g.Node("t1")
	b, _ := g.Node("t2")
	if b.StartedAt.Before(a.CompletedAt) {
		t.Errorf("t2 started %v before t1 completed %v", b.StartedAt, a.CompletedAt)
	}
}

func TestRun_EmptyGraph(t *testing.T) {
	r := New(graph.New(), func(context.Context, *graph.Node) (<-chan a2a.StreamEvent, error) {
		t.Fatal("dispatch called for empty graph")
		return nil, nil
	})
	merged := drain(r.Run(context.Background()))
	if len(merged) != 0 {
		t.Errorf("events = %d, want 0", len(merged))
	}
	if r.Err() != nil {
		t.Errorf("Err = %v", r.Err())
	}
}
