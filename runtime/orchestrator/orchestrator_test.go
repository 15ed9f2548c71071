package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/budprat/agentic-5-sub002/runtime/a2a"
	"github.com/budprat/agentic-5-sub002/runtime/formatter"
	"github.com/budprat/agentic-5-sub002/runtime/graph"
	"github.com/budprat/agentic-5-sub002/runtime/planner"
	"github.com/budprat/agentic-5-sub002/runtime/quality"
	"github.com/budprat/agentic-5-sub002/runtime/registry"
	"github.com/budprat/agentic-5-sub002/runtime/runner"
	"github.com/budprat/agentic-5-sub002/runtime/session"
)

func testSpecialists() []*a2a.AgentCard {
	return []*a2a.AgentCard{
		{AgentID: "research-agent", Name: "Research", Tier: 2, Host: "localhost", Port: 9001, Capabilities: []string{"research"}},
		{AgentID: "writing-agent", Name: "Writing", Tier: 2, Host: "localhost", Port: 9002, Capabilities: []string{"writing"}},
		{AgentID: "general-agent", Name: "General", Tier: 2, Host: "localhost", Port: 9003, Capabilities: []string{"general"}},
	}
}

// plannerStub replays canned planner output and counts calls. The last
// response repeats once the queue is exhausted.
type plannerStub struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (p *plannerStub) fn(_ context.Context, _ planner.Request) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	return []byte(p.responses[i]), nil
}

func (p *plannerStub) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeDispatch replays per-node event scripts keyed by call index. Nodes in
// the block set hold their stream open until ctx is cancelled.
type fakeDispatch struct {
	mu      sync.Mutex
	scripts map[string][][]a2a.StreamEvent
	calls   map[string]int
	queries map[string][]string
	block   map[string]bool
}

func newFakeDispatch() *fakeDispatch {
	return &fakeDispatch{
		scripts: make(map[string][][]a2a.StreamEvent),
		calls:   make(map[string]int),
		queries: make(map[string][]string),
		block:   make(map[string]bool),
	}
}

func (d *fakeDispatch) script(nodeID string, events ...a2a.StreamEvent) {
	d.scripts[nodeID] = append(d.scripts[nodeID], events)
}

func (d *fakeDispatch) fn(ctx context.Context, node *graph.Node) (<-chan a2a.StreamEvent, error) {
	d.mu.Lock()
	call := d.calls[node.ID]
	d.calls[node.ID]++
	d.queries[node.ID] = append(d.queries[node.ID], node.Query)
	var script []a2a.StreamEvent
	if call < len(d.scripts[node.ID]) {
		script = d.scripts[node.ID][call]
	}
	blocked := d.block[node.ID]
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
		if blocked {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func (d *fakeDispatch) callCount(nodeID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[nodeID]
}

func (d *fakeDispatch) lastQuery(t *testing.T, nodeID string) string {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	qs := d.queries[nodeID]
	if len(qs) == 0 {
		t.Fatalf("node %s was never dispatched", nodeID)
	}
	return qs[len(qs)-1]
}

func finalText(nodeID, text string) a2a.StreamEvent {
	return a2a.StreamEvent{StreamingResponse: &a2a.StreamingResponseEvent{
		Kind:   a2a.EventKindStreamingResponse,
		TaskID: nodeID,
		Parts:  []a2a.Part{a2a.TextPart(text)},
		Final:  true,
	}}
}

func finalArtifact(nodeID string, data map[string]any) a2a.StreamEvent {
	return a2a.StreamEvent{ArtifactUpdate: &a2a.TaskArtifactUpdateEvent{
		Kind:   a2a.EventKindArtifactUpdate,
		TaskID: nodeID,
		Artifact: a2a.Artifact{
			ArtifactID: nodeID + "-result",
			Name:       "result",
			Parts:      []a2a.Part{a2a.DataPart(data)},
		},
		Final: true,
	}}
}

func inputRequired(nodeID, prompt string) a2a.StreamEvent {
	return a2a.StreamEvent{InputRequired: &a2a.InputRequiredEvent{
		Kind:   a2a.EventKindInputRequired,
		TaskID: nodeID,
		Prompt: prompt,
	}}
}

func newTestOrchestrator(t *testing.T, plan PlanFunc, dispatch runner.Dispatch, thresholds map[string]quality.Threshold) *Orchestrator {
	t.Helper()
	reg, err := registry.FromCards(testSpecialists()...)
	if err != nil {
		t.Fatalf("FromCards: %v", err)
	}
	if thresholds == nil {
		thresholds = map[string]quality.Threshold{
			"completeness": {Min: 0.01, Weight: 1},
		}
	}
	fw, err := quality.NewFramework(map[string]quality.Profile{
		quality.DomainGeneric: {Thresholds: thresholds},
	}, nil)
	if err != nil {
		t.Fatalf("NewFramework: %v", err)
	}
	sessions := session.NewManager(session.WithJanitorInterval(time.Hour))
	t.Cleanup(sessions.Shutdown)

	o, err := New(Config{
		Registry:    reg,
		Quality:     fw,
		Sessions:    sessions,
		Planner:     plan,
		Dispatch:    dispatch,
		NodeTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func collect(t *testing.T, ch <-chan *formatter.Envelope) []*formatter.Envelope {
	t.Helper()
	var out []*formatter.Envelope
	deadline := time.After(5 * time.Second)
	for {
		select {
		case env, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, env)
		case <-deadline:
			t.Fatal("envelope stream did not close")
		}
	}
}

func onlyFinal(t *testing.T, envs []*formatter.Envelope) *formatter.Envelope {
	t.Helper()
	var final *formatter.Envelope
	for _, env := range envs {
		if env.Final {
			if final != nil {
				t.Fatal("more than one final envelope on the stream")
			}
			final = env
		}
	}
	if final == nil {
		t.Fatal("no final envelope on the stream")
	}
	return final
}

func textOf(env *formatter.Envelope) string {
	var parts []string
	for _, p := range env.Parts {
		if p.Kind == formatter.PartText {
			if s, ok := p.Content.(string); ok {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, "\n")
}

const twoTaskPlan = `{
  "tasks": [
    {"id": "t1", "description": "gather background research", "capability": "research", "complexity": "medium"},
    {"id": "t2", "description": "write the summary", "capability": "writing", "depends_on": ["t1"]}
  ],
  "coordination": "sequential",
  "quality_score": 0.9
}`

func TestStream_HappyPath(t *testing.T) {
	plans := &plannerStub{responses: []string{twoTaskPlan}}
	dispatch := newFakeDispatch()
	dispatch.script("t1", finalText("t1", "alpha beta gamma findings"))
	dispatch.script("t2", finalText("t2", "final summary text"))

	o := newTestOrchestrator(t, plans.fn, dispatch.fn, nil)
	out, sid, err := o.Stream(context.Background(), "research the alpha project then write a summary", "")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if sid == "" {
		t.Fatal("empty session id")
	}

	envs := collect(t, out)
	final := onlyFinal(t, envs)

	text := textOf(final)
	if !strings.Contains(text, "alpha beta gamma findings") || !strings.Contains(text, "final summary text") {
		t.Errorf("final text = %q, want both node outputs", text)
	}
	if q, ok := final.Metadata[formatter.MetaQuality].(float64); !ok || q != 1 {
		t.Errorf("quality = %v, want 1", final.Metadata[formatter.MetaQuality])
	}

	// The dependent node sees its predecessor's output.
	if q := dispatch.lastQuery(t, "t2"); !strings.Contains(q, "Output of t1") {
		t.Errorf("t2 query = %q, want predecessor output embedded", q)
	}

	// Every phase appears on the stream in metadata.
	seen := make(map[string]bool)
	for _, env := range envs {
		if phase, ok := env.Metadata[formatter.MetaPhase].(string); ok {
			seen[phase] = true
		}
	}
	for _, phase := range []string{PhasePreAnalysis, PhasePlanning, PhaseQualityPrediction, PhaseExecution, PhaseSynthesis} {
		if !seen[phase] {
			t.Errorf("phase %s never appeared on the stream", phase)
		}
	}

	// The session is torn down after the final envelope.
	if err := o.Cancel(sid); err == nil {
		t.Error("Cancel after completion succeeded, want unknown session")
	}
}

func TestStream_NodeFinalDemoted(t *testing.T) {
	plans := &plannerStub{responses: []string{twoTaskPlan}}
	dispatch := newFakeDispatch()
	dispatch.script("t1", finalText("t1", "first result"))
	dispatch.script("t2", finalText("t2", "second result"))

	o := newTestOrchestrator(t, plans.fn, dispatch.fn, nil)
	out, _, err := o.Stream(context.Background(), "two step job", "")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	demoted := 0
	for _, env := range collect(t, out) {
		if env.Metadata[formatter.MetaNodeFinal] == true {
			if env.Final {
				t.Error("node-final envelope still marked session-final")
			}
			demoted++
		}
	}
	if demoted != 2 {
		t.Errorf("demoted node finals = %d, want 2", demoted)
	}
}

func TestStream_EmptyPlan(t *testing.T) {
	plans := &plannerStub{responses: []string{`{"tasks": []}`}}
	dispatch := newFakeDispatch()

	o := newTestOrchestrator(t, plans.fn, dispatch.fn, nil)
	out, _, err := o.Stream(context.Background(), "nothing to do", "")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	final := onlyFinal(t, collect(t, out))
	if q, _ := final.Metadata[formatter.MetaQuality].(float64); q != 1 {
		t.Errorf("quality = %v, want 1 for vacuous session", final.Metadata[formatter.MetaQuality])
	}
	if dispatch.callCount("t1") != 0 {
		t.Error("dispatch was called for an empty plan")
	}
}

func TestStream_FallbackPlanOnMalformedOutput(t *testing.T) {
	plans := &plannerStub{responses: []string{`this is not a plan`}}
	dispatch := newFakeDispatch()
	dispatch.script("task-1", finalText("task-1", "catch-all answer"))

	o := newTestOrchestrator(t, plans.fn, dispatch.fn, nil)
	out, _, err := o.Stream(context.Background(), "short query", "")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	final := onlyFinal(t, collect(t, out))
	if text := textOf(final); !strings.Contains(text, "catch-all answer") {
		t.Errorf("final text = %q, want fallback node output", text)
	}
	if q := dispatch.lastQuery(t, "task-1"); !strings.Contains(q, "short query") {
		t.Errorf("fallback query = %q, want the original query", q)
	}
}

func TestStream_InfeasiblePlanRejected(t *testing.T) {
	plans := &plannerStub{responses: []string{`{
		"tasks": [{"id": "t1", "description": "simulate molecules", "capability": "quantum-chemistry"}]
	}`}}
	dispatch := newFakeDispatch()

	o := newTestOrchestrator(t, plans.fn, dispatch.fn, nil)
	out, _, err := o.Stream(context.Background(), "simulate molecules", "")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	final := onlyFinal(t, collect(t, out))
	if code, _ := final.Metadata[formatter.MetaErrorCode].(int); code != a2a.CodeQualityFailed {
		t.Errorf("error code = %v, want %d", final.Metadata[formatter.MetaErrorCode], a2a.CodeQualityFailed)
	}
	if text := textOf(final); !strings.Contains(text, "infeasible") {
		t.Errorf("final text = %q, want infeasibility reason", text)
	}
	if dispatch.callCount("t1") != 0 {
		t.Error("infeasible plan was dispatched")
	}
}

func TestStream_QualityFailureReplansOnce(t *testing.T) {
	singleTask := `{
		"tasks": [{"id": "t1", "description": "do research", "capability": "research"}]
	}`
	plans := &plannerStub{responses: []string{singleTask}}
	dispatch := newFakeDispatch()
	dispatch.script("t1", finalText("t1", "some output"))
	dispatch.script("t1", finalText("t1", "some output again"))

	// The accuracy metric has no extractor, so every node scores zero and
	// fails validation.
	o := newTestOrchestrator(t, plans.fn, dispatch.fn, map[string]quality.Threshold{
		"accuracy": {Min: 0.9, Weight: 1},
	})
	out, _, err := o.Stream(context.Background(), "do research", "")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	final := onlyFinal(t, collect(t, out))
	if code, _ := final.Metadata[formatter.MetaErrorCode].(int); code != a2a.CodeQualityFailed {
		t.Errorf("error code = %v, want %d", final.Metadata[formatter.MetaErrorCode], a2a.CodeQualityFailed)
	}
	if text := textOf(final); !strings.Contains(text, "accuracy") {
		t.Errorf("final text = %q, want failing metric named", text)
	}
	if got := plans.callCount(); got != 2 {
		t.Errorf("planner calls = %d, want 2 (one re-plan)", got)
	}
}

func TestStream_AgentReportedMetricsSatisfyGate(t *testing.T) {
	singleTask := `{
		"tasks": [{"id": "t1", "description": "do research", "capability": "research"}]
	}`
	plans := &plannerStub{responses: []string{singleTask}}
	dispatch := newFakeDispatch()
	dispatch.script("t1", finalArtifact("t1", map[string]any{"confidence": 0.95}))

	// Confidence has no extractor; the value must come from the artifact
	// payload the agent reported.
	o := newTestOrchestrator(t, plans.fn, dispatch.fn, map[string]quality.Threshold{
		"confidence": {Min: 0.7, Weight: 1},
	})
	out, _, err := o.Stream(context.Background(), "do research", "")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	final := onlyFinal(t, collect(t, out))
	if code, ok := final.Metadata[formatter.MetaErrorCode]; ok {
		t.Fatalf("session failed with code %v: %q", code, textOf(final))
	}
	if q, _ := final.Metadata[formatter.MetaQuality].(float64); q != 1 {
		t.Errorf("quality = %v, want 1", final.Metadata[formatter.MetaQuality])
	}
	if got := plans.callCount(); got != 1 {
		t.Errorf("planner calls = %d, want 1 (no re-plan)", got)
	}
}

func TestStream_PauseAndResume(t *testing.T) {
	singleTask := `{
		"tasks": [{"id": "t1", "description": "regional report", "capability": "research"}]
	}`
	plans := &plannerStub{responses: []string{singleTask}}
	dispatch := newFakeDispatch()
	dispatch.script("t1", inputRequired("t1", "which region?"))
	dispatch.script("t1", finalText("t1", "EMEA revenue grew"))

	o := newTestOrchestrator(t, plans.fn, dispatch.fn, nil)
	out, sid, err := o.Stream(context.Background(), "build the regional report", "")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	envs := collect(t, out)
	for _, env := range envs {
		if env.Final {
			t.Fatal("paused stream carried a final envelope")
		}
	}
	paused := false
	for _, env := range envs {
		if env.Metadata[formatter.MetaInputRequired] == true {
			paused = true
			if prompt := textOf(env); !strings.Contains(prompt, "which region?") {
				t.Errorf("pause prompt = %q", prompt)
			}
		}
	}
	if !paused {
		t.Fatal("no input-required envelope before the pause")
	}

	r, ok := o.getRun(sid)
	if !ok {
		t.Fatal("paused session was dropped")
	}
	if r.session.Phase() != PhasePaused {
		t.Errorf("phase = %q, want %q", r.session.Phase(), PhasePaused)
	}

	out2, sid2, err := o.Stream(context.Background(), "EMEA", sid)
	if err != nil {
		t.Fatalf("resume Stream: %v", err)
	}
	if sid2 != sid {
		t.Errorf("resume session id = %q, want %q", sid2, sid)
	}

	final := onlyFinal(t, collect(t, out2))
	if text := textOf(final); !strings.Contains(text, "EMEA revenue grew") {
		t.Errorf("final text = %q", text)
	}
	if q := dispatch.lastQuery(t, "t1"); !strings.Contains(q, "EMEA") {
		t.Errorf("resume query = %q, want user input embedded", q)
	}
}

func TestStream_Cancel(t *testing.T) {
	singleTask := `{
		"tasks": [{"id": "t1", "description": "long job", "capability": "research"}]
	}`
	plans := &plannerStub{responses: []string{singleTask}}
	dispatch := newFakeDispatch()
	dispatch.block["t1"] = true

	o := newTestOrchestrator(t, plans.fn, dispatch.fn, nil)
	out, sid, err := o.Stream(context.Background(), "long job", "")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for dispatch.callCount("t1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("t1 was never dispatched")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := o.Cancel(sid); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	final := onlyFinal(t, collect(t, out))
	if final.Metadata[formatter.MetaCancelled] != true {
		t.Errorf("final metadata = %v, want cancelled", final.Metadata)
	}
}

func TestStream_UnknownSession(t *testing.T) {
	plans := &plannerStub{responses: []string{twoTaskPlan}}
	o := newTestOrchestrator(t, plans.fn, newFakeDispatch().fn, nil)

	if _, _, err := o.Stream(context.Background(), "input", "no-such-session"); err == nil {
		t.Fatal("Stream with unknown session id succeeded")
	}
	if err := o.Cancel("no-such-session"); err == nil {
		t.Fatal("Cancel with unknown session id succeeded")
	}
}
