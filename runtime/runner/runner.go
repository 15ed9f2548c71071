// Package runner executes a workflow graph level by level. Ready nodes of a
// level are dispatched concurrently; their event streams are merged onto a
// single channel, preserving per-node order. A node asking for user input
// pauses the run until Resume is called with the supplied input.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/budprat/agentic-5-sub002/runtime/a2a"
	"github.com/budprat/agentic-5-sub002/runtime/events"
	"github.com/budprat/agentic-5-sub002/runtime/graph"
	"github.com/budprat/agentic-5-sub002/runtime/logger"
)

// Defaults.
const (
	defaultMinParallel = 2
	defaultNodeTimeout = 180 * time.Second
)

// Dispatch sends a node's work to its agent and returns the event stream.
// Implementations are typically a closure over the A2A client.
type Dispatch func(ctx context.Context, node *graph.Node) (<-chan a2a.StreamEvent, error)

// LevelHook runs between levels. Returning an error aborts the run; the
// orchestrator uses it for quality gating and dynamic adjustment.
type LevelHook func(level int) error

// NodeEvent is one merged stream event annotated with its origin node.
type NodeEvent struct {
	NodeID string
	Event  a2a.StreamEvent
}

// Runner drives one graph execution. A Runner is owned by a single session.
type Runner struct {
	g        *graph.Graph
	dispatch Dispatch
	emitter  *events.Emitter

	minParallel int
	maxParallel int
	nodeTimeout time.Duration
	levelHook   LevelHook

	mu      sync.Mutex
	waiting map[string]string
	err     error
}

// Option configures a Runner.
type Option func(*Runner)

// WithEmitter routes lifecycle events to an emitter.
func WithEmitter(e *events.Emitter) Option {
	return func(r *Runner) { r.emitter = e }
}

// WithMinParallel sets the level size below which nodes run sequentially.
func WithMinParallel(n int) Option {
	return func(r *Runner) { r.minParallel = n }
}

// WithMaxParallel caps concurrent dispatches within one level. Zero means
// unbounded.
func WithMaxParallel(n int) Option {
	return func(r *Runner) { r.maxParallel = n }
}

// WithNodeTimeout sets the default per-node deadline, used when a node
// carries no timeout of its own.
func WithNodeTimeout(d time.Duration) Option {
	return func(r *Runner) { r.nodeTimeout = d }
}

// WithLevelHook installs the between-levels callback.
func WithLevelHook(h LevelHook) Option {
	return func(r *Runner) { r.levelHook = h }
}

// New builds a runner over g.
func New(g *graph.Graph, dispatch Dispatch, opts ...Option) *Runner {
	r := &Runner{
		g:           g,
		dispatch:    dispatch,
		minParallel: defaultMinParallel,
		nodeTimeout: defaultNodeTimeout,
		waiting:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes levels until the graph is terminal, a node pauses for input,
// the hook aborts, or ctx is cancelled. The returned channel closes when the
// run stops; check Err and Waiting afterwards.
func (r *Runner) Run(ctx context.Context) <-chan NodeEvent {
	return r.start(ctx, "")
}

// Resume continues a paused run, re-dispatching the waiting nodes with the
// supplied input appended to their query.
func (r *Runner) Resume(ctx context.Context, input string) <-chan NodeEvent {
	return r.start(ctx, input)
}

// Waiting returns the ids of nodes paused on input, with their prompts.
func (r *Runner) Waiting() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.waiting))
	for id, prompt := range r.waiting {
		out[id] = prompt
	}
	return out
}

// Paused reports whether the run stopped on an input request.
func (r *Runner) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiting) > 0
}

// Err returns the terminal error of the last run, if any.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Runner) start(ctx context.Context, resumeInput string) <-chan NodeEvent {
	out := make(chan NodeEvent, 64)
	go func() {
		defer close(out)
		r.run(ctx, out, resumeInput)
	}()
	return out
}

func (r *Runner) run(ctx context.Context, out chan<- NodeEvent, resumeInput string) {
	r.setErr(nil)

	if resumeInput != "" {
		r.resumeWaiting(ctx, out, resumeInput)
		if r.Paused() || r.Err() != nil {
			return
		}
	}

	for level := 0; ; level++ {
		if ctx.Err() != nil {
			r.cancelRun(ctx)
			return
		}

		ready := r.g.ReadyNodes()
		if len(ready) == 0 {
			if !r.skipUnreachable() {
				return
			}
			// Skipping may unblock sibling branches; recompute once.
			if ready = r.g.ReadyNodes(); len(ready) == 0 {
				return
			}
		}

		r.runLevel(ctx, ready, level, out)

		if ctx.Err() != nil {
			r.cancelRun(ctx)
			return
		}
		if r.Paused() {
			return
		}
		if r.levelHook != nil {
			if err := r.levelHook(level); err != nil {
				r.setErr(err)
				return
			}
		}
	}
}

// resumeWaiting re-dispatches paused nodes with the input appended.
func (r *Runner) resumeWaiting(ctx context.Context, out chan<- NodeEvent, input string) {
	r.mu.Lock()
	waiting := r.waiting
	r.waiting = make(map[string]string)
	r.mu.Unlock()

	var nodes []*graph.Node
	for id := range waiting {
		node, err := r.g.Node(id)
		if err != nil {
			continue
		}
		node.Query = strings.TrimSpace(node.Query + "\n" + input)
		nodes = append(nodes, node)
	}
	r.runLevel(ctx, nodes, 0, out)
}

// runLevel dispatches one level. Small levels run sequentially; larger ones
// fan out through an errgroup, optionally capped by maxParallel.
func (r *Runner) runLevel(ctx context.Context, nodes []*graph.Node, level int, out chan<- NodeEvent) {
	if len(nodes) < r.minParallel {
		for _, node := range nodes {
			r.runNode(ctx, node, level, out)
		}
		return
	}

	g := new(errgroup.Group)
	if r.maxParallel > 0 {
		g.SetLimit(r.maxParallel)
	}
	for _, node := range nodes {
		node := node
		g.Go(func() error {
			r.runNode(ctx, node, level, out)
			return nil
		})
	}
	_ = g.Wait()
}

// runNode drives one node from dispatch to a terminal state or a pause.
func (r *Runner) runNode(ctx context.Context, node *graph.Node, level int, out chan<- NodeEvent) {
	if err := r.g.Transition(node.ID, graph.NodeRunning); err != nil {
		logger.Warn("node not runnable", "node_id", node.ID, "error", err)
		return
	}
	r.emitter.NodeDispatched(node.ID, node.AgentID, level)
	started := time.Now()

	timeout := node.Timeout
	if timeout <= 0 {
		timeout = r.nodeTimeout
	}
	nctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch, err := r.dispatch(nctx, node)
	if err != nil {
		r.failNode(node, err, started, out)
		return
	}

	var (
		text      strings.Builder
		data      map[string]any
		artifacts int
	)
	for evt := range ch {
		select {
		case out <- NodeEvent{NodeID: node.ID, Event: evt}:
		case <-ctx.Done():
			r.cancelNode(node)
			return
		}

		switch {
		case evt.InputRequired != nil:
			r.pauseNode(node, evt.InputRequired.Prompt)
			return

		case evt.Error != nil && evt.IsFinal():
			// The stream already delivered this final error to out above;
			// record the failure without emitting a second final event.
			r.recordFailure(node, fmt.Errorf("agent error: %s", evt.Error.Message), started)
			return

		case evt.StreamingResponse != nil:
			for _, part := range evt.StreamingResponse.Parts {
				if part.Kind == a2a.PartKindText {
					text.WriteString(part.Text)
				}
			}
			if evt.IsFinal() {
				r.completeNode(node, text.String(), data, artifacts, started)
				return
			}

		case evt.ArtifactUpdate != nil:
			artifacts++
			for _, part := range evt.ArtifactUpdate.Artifact.Parts {
				if part.Kind == a2a.PartKindData && len(part.Data) > 0 {
					var payload map[string]any
					if err := json.Unmarshal(part.Data, &payload); err == nil {
						data = payload
					}
				}
			}
			if evt.IsFinal() {
				r.completeNode(node, text.String(), data, artifacts, started)
				return
			}

		case evt.IsFinal():
			r.completeNode(node, text.String(), data, artifacts, started)
			return
		}
	}

	// Stream ended without a final event.
	switch {
	case ctx.Err() != nil:
		r.cancelNode(node)
	case nctx.Err() != nil:
		r.failNode(node, fmt.Errorf("node timeout after %s: %w", timeout, nctx.Err()), started, out)
	default:
		r.failNode(node, errors.New("stream closed without final event"), started, out)
	}
}

func (r *Runner) completeNode(node *graph.Node, text string, data map[string]any, artifacts int, started time.Time) {
	_ = r.g.SetResult(node.ID, &graph.NodeResult{
		Text:      text,
		Data:      data,
		Artifacts: artifacts,
	})
	if err := r.g.Transition(node.ID, graph.NodeCompleted); err != nil {
		logger.Warn("completion transition rejected", "node_id", node.ID, "error", err)
		return
	}
	r.emitter.NodeCompleted(node.ID, node.AgentID, time.Since(started))
}

// failNode records a failure and emits a synthetic final error event for
// nodes whose stream never produced one (dispatch errors, timeouts, closed
// streams). Failures already signaled by the agent's own final error event
// go through recordFailure instead, keeping exactly one final per node.
func (r *Runner) failNode(node *graph.Node, cause error, started time.Time, out chan<- NodeEvent) {
	if !r.recordFailure(node, cause, started) {
		return
	}

	out <- NodeEvent{NodeID: node.ID, Event: a2a.StreamEvent{Error: &a2a.ErrorEvent{
		Kind:        a2a.EventKindError,
		TaskID:      node.ID,
		Code:        a2a.CodeInternalError,
		Message:     cause.Error(),
		Recoverable: false,
		Final:       true,
	}}}
}

func (r *Runner) recordFailure(node *graph.Node, cause error, started time.Time) bool {
	_ = r.g.SetResult(node.ID, &graph.NodeResult{Error: cause.Error()})
	if err := r.g.Transition(node.ID, graph.NodeFailed); err != nil {
		logger.Warn("failure transition rejected", "node_id", node.ID, "error", err)
		return false
	}
	r.emitter.NodeFailed(node.ID, node.AgentID, cause, time.Since(started))
	return true
}

func (r *Runner) pauseNode(node *graph.Node, prompt string) {
	if err := r.g.Transition(node.ID, graph.NodeInputRequired); err != nil {
		logger.Warn("pause transition rejected", "node_id", node.ID, "error", err)
		return
	}
	r.mu.Lock()
	r.waiting[node.ID] = prompt
	r.mu.Unlock()
	r.emitter.NodeInputRequired(node.ID, prompt)
}

func (r *Runner) cancelNode(node *graph.Node) {
	_ = r.g.Transition(node.ID, graph.NodeCancelled)
}

func (r *Runner) cancelRun(ctx context.Context) {
	r.g.CancelAll()
	r.setErr(ctx.Err())
}

// skipUnreachable cascade-skips descendants of failed nodes so the run can
// terminate instead of stalling on nodes that will never become ready.
// Returns true when anything was skipped.
func (r *Runner) skipUnreachable() bool {
	skippedAny := false
	for _, node := range r.g.Nodes() {
		if node.State != graph.NodeFailed {
			continue
		}
		for _, id := range r.g.CascadeSkip(node.ID) {
			r.emitter.NodeSkipped(id, "predecessor "+node.ID+" failed")
			skippedAny = true
		}
	}
	return skippedAny
}

func (r *Runner) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}
