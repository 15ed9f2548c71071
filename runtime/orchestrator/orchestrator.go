// Package orchestrator drives the seven-phase session lifecycle: pre-analysis,
// planning, quality prediction, execution, dynamic adjustment, synthesis, and
// learning. It owns the workflow graph for each session and merges all phase
// and node events into one outgoing envelope stream with exactly one final
// envelope per session.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/budprat/agentic-5-sub002/runtime/events"
	"github.com/budprat/agentic-5-sub002/runtime/formatter"
	"github.com/budprat/agentic-5-sub002/runtime/graph"
	"github.com/budprat/agentic-5-sub002/runtime/planner"
	"github.com/budprat/agentic-5-sub002/runtime/quality"
	"github.com/budprat/agentic-5-sub002/runtime/registry"
	"github.com/budprat/agentic-5-sub002/runtime/runner"
	"github.com/budprat/agentic-5-sub002/runtime/session"
)

// Lifecycle phases.
const (
	PhasePreAnalysis       = "PRE_ANALYSIS"
	PhasePlanning          = "PLANNING"
	PhaseQualityPrediction = "QUALITY_PREDICTION"
	PhaseExecution         = "EXECUTION"
	PhaseDynamicAdjustment = "DYNAMIC_ADJUSTMENT"
	PhaseSynthesis         = "SYNTHESIS"
	PhaseLearning          = "LEARNING"
	PhasePaused            = "PAUSED"
)

// Budgets.
const (
	maxReplans        = 1
	defaultMaxRetries = 1
	minPlanFeasible   = 0.5
	minPlanQuality    = 0.5
)

// ErrUnknownSession is returned when a follow-up call names a session that
// is not live.
var ErrUnknownSession = errors.New("orchestrator: unknown session")

// PlanFunc asks the planner agent for a plan and returns its raw JSON
// output. The orchestrator validates and normalizes it.
type PlanFunc func(ctx context.Context, req planner.Request) ([]byte, error)

// Config wires an Orchestrator.
type Config struct {
	Registry *registry.Registry
	Quality  *quality.Framework
	Sessions *session.Manager
	Planner  PlanFunc
	Dispatch runner.Dispatch
	Bus      *events.EventBus

	// NodeTimeout is the default per-node deadline.
	NodeTimeout time.Duration
	// MinParallel is the level size below which nodes run sequentially.
	MinParallel int
	// MaxParallel caps concurrent dispatches per level. Zero is unbounded.
	MaxParallel int
}

// Orchestrator coordinates sessions over the shared registry, quality
// framework, and connection pool.
type Orchestrator struct {
	cfg Config

	mu   sync.Mutex
	runs map[string]*run
}

// run is the per-session execution state retained across pause/resume.
type run struct {
	session *session.Session
	emitter *events.Emitter
	graph   *graph.Graph
	runner  *runner.Runner
	plan    *planner.Plan
	domain  string
	mode    string
	replans int
	started time.Time
}

// New builds an orchestrator. Registry, Quality, Sessions, Planner, and
// Dispatch are required.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("orchestrator: registry is required")
	case cfg.Quality == nil:
		return nil, errors.New("orchestrator: quality framework is required")
	case cfg.Sessions == nil:
		return nil, errors.New("orchestrator: session manager is required")
	case cfg.Planner == nil:
		return nil, errors.New("orchestrator: planner is required")
	case cfg.Dispatch == nil:
		return nil, errors.New("orchestrator: dispatch is required")
	}
	return &Orchestrator{cfg: cfg, runs: make(map[string]*run)}, nil
}

// Stream runs the lifecycle for a query. When sessionID names a session that
// is paused on input, the query is treated as the user's input and execution
// resumes; otherwise a new session is created. The returned channel closes
// after the final envelope or after an input-required pause.
func (o *Orchestrator) Stream(ctx context.Context, query, sessionID string) (<-chan *formatter.Envelope, string, error) {
	if sessionID != "" {
		r, ok := o.getRun(sessionID)
		if !ok {
			return nil, "", fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
		}
		if r.runner == nil || !r.runner.Paused() {
			return nil, "", fmt.Errorf("orchestrator: session %s is not awaiting input", sessionID)
		}
		out := make(chan *formatter.Envelope, 64)
		go o.resume(r, query, out)
		return out, sessionID, nil
	}

	sess := o.cfg.Sessions.Create(ctx, query)
	r := &run{
		session: sess,
		emitter: events.NewEmitter(o.cfg.Bus, sess.ID),
		started: time.Now(),
	}
	o.mu.Lock()
	o.runs[sess.ID] = r
	o.mu.Unlock()

	out := make(chan *formatter.Envelope, 64)
	go o.execute(r, out)
	return out, sess.ID, nil
}

// Cancel cancels a live session.
func (o *Orchestrator) Cancel(sessionID string) error {
	r, ok := o.getRun(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	r.session.Cancel()
	return nil
}

// Shutdown cancels every live session.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	runs := make([]*run, 0, len(o.runs))
	for _, r := range o.runs {
		runs = append(runs, r)
	}
	o.mu.Unlock()

	for _, r := range runs {
		r.session.Cancel()
	}
}

func (o *Orchestrator) getRun(sessionID string) (*run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.runs[sessionID]
	return r, ok
}

func (o *Orchestrator) dropRun(sessionID string) {
	o.mu.Lock()
	delete(o.runs, sessionID)
	o.mu.Unlock()
	o.cfg.Sessions.Remove(sessionID)
}
