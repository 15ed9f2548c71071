package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/budprat/agentic-5-sub002/runtime/a2a"
	"github.com/budprat/agentic-5-sub002/runtime/formatter"
	"github.com/budprat/agentic-5-sub002/runtime/graph"
	"github.com/budprat/agentic-5-sub002/runtime/logger"
	"github.com/budprat/agentic-5-sub002/runtime/planner"
	"github.com/budprat/agentic-5-sub002/runtime/quality"
	"github.com/budprat/agentic-5-sub002/runtime/runner"
	"github.com/budprat/agentic-5-sub002/runtime/session"
)

// execResult classifies how one execution pass ended.
type execResult int

const (
	execDone execResult = iota
	execPaused
	execCancelled
	execQualityFailed
	execFailed
)

func (o *Orchestrator) execute(r *run, out chan<- *formatter.Envelope) {
	r.emitter.SessionStarted(r.session.Query)
	o.lifecycle(r, out, "")
}

func (o *Orchestrator) resume(r *run, input string, out chan<- *formatter.Envelope) {
	o.lifecycle(r, out, input)
}

// lifecycle drives the phases for one Stream call. A non-empty resumeInput
// means the session is resuming from an input-required pause.
func (o *Orchestrator) lifecycle(r *run, out chan<- *formatter.Envelope, resumeInput string) {
	defer close(out)
	ctx := r.session.Context()

	if resumeInput == "" {
		o.preAnalysis(r, out)
	}

	for {
		var merged <-chan runner.NodeEvent
		if resumeInput != "" {
			o.setPhase(r, PhaseExecution)
			merged = r.runner.Resume(ctx, resumeInput)
			resumeInput = ""
		} else {
			plan, err := o.planPhase(ctx, r, out)
			if err != nil {
				o.fail(r, out, PhasePlanning, "", err.Error(), a2a.CodeInternalError)
				return
			}
			r.plan = plan

			if err := o.predictPhase(r, out); err != nil {
				o.fail(r, out, PhaseQualityPrediction, "", err.Error(), a2a.CodeQualityFailed)
				return
			}

			if len(r.plan.Tasks) == 0 {
				o.finish(r, out, "", nil, quality.Report{Passed: true, Overall: 1})
				return
			}

			if err := o.materialize(r); err != nil {
				o.fail(r, out, PhaseExecution, "", err.Error(), a2a.CodeInternalError)
				return
			}
			o.setPhase(r, PhaseExecution)
			merged = r.runner.Run(ctx)
		}

		switch res, cause := o.forward(ctx, r, merged, out); res {
		case execPaused:
			r.session.SetPhase(PhasePaused)
			return

		case execCancelled:
			out <- formatter.Cancelled(r.session.Phase())
			r.emitter.SessionCancelled(time.Since(r.started))
			o.journal(r, PhaseExecution, "session.cancelled", nil)
			o.dropRun(r.session.ID)
			return

		case execQualityFailed:
			if r.replans < maxReplans {
				r.replans++
				logger.Info("re-planning after quality failure",
					"session_id", r.session.ID, "replans", r.replans)
				r.emitter.PlanAdjusted("quality failure", 0, len(r.plan.Tasks))
				continue
			}
			o.failQuality(r, out, cause)
			return

		case execFailed:
			o.fail(r, out, PhaseExecution, "", cause.Error(), a2a.CodeInternalError)
			return
		}

		// Execution finished; validate the synthesized response.
		text, data := o.synthesize(r, out)
		report := o.cfg.Quality.Validate(r.domain, quality.Result{
			Text:    text,
			Data:    data,
			Metrics: quality.ReportedMetrics(data),
		})
		if !report.Passed {
			if r.replans < maxReplans {
				r.replans++
				r.emitter.PlanAdjusted("synthesis quality failure", 0, len(r.plan.Tasks))
				continue
			}
			o.failQuality(r, out, &quality.Failure{Domain: r.domain, Report: report})
			return
		}

		o.finish(r, out, text, data, report)
		return
	}
}

func (o *Orchestrator) setPhase(r *run, phase string) {
	prev := r.session.Phase()
	if prev != "" && prev != PhasePaused {
		r.emitter.PhaseCompleted(prev, time.Since(r.started))
	}
	r.session.SetPhase(phase)
	r.emitter.PhaseStarted(phase)
	logger.Phase(r.session.ID, phase)
}

// preAnalysis classifies the request and selects the quality profile.
func (o *Orchestrator) preAnalysis(r *run, out chan<- *formatter.Envelope) {
	o.setPhase(r, PhasePreAnalysis)
	r.mode = classifyComplexity(r.session.Query)
	r.domain = selectDomain(r.session.Query, o.cfg.Quality)
	out <- formatter.Status(PhasePreAnalysis,
		fmt.Sprintf("planning mode %s, quality domain %s", r.mode, r.domain))
}

// planPhase obtains a validated plan from the planner agent. A low
// self-quality-score triggers one re-plan before the plan is accepted.
func (o *Orchestrator) planPhase(ctx context.Context, r *run, out chan<- *formatter.Envelope) (*planner.Plan, error) {
	o.setPhase(r, PhasePlanning)
	out <- formatter.Status(PhasePlanning, "building execution plan")

	req := planner.Request{
		Query:       r.session.Query,
		Domain:      r.domain,
		Specialists: o.cfg.Registry.Capabilities(),
		Mode:        r.mode,
	}

	raw, err := o.cfg.Planner(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("planner call failed: %w", err)
	}
	plan := planner.BuildPlan(raw, req)

	if plan.QualityScore > 0 && plan.QualityScore < minPlanQuality && r.replans < maxReplans {
		r.replans++
		logger.Info("plan self-score below threshold, re-planning",
			"session_id", r.session.ID, "score", plan.QualityScore)
		if raw, err = o.cfg.Planner(ctx, req); err == nil {
			if second := planner.BuildPlan(raw, req); second.QualityScore >= plan.QualityScore {
				plan = second
			}
		}
	}

	edges := 0
	for _, task := range plan.Tasks {
		edges += len(task.DependsOn)
	}
	r.emitter.PlanCreated(r.mode, len(plan.Tasks), edges)
	o.journal(r, PhasePlanning, "plan.created", map[string]any{
		"tasks":        len(plan.Tasks),
		"coordination": plan.Coordination,
	})
	return plan, nil
}

// predictPhase scores the plan itself before any dispatch: every task must
// resolve to a specialist, within the feasibility floor.
func (o *Orchestrator) predictPhase(r *run, out chan<- *formatter.Envelope) error {
	o.setPhase(r, PhaseQualityPrediction)

	if len(r.plan.Tasks) == 0 {
		return nil
	}

	matched := 0
	var unassigned []string
	for _, task := range r.plan.Tasks {
		if card, _ := o.cfg.Registry.Match(task.Capability); card != nil {
			matched++
		} else {
			unassigned = append(unassigned, task.ID)
		}
	}

	feasibility := float64(matched) / float64(len(r.plan.Tasks))
	if feasibility < minPlanFeasible {
		r.emitter.ValidationFailed("plan", r.domain, feasibility, unassigned, 0)
		return fmt.Errorf("plan infeasible: no specialist for tasks %s",
			strings.Join(unassigned, ", "))
	}
	r.emitter.ValidationPassed("plan", r.domain, feasibility, 0)
	out <- formatter.Status(PhaseQualityPrediction,
		fmt.Sprintf("plan accepted, feasibility %.2f", feasibility))
	return nil
}

// materialize builds the workflow graph and runner from the current plan.
func (o *Orchestrator) materialize(r *run) error {
	g := graph.New()
	for _, task := range r.plan.Tasks {
		node := graph.NewNode(task.ID, task.Description)
		node.Capability = task.Capability
		node.MaxRetries = defaultMaxRetries
		if task.InputTemplate != "" {
			node.Query = task.InputTemplate
		} else {
			node.Query = task.Description
		}
		if task.TimeoutS > 0 {
			node.Timeout = time.Duration(task.TimeoutS * float64(time.Second))
		}
		if card, _ := o.cfg.Registry.Match(task.Capability); card != nil {
			node.AgentID = card.AgentID
		}
		if _, err := g.AddNode(node); err != nil {
			return fmt.Errorf("materialize plan: %w", err)
		}
	}
	for _, task := range r.plan.Tasks {
		for _, dep := range task.DependsOn {
			if err := g.AddEdge(dep, task.ID); err != nil {
				return fmt.Errorf("materialize plan: %w", err)
			}
		}
	}
	r.graph = g
	r.emitter.GraphMutated("materialize", "")

	r.runner = runner.New(g, o.contextualDispatch(r),
		runner.WithEmitter(r.emitter),
		runner.WithMinParallel(o.cfg.MinParallel),
		runner.WithMaxParallel(o.cfg.MaxParallel),
		runner.WithNodeTimeout(o.cfg.NodeTimeout),
		runner.WithLevelHook(o.levelHook(r)),
	)
	return nil
}

// contextualDispatch wraps the configured dispatch so each node's query
// carries the outputs of its completed predecessors.
func (o *Orchestrator) contextualDispatch(r *run) runner.Dispatch {
	return func(ctx context.Context, node *graph.Node) (<-chan a2a.StreamEvent, error) {
		var prior []string
		for _, predID := range r.graph.Predecessors(node.ID) {
			pred, err := r.graph.Node(predID)
			if err != nil || pred.Result == nil || pred.Result.Text == "" {
				continue
			}
			prior = append(prior, fmt.Sprintf("Output of %s:\n%s", predID, pred.Result.Text))
		}
		if len(prior) > 0 {
			node.Query = node.Query + "\n\n" + strings.Join(prior, "\n\n")
		}
		return o.cfg.Dispatch(ctx, node)
	}
}

// levelHook runs between levels: it re-assigns retryable failed nodes to
// alternate specialists and gates completed work on the quality profile.
func (o *Orchestrator) levelHook(r *run) runner.LevelHook {
	validated := make(map[string]struct{})
	return func(level int) error {
		o.adjustFailedNodes(r)

		for _, node := range r.graph.Nodes() {
			if node.State != graph.NodeCompleted || node.Result == nil {
				continue
			}
			if _, done := validated[node.ID]; done {
				continue
			}
			validated[node.ID] = struct{}{}

			started := time.Now()
			report := o.cfg.Quality.ValidateForAgent(r.domain, node.AgentID, quality.Result{
				Text:    node.Result.Text,
				Data:    node.Result.Data,
				Metrics: quality.ReportedMetrics(node.Result.Data),
			})
			_ = r.graph.SetResult(node.ID, &graph.NodeResult{
				Text:      node.Result.Text,
				Data:      node.Result.Data,
				Artifacts: node.Result.Artifacts,
				Quality:   report.Overall,
			})
			if report.Passed {
				r.emitter.ValidationPassed(node.ID, r.domain, report.Overall, time.Since(started))
				continue
			}
			r.emitter.ValidationFailed(node.ID, r.domain, report.Overall, report.Failing, time.Since(started))
			return &quality.Failure{
				Domain:      r.domain,
				AgentID:     node.AgentID,
				Report:      report,
				Recoverable: true,
			}
		}
		return nil
	}
}

// adjustFailedNodes replaces failed nodes that still have retry budget with
// a fresh node assigned to the next-best specialist.
func (o *Orchestrator) adjustFailedNodes(r *run) {
	o.setPhaseQuiet(r, PhaseDynamicAdjustment)
	defer o.setPhaseQuiet(r, PhaseExecution)

	for _, node := range r.graph.Nodes() {
		if node.State != graph.NodeFailed || node.Retries >= node.MaxRetries {
			continue
		}

		replacement := o.alternateAgent(node)
		if replacement == "" {
			continue
		}

		preds := r.graph.Predecessors(node.ID)
		succs := r.graph.Successors(node.ID)
		if err := r.graph.RemoveNode(node.ID); err != nil {
			continue
		}

		retry := graph.NewNode(node.ID, node.Description)
		retry.Capability = node.Capability
		retry.Query = node.Query
		retry.Timeout = node.Timeout
		retry.Retries = node.Retries + 1
		retry.MaxRetries = node.MaxRetries
		retry.AgentID = replacement
		if _, err := r.graph.AddNode(retry); err != nil {
			continue
		}
		for _, pred := range preds {
			_ = r.graph.AddEdge(pred, retry.ID)
		}
		for _, succ := range succs {
			_ = r.graph.AddEdge(retry.ID, succ)
		}

		r.emitter.GraphMutated("reassign", retry.ID)
		logger.Info("re-assigned failed node",
			"session_id", r.session.ID, "node_id", retry.ID, "agent_id", replacement)
	}
}

// setPhaseQuiet updates the session phase without emitting phase events.
// Used for the adjustment window inside the execution loop.
func (o *Orchestrator) setPhaseQuiet(r *run, phase string) {
	r.session.SetPhase(phase)
}

// alternateAgent picks the best specialist that is not the node's current
// assignee.
func (o *Orchestrator) alternateAgent(node *graph.Node) string {
	for _, candidate := range o.cfg.Registry.MatchAll(node.Capability) {
		if candidate.Card.AgentID != node.AgentID {
			return candidate.Card.AgentID
		}
	}
	return ""
}

// forward copies merged runner events onto the outgoing stream as non-final
// envelopes and classifies how the pass ended.
func (o *Orchestrator) forward(ctx context.Context, r *run, merged <-chan runner.NodeEvent, out chan<- *formatter.Envelope) (execResult, error) {
	for evt := range merged {
		env := formatter.FromEvent(evt.Event, PhaseExecution, evt.NodeID)
		if env.Final {
			// The session-final envelope comes from synthesis only.
			env.Final = false
			env.Metadata[formatter.MetaNodeFinal] = true
		}
		out <- env
	}

	switch {
	case ctx.Err() != nil:
		return execCancelled, ctx.Err()
	case r.runner.Paused():
		return execPaused, nil
	case r.runner.Err() != nil:
		var qf *quality.Failure
		if errors.As(r.runner.Err(), &qf) {
			return execQualityFailed, qf
		}
		return execFailed, r.runner.Err()
	default:
		return execDone, nil
	}
}

// synthesize aggregates node outputs in plan order.
func (o *Orchestrator) synthesize(r *run, out chan<- *formatter.Envelope) (string, map[string]any) {
	o.setPhase(r, PhaseSynthesis)
	out <- formatter.Status(PhaseSynthesis, "aggregating results")

	if r.graph == nil {
		return "", nil
	}

	var parts []string
	var data map[string]any
	for _, task := range r.plan.Tasks {
		node, err := r.graph.Node(task.ID)
		if err != nil || node.State != graph.NodeCompleted || node.Result == nil {
			continue
		}
		if node.Result.Text != "" {
			parts = append(parts, node.Result.Text)
		}
		for k, v := range node.Result.Data {
			if data == nil {
				data = make(map[string]any)
			}
			data[k] = v
		}
	}
	return strings.Join(parts, "\n\n"), data
}

// finish runs the learning phase and emits the session-final envelope.
func (o *Orchestrator) finish(r *run, out chan<- *formatter.Envelope, text string, data map[string]any, report quality.Report) {
	o.setPhase(r, PhaseLearning)
	o.appendHistory(r, report)

	nodeCount := 0
	if r.graph != nil {
		nodeCount = r.graph.Stats().Nodes
	}
	r.emitter.SessionCompleted(time.Since(r.started), nodeCount, report.Overall)

	out <- formatter.Synthesized(PhaseSynthesis, text, data, report.Overall)
	o.dropRun(r.session.ID)
}

// appendHistory writes the session's execution history to the journal.
func (o *Orchestrator) appendHistory(r *run, report quality.Report) {
	if r.graph != nil {
		for _, node := range r.graph.Nodes() {
			payload := map[string]any{
				"node_id":  node.ID,
				"agent_id": node.AgentID,
				"state":    string(node.State),
			}
			if node.Result != nil {
				payload["quality"] = node.Result.Quality
			}
			o.journal(r, PhaseExecution, "node."+strings.ToLower(string(node.State)), payload)
		}
	}
	o.journal(r, PhaseLearning, "session.completed", map[string]any{
		"overall":     report.Overall,
		"duration_ms": time.Since(r.started).Milliseconds(),
		"replans":     r.replans,
	})
}

func (o *Orchestrator) journal(r *run, phase, event string, payload map[string]any) {
	// The journal outlives the session context: appends still happen for
	// cancelled and failed sessions.
	err := o.cfg.Sessions.Journal().Append(context.Background(), r.session.ID, session.Entry{
		Phase:     phase,
		Timestamp: time.Now(),
		Event:     event,
		Payload:   payload,
	})
	if err != nil {
		logger.Warn("journal append failed", "session_id", r.session.ID, "error", err)
	}
}

// failQuality emits the structured quality-failure final envelope.
func (o *Orchestrator) failQuality(r *run, out chan<- *formatter.Envelope, cause error) {
	msg := "quality validation failed"
	var qf *quality.Failure
	if errors.As(cause, &qf) {
		msg = fmt.Sprintf("quality validation failed: metrics [%s] below threshold",
			strings.Join(qf.Report.Failing, ", "))
	}
	o.fail(r, out, PhaseSynthesis, "", msg, a2a.CodeQualityFailed)
}

// fail emits a terminal error envelope and tears the session down.
func (o *Orchestrator) fail(r *run, out chan<- *formatter.Envelope, phase, nodeID, msg string, code int) {
	logger.Error("session failed", "session_id", r.session.ID, "phase", phase, "error", msg)
	r.emitter.SessionFailed(errors.New(msg), phase, time.Since(r.started))
	o.journal(r, phase, "session.failed", map[string]any{"error": msg})

	out <- formatter.SessionError(phase, nodeID, msg, code)
	o.dropRun(r.session.ID)
}
