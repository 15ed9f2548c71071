package planner

import (
	"encoding/json"
	"fmt"

	"github.com/budprat/agentic-5-sub002/runtime/logger"
)

// FallbackCapability is the capability assigned to the catch-all task when
// planner output cannot be salvaged.
const FallbackCapability = "general"

// ParsePlan validates raw planner output and returns the decoded Plan. The
// raw bytes must satisfy the plan schema and the semantic rules (unique task
// ids, resolvable dependencies, acyclic dependency closure).
func ParsePlan(raw []byte) (*Plan, error) {
	if reasons := validateSchema(raw); reasons != nil {
		return nil, &PlanError{Reasons: reasons}
	}

	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, &PlanError{Reasons: []string{"decode: " + err.Error()}}
	}

	if reasons := validateSemantics(&plan); reasons != nil {
		return nil, &PlanError{Reasons: reasons}
	}
	return &plan, nil
}

// validateSemantics checks rules the JSON schema cannot express.
func validateSemantics(plan *Plan) []string {
	var reasons []string

	seen := make(map[string]struct{}, len(plan.Tasks))
	for _, task := range plan.Tasks {
		if _, dup := seen[task.ID]; dup {
			reasons = append(reasons, fmt.Sprintf("duplicate task id %q", task.ID))
		}
		seen[task.ID] = struct{}{}
	}

	for _, task := range plan.Tasks {
		for _, dep := range task.DependsOn {
			if _, ok := seen[dep]; !ok {
				reasons = append(reasons, fmt.Sprintf("task %q depends on unknown task %q", task.ID, dep))
			}
			if dep == task.ID {
				reasons = append(reasons, fmt.Sprintf("task %q depends on itself", task.ID))
			}
		}
	}
	if reasons != nil {
		return reasons
	}

	if cyclic := findCycle(plan); cyclic != "" {
		reasons = append(reasons, fmt.Sprintf("dependency cycle through task %q", cyclic))
	}

	for _, id := range plan.CriticalPath {
		if _, ok := seen[id]; !ok {
			reasons = append(reasons, fmt.Sprintf("critical path references unknown task %q", id))
		}
	}
	return reasons
}

// findCycle returns the id of a task on a dependency cycle, or "".
func findCycle(plan *Plan) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(plan.Tasks))
	deps := make(map[string][]string, len(plan.Tasks))
	for _, task := range plan.Tasks {
		deps[task.ID] = task.DependsOn
	}

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if hit := visit(dep); hit != "" {
					return hit
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, task := range plan.Tasks {
		if color[task.ID] == white {
			if hit := visit(task.ID); hit != "" {
				return hit
			}
		}
	}
	return ""
}

// Normalize fills in derived fields according to the planning mode. It is
// idempotent: normalizing an already-normalized plan changes nothing.
func Normalize(plan *Plan, mode string) {
	if mode == ModeSimple {
		// Simple plans run strictly in order; chain tasks that declare
		// no dependencies of their own.
		for i := 1; i < len(plan.Tasks); i++ {
			if len(plan.Tasks[i].DependsOn) == 0 {
				plan.Tasks[i].DependsOn = []string{plan.Tasks[i-1].ID}
			}
		}
		if plan.Coordination == "" {
			plan.Coordination = CoordinationSequential
		}
		return
	}

	if plan.Coordination == "" {
		plan.Coordination = inferCoordination(plan)
	}
	if len(plan.CriticalPath) == 0 {
		plan.CriticalPath = CriticalPath(plan)
	}
}

func inferCoordination(plan *Plan) string {
	withDeps := 0
	for _, task := range plan.Tasks {
		if len(task.DependsOn) > 0 {
			withDeps++
		}
	}
	switch {
	case withDeps == 0:
		return CoordinationParallel
	case withDeps == len(plan.Tasks)-1 && len(plan.Tasks) > 1:
		return CoordinationSequential
	default:
		return CoordinationHybrid
	}
}

// CriticalPath returns the heaviest dependency chain, weighing tasks by
// declared complexity. Requires an acyclic plan.
func CriticalPath(plan *Plan) []string {
	weight := func(t *TaskDescriptor) int {
		if w, ok := complexityWeight[t.Complexity]; ok {
			return w
		}
		return complexityWeight[ComplexityMedium]
	}

	memo := make(map[string]int, len(plan.Tasks))
	next := make(map[string]string, len(plan.Tasks))

	var cost func(id string) int
	cost = func(id string) int {
		if c, ok := memo[id]; ok {
			return c
		}
		task, _ := plan.Task(id)
		best := 0
		for _, dep := range task.DependsOn {
			if c := cost(dep); c > best {
				best = c
				next[id] = dep
			}
		}
		memo[id] = best + weight(task)
		return memo[id]
	}

	var tail string
	bestCost := -1
	for _, task := range plan.Tasks {
		if c := cost(task.ID); c > bestCost {
			bestCost = c
			tail = task.ID
		}
	}
	if tail == "" {
		return nil
	}

	// Walk from the heaviest sink back to a source, then reverse.
	var reversed []string
	for id := tail; id != ""; id = next[id] {
		reversed = append(reversed, id)
	}
	path := make([]string, len(reversed))
	for i, id := range reversed {
		path[len(reversed)-1-i] = id
	}
	return path
}

// Fallback builds the single catch-all plan used when planner output is
// malformed beyond repair.
func Fallback(req Request) *Plan {
	logger.Warn("planner output malformed, using fallback plan", "mode", req.Mode)
	return &Plan{
		Tasks: []TaskDescriptor{{
			ID:          "task-1",
			Description: req.Query,
			Capability:  FallbackCapability,
			Complexity:  ComplexityMedium,
		}},
		Coordination: CoordinationSequential,
		CriticalPath: []string{"task-1"},
		QualityScore: 0,
	}
}

// BuildPlan parses, validates, and normalizes planner output, falling back
// to the catch-all plan when the output cannot be used.
func BuildPlan(raw []byte, req Request) *Plan {
	plan, err := ParsePlan(raw)
	if err != nil {
		logger.Warn("rejecting planner output", "error", err)
		return Fallback(req)
	}
	Normalize(plan, req.Mode)
	return plan
}
