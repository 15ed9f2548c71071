// Package planner owns the plan schema, its validation, and the
// fallback-on-malformed-output behavior. The planning itself is delegated to
// a planner agent over A2A; this package turns that agent's JSON into a
// validated Plan the orchestrator can materialize into a workflow graph.
package planner

import (
	"fmt"
	"strings"
)

// Planning modes.
const (
	ModeSimple        = "simple"
	ModeSophisticated = "sophisticated"
)

// Coordination strategies.
const (
	CoordinationSequential = "sequential"
	CoordinationParallel   = "parallel"
	CoordinationHybrid     = "hybrid"
)

// Task complexity estimates.
const (
	ComplexityLow    = "low"
	ComplexityMedium = "medium"
	ComplexityHigh   = "high"
)

// complexityWeight orders complexities for critical-path length.
var complexityWeight = map[string]int{
	ComplexityLow:    1,
	ComplexityMedium: 2,
	ComplexityHigh:   3,
}

// TaskDescriptor is one unit of planned work.
type TaskDescriptor struct {
	ID            string   `json:"id"`
	Description   string   `json:"description"`
	Capability    string   `json:"capability"`
	DependsOn     []string `json:"depends_on,omitempty"`
	InputTemplate string   `json:"input_template,omitempty"`
	Complexity    string   `json:"complexity,omitempty"`
	TimeoutS      float64  `json:"timeout_s,omitempty"`
}

// Risk is a planner-identified execution risk.
type Risk struct {
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Mitigation  string `json:"mitigation,omitempty"`
}

// Estimates holds the planner's cost projection.
type Estimates struct {
	TimeS     float64 `json:"time_s,omitempty"`
	CostUnits float64 `json:"cost_units,omitempty"`
}

// Plan is the validated planner output.
type Plan struct {
	Tasks        []TaskDescriptor `json:"tasks"`
	Coordination string           `json:"coordination,omitempty"`
	CriticalPath []string         `json:"critical_path,omitempty"`
	Estimates    Estimates        `json:"estimates,omitempty"`
	Risks        []Risk           `json:"risks,omitempty"`
	QualityScore float64          `json:"quality_score,omitempty"`
}

// Request is the planning input handed to the planner agent.
type Request struct {
	Query       string   `json:"query"`
	Domain      string   `json:"domain,omitempty"`
	Specialists []string `json:"available_specialists,omitempty"`
	Mode        string   `json:"mode"`
}

// Task returns the descriptor with the given id.
func (p *Plan) Task(id string) (*TaskDescriptor, bool) {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i], true
		}
	}
	return nil, false
}

// PlanError describes why planner output was rejected.
type PlanError struct {
	Reasons []string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("planner: invalid plan: %s", strings.Join(e.Reasons, "; "))
}
