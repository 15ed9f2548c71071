package orchestrator

import (
	"strings"

	"github.com/budprat/agentic-5-sub002/runtime/planner"
	"github.com/budprat/agentic-5-sub002/runtime/quality"
)

// sophisticatedMarkers are query fragments that indicate multi-step work
// worth a dependency-aware plan.
var sophisticatedMarkers = []string{
	" then ", " after ", " compare ", " versus ", " vs ",
	" analyze ", " synthesize ", " combine ", " and also ",
}

// sophisticatedWordCount is the query length at which planning switches to
// sophisticated mode regardless of markers.
const sophisticatedWordCount = 15

// classifyComplexity picks the planning mode from the query shape.
func classifyComplexity(query string) string {
	lowered := " " + strings.ToLower(query) + " "
	if len(strings.Fields(query)) >= sophisticatedWordCount {
		return planner.ModeSophisticated
	}
	for _, marker := range sophisticatedMarkers {
		if strings.Contains(lowered, marker) {
			return planner.ModeSophisticated
		}
	}
	if strings.Count(query, ".")+strings.Count(query, ";") >= 2 {
		return planner.ModeSophisticated
	}
	return planner.ModeSimple
}

// selectDomain picks the quality profile whose name appears in the query,
// falling back to GENERIC.
func selectDomain(query string, fw *quality.Framework) string {
	lowered := strings.ToLower(query)
	for _, domain := range fw.Domains() {
		if domain == quality.DomainGeneric {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(domain)) {
			return domain
		}
	}
	return quality.DomainGeneric
}
