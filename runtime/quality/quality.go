// Package quality scores agent results against domain-keyed threshold
// profiles. Profiles are loaded once at startup and are read-only
// afterwards; extractors registered before first use pull metric values out
// of result payloads.
package quality

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/budprat/agentic-5-sub002/runtime/logger"
)

// DomainGeneric is the fallback profile used when a domain has no entry.
const DomainGeneric = "GENERIC"

// Threshold is the minimum acceptable value for one metric and its weight
// in the overall score.
type Threshold struct {
	Min    float64 `yaml:"min"`
	Weight float64 `yaml:"weight,omitempty"`
}

// Profile maps metric names to thresholds for one quality domain.
type Profile struct {
	Thresholds map[string]Threshold `yaml:"thresholds"`
}

// profilesFile is the on-disk YAML layout.
type profilesFile struct {
	Profiles  map[string]Profile              `yaml:"profiles"`
	Overrides map[string]map[string]Threshold `yaml:"overrides,omitempty"`
}

// Result is the payload being validated. Metrics holds values reported by
// the agent itself; Text feeds the heuristic extractors when a metric is
// not reported.
type Result struct {
	Text    string
	Data    map[string]any
	Metrics map[string]float64
}

// Extractor computes a metric value from a result. The boolean reports
// whether a value could be derived.
type Extractor func(r Result) (float64, bool)

// Report is the outcome of one validation.
type Report struct {
	Passed  bool               `json:"passed"`
	Scores  map[string]float64 `json:"score_per_metric"`
	Overall float64            `json:"overall"`
	Failing []string           `json:"failing,omitempty"`
}

// Failure is returned when a quality gate does not pass. The orchestrator
// decides retry policy; Recoverable signals whether a re-plan may help.
type Failure struct {
	Domain      string
	AgentID     string
	Report      Report
	Recoverable bool
}

func (f *Failure) Error() string {
	return fmt.Sprintf("quality: domain %s failed metrics [%s] (overall %.2f)",
		f.Domain, strings.Join(f.Report.Failing, ", "), f.Report.Overall)
}

// Framework validates results against loaded profiles. Safe for concurrent
// readers once construction and extractor registration are done.
type Framework struct {
	profiles   map[string]Profile
	overrides  map[string]map[string]Threshold
	extractors map[string]Extractor
}

// LoadProfiles reads the profile YAML at path.
func LoadProfiles(path string) (*Framework, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("quality: read %s: %w", path, err)
	}
	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("quality: parse %s: %w", path, err)
	}
	fw, err := NewFramework(file.Profiles, file.Overrides)
	if err != nil {
		return nil, err
	}
	logger.Info("quality profiles loaded", "path", path, "domains", len(file.Profiles))
	return fw, nil
}

// NewFramework builds a framework from in-memory profiles. Overrides merge
// by metric name on top of the domain profile; per-agent values win.
func NewFramework(profiles map[string]Profile, overrides map[string]map[string]Threshold) (*Framework, error) {
	for domain, profile := range profiles {
		for metric, th := range profile.Thresholds {
			if th.Min < 0 || th.Min > 1 {
				return nil, fmt.Errorf("quality: domain %s metric %s: min %v out of [0,1]", domain, metric, th.Min)
			}
			if th.Weight < 0 {
				return nil, fmt.Errorf("quality: domain %s metric %s: negative weight", domain, metric)
			}
		}
	}
	fw := &Framework{
		profiles:   profiles,
		overrides:  overrides,
		extractors: make(map[string]Extractor),
	}
	fw.extractors["completeness"] = completenessHeuristic
	return fw, nil
}

// RegisterExtractor installs an extractor for a metric name, replacing any
// previous one. Not safe to call concurrently with Validate.
func (f *Framework) RegisterExtractor(metric string, ex Extractor) {
	f.extractors[metric] = ex
}

// Domains returns the configured domain names, sorted.
func (f *Framework) Domains() []string {
	out := make([]string, 0, len(f.profiles))
	for d := range f.profiles {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Validate scores a result against the domain's profile.
func (f *Framework) Validate(domain string, r Result) Report {
	return f.ValidateForAgent(domain, "", r)
}

// ValidateForAgent scores a result against the domain's profile with the
// agent's threshold overrides applied.
func (f *Framework) ValidateForAgent(domain, agentID string, r Result) Report {
	thresholds := f.effectiveThresholds(domain, agentID)

	report := Report{
		Passed: true,
		Scores: make(map[string]float64, len(thresholds)),
	}
	if len(thresholds) == 0 {
		report.Overall = 1
		return report
	}

	var weightedSum, totalWeight float64
	for metric, th := range thresholds {
		score := f.extract(metric, r)
		report.Scores[metric] = score

		weight := th.Weight
		if weight == 0 {
			weight = 1
		}
		ratio := 1.0
		if th.Min > 0 {
			ratio = score / th.Min
			if ratio > 1 {
				ratio = 1
			}
		}
		weightedSum += ratio * weight
		totalWeight += weight

		if score < th.Min {
			report.Passed = false
			report.Failing = append(report.Failing, metric)
		}
	}
	report.Overall = weightedSum / totalWeight
	sort.Strings(report.Failing)
	return report
}

// effectiveThresholds resolves the domain profile plus per-agent overrides.
// An unknown domain falls back to GENERIC when configured.
func (f *Framework) effectiveThresholds(domain, agentID string) map[string]Threshold {
	profile, ok := f.profiles[domain]
	if !ok {
		profile, ok = f.profiles[DomainGeneric]
		if !ok {
			return nil
		}
	}

	merged := make(map[string]Threshold, len(profile.Thresholds))
	for metric, th := range profile.Thresholds {
		merged[metric] = th
	}
	if agentID != "" {
		for metric, th := range f.overrides[agentID] {
			merged[metric] = th
		}
	}
	return merged
}

// ReportedMetrics lifts agent-reported metric values out of a result data
// payload. A nested "metrics" map wins over top-level numeric entries.
func ReportedMetrics(data map[string]any) map[string]float64 {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]float64)
	for name, v := range data {
		if f, ok := toFloat(v); ok {
			out[name] = f
		}
	}
	if nested, ok := data["metrics"].(map[string]any); ok {
		for name, v := range nested {
			if f, ok := toFloat(v); ok {
				out[name] = f
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// extract resolves a metric value: reported metrics win, then a registered
// extractor, otherwise zero.
func (f *Framework) extract(metric string, r Result) float64 {
	if v, ok := r.Metrics[metric]; ok {
		return v
	}
	if ex, ok := f.extractors[metric]; ok {
		if v, derived := ex(r); derived {
			return v
		}
	}
	return 0
}

// completenessHeuristic estimates completeness from response length when
// the agent did not report the metric. Saturates at completeTokenCount
// whitespace-separated tokens.
const completeTokenCount = 150

func completenessHeuristic(r Result) (float64, bool) {
	if r.Text == "" {
		return 0, false
	}
	n := len(strings.Fields(r.Text))
	score := float64(n) / completeTokenCount
	if score > 1 {
		score = 1
	}
	return score, true
}
