// Package settings resolves per-team configuration. Each team carries three
// free-form JSON documents (analysis, workflow, metrics); the resolver deep
// merges them over built-in defaults and exposes one typed shape, so callers
// never reach into raw JSON.
package settings

import (
	"encoding/json"

	apperrors "github.com/devpulse/devpulse/internal/errors"
)

const (
	DefaultCategory           = "other"
	DefaultSprintDays         = 14
	DefaultSignificantLines   = 5
	DefaultMaxWorkers         = 5
	DefaultMaxSessionsPerTeam = 3
)

// Rule is one classification rule. Rules are evaluated in order; the highest
// priority match wins and ties keep the earlier rule.
type Rule struct {
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Keywords []string `json:"keywords"`
	Priority int      `json:"priority"`
}

// Classification configures the commit classifier.
type Classification struct {
	DefaultCategory string   `json:"default_category"`
	Rules           []Rule   `json:"rules"`
	BreakingMarkers []string `json:"breaking_markers"`
}

// Analysis is the resolved analysis_config document.
type Analysis struct {
	CommitClassification Classification `json:"commit_classification"`
	IgnorePatterns       []string       `json:"ignore_patterns"`
}

// Sprint configures the recent-work window.
type Sprint struct {
	DurationDays int `json:"duration_days"`
}

// Sync bounds the orchestrator's resource usage.
type Sync struct {
	MaxWorkers         int `json:"max_workers"`
	MaxSessionsPerTeam int `json:"max_sessions_per_team"`
}

// Workflow is the resolved workflow_config document.
type Workflow struct {
	Sprint Sprint `json:"sprint"`
	Sync   Sync   `json:"sync"`
}

// Metrics is the resolved metrics_config document.
type Metrics struct {
	SignificantCommitMinLines int                `json:"significant_commit_min_lines"`
	CommitWeights             map[string]float64 `json:"commit_weights"`
}

// Resolved is the effective team settings: stored overrides merged over the
// built-in defaults. Never aliases the defaults.
type Resolved struct {
	Analysis Analysis `json:"analysis"`
	Workflow Workflow `json:"workflow"`
	Metrics  Metrics  `json:"metrics"`
}

const defaultAnalysisJSON = `{
  "commit_classification": {
    "default_category": "other",
    "breaking_markers": ["breaking change", "breaking-change"],
    "rules": [
      {"name": "Bugfix",   "category": "fix",      "keywords": ["fix", "bug", "hotfix", "patch", "resolve"], "priority": 99},
      {"name": "Feature",  "category": "feat",     "keywords": ["feat", "add", "implement", "introduce"],    "priority": 95},
      {"name": "Performance", "category": "perf",  "keywords": ["perf", "optimize", "speed up"],             "priority": 90},
      {"name": "Refactor", "category": "refactor", "keywords": ["refactor", "restructure", "rewrite", "cleanup"], "priority": 85},
      {"name": "Tests",    "category": "test",     "keywords": ["test", "coverage", "spec"],                 "priority": 80},
      {"name": "Docs",     "category": "docs",     "keywords": ["docs", "documentation", "readme"],          "priority": 75},
      {"name": "Style",    "category": "style",    "keywords": ["style", "format", "lint"],                  "priority": 70},
      {"name": "Chore",    "category": "chore",    "keywords": ["chore", "bump", "dependency", "deps", "ci"], "priority": 65},
      {"name": "Revert",   "category": "revert",   "keywords": ["revert", "rollback"],                       "priority": 60}
    ]
  },
  "ignore_patterns": []
}`

const defaultWorkflowJSON = `{
  "sprint": {"duration_days": 14},
  "sync": {"max_workers": 5, "max_sessions_per_team": 3}
}`

const defaultMetricsJSON = `{
  "significant_commit_min_lines": 5,
  "commit_weights": {
    "feat": 3.0, "fix": 2.0, "perf": 2.5, "refactor": 2.0,
    "test": 1.5, "docs": 0.5, "style": 0.5, "chore": 0.5, "revert": 0.0
  }
}`

// Resolve merges the three stored documents over the defaults and decodes
// the result into the typed shape. Empty or "{}" documents yield pure
// defaults. Malformed JSON is a configuration error.
func Resolve(analysisJSON, workflowJSON, metricsJSON string) (*Resolved, error) {
	var out Resolved
	if err := resolveDoc(defaultAnalysisJSON, analysisJSON, "analysis_config", &out.Analysis); err != nil {
		return nil, err
	}
	if err := resolveDoc(defaultWorkflowJSON, workflowJSON, "workflow_config", &out.Workflow); err != nil {
		return nil, err
	}
	if err := resolveDoc(defaultMetricsJSON, metricsJSON, "metrics_config", &out.Metrics); err != nil {
		return nil, err
	}
	return &out, nil
}

func resolveDoc(defaultsJSON, storedJSON, name string, dst interface{}) error {
	merged, err := MergeDocument(defaultsJSON, storedJSON)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.KindConfig, "malformed %s", name)
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.KindConfig, "encode merged %s", name)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperrors.Wrapf(err, apperrors.KindConfig, "decode merged %s", name)
	}
	return nil
}

// MergeDocument parses both JSON documents and deep merges the override over
// the base. An empty override is treated as "{}".
func MergeDocument(baseJSON, overrideJSON string) (map[string]interface{}, error) {
	base, err := parseDoc(baseJSON)
	if err != nil {
		return nil, err
	}
	override, err := parseDoc(overrideJSON)
	if err != nil {
		return nil, err
	}
	return Merge(base, override), nil
}

func parseDoc(doc string) (map[string]interface{}, error) {
	if doc == "" {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]interface{}{}
	}
	return m, nil
}

// Merge deep merges override into base: when both sides hold an object the
// merge recurses, otherwise the override value wins. Neither input is
// mutated.
func Merge(base, override map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base))
	for k, v := range base {
		out[k] = deepCopy(v)
	}
	for k, ov := range override {
		if bm, ok := out[k].(map[string]interface{}); ok {
			if om, ok := ov.(map[string]interface{}); ok {
				out[k] = Merge(bm, om)
				continue
			}
		}
		out[k] = deepCopy(ov)
	}
	return out
}

func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}

// PatchDocument deep merges a partial override document into a stored one
// and returns the updated JSON. This is the PUT settings semantics; the
// merged result is stored verbatim and re-merged over defaults on read.
func PatchDocument(storedJSON, patchJSON string) (string, error) {
	merged, err := MergeDocument(storedJSON, patchJSON)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
