package settings

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDefaults(t *testing.T) {
	resolved, err := Resolve("{}", "{}", "{}")
	require.NoError(t, err)

	assert.Equal(t, "other", resolved.Analysis.CommitClassification.DefaultCategory)
	assert.NotEmpty(t, resolved.Analysis.CommitClassification.Rules)
	assert.Equal(t, 14, resolved.Workflow.Sprint.DurationDays)
	assert.Equal(t, 5, resolved.Workflow.Sync.MaxWorkers)
	assert.Equal(t, 3, resolved.Workflow.Sync.MaxSessionsPerTeam)
	assert.Equal(t, 5, resolved.Metrics.SignificantCommitMinLines)
	assert.InDelta(t, 3.0, resolved.Metrics.CommitWeights["feat"], 0.001)
	assert.InDelta(t, 0.0, resolved.Metrics.CommitWeights["revert"], 0.001)
}

func TestResolveEmptyDocumentsEqualDefaults(t *testing.T) {
	fromEmpty, err := Resolve("", "", "")
	require.NoError(t, err)
	fromBraces, err := Resolve("{}", "{}", "{}")
	require.NoError(t, err)
	assert.Equal(t, fromBraces, fromEmpty)
}

func TestResolveOverrideWins(t *testing.T) {
	workflow := `{"sprint": {"duration_days": 7}}`
	metrics := `{"commit_weights": {"feat": 5.0}, "significant_commit_min_lines": 10}`

	resolved, err := Resolve("{}", workflow, metrics)
	require.NoError(t, err)

	assert.Equal(t, 7, resolved.Workflow.Sprint.DurationDays)
	// Sibling keys under the same object survive a partial override.
	assert.Equal(t, 5, resolved.Workflow.Sync.MaxWorkers)
	assert.Equal(t, 10, resolved.Metrics.SignificantCommitMinLines)
	assert.InDelta(t, 5.0, resolved.Metrics.CommitWeights["feat"], 0.001)
}

func TestResolveMalformedJSON(t *testing.T) {
	_, err := Resolve("{not json", "{}", "{}")
	assert.Error(t, err)
}

func TestResolveCustomRules(t *testing.T) {
	analysis := `{"commit_classification": {"rules": [
		{"name": "Bugfix", "category": "fix", "keywords": ["fix"], "priority": 99}
	]}}`

	resolved, err := Resolve(analysis, "{}", "{}")
	require.NoError(t, err)

	// A rules override replaces the whole list, it is not element-merged.
	require.Len(t, resolved.Analysis.CommitClassification.Rules, 1)
	assert.Equal(t, "fix", resolved.Analysis.CommitClassification.Rules[0].Category)
	assert.Equal(t, "other", resolved.Analysis.CommitClassification.DefaultCategory)
}

func TestMergeIdempotent(t *testing.T) {
	defaults := mustParse(t, defaultWorkflowJSON)
	override := mustParse(t, `{"sprint": {"duration_days": 21}, "extra": [1, 2]}`)

	once := Merge(defaults, override)
	twice := Merge(defaults, once)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("merge not idempotent:\nonce:  %v\ntwice: %v", once, twice)
	}
}

func TestMergeEmptyOverrideIsIdentity(t *testing.T) {
	defaults := mustParse(t, defaultMetricsJSON)
	merged := Merge(defaults, map[string]interface{}{})
	if !reflect.DeepEqual(defaults, merged) {
		t.Errorf("merge with empty override changed the document: %v", merged)
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	base := mustParse(t, `{"a": {"b": 1}}`)
	override := mustParse(t, `{"a": {"b": 2, "c": 3}}`)

	merged := Merge(base, override)
	merged["a"].(map[string]interface{})["b"] = float64(42)

	assert.Equal(t, float64(1), base["a"].(map[string]interface{})["b"])
	assert.Equal(t, float64(2), override["a"].(map[string]interface{})["b"])
}

func TestPatchDocument(t *testing.T) {
	stored := `{"sprint": {"duration_days": 7}}`
	patch := `{"sync": {"max_workers": 2}}`

	updated, err := PatchDocument(stored, patch)
	require.NoError(t, err)

	got := mustParse(t, updated)
	sprint := got["sprint"].(map[string]interface{})
	sync := got["sync"].(map[string]interface{})
	assert.Equal(t, float64(7), sprint["duration_days"])
	assert.Equal(t, float64(2), sync["max_workers"])
}

func mustParse(t *testing.T, doc string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		t.Fatalf("parse %q: %v", doc, err)
	}
	return m
}
