package trigger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseworks/docpipe/internal/model"
)

var evalNow = time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

func singleCandidate(key, value string) map[string][]Candidate {
	return map[string][]Candidate{
		key: {{FindingID: "f1", Value: value, Confidence: 0.9}},
	}
}

func gtTrigger(field string, threshold float64) Trigger {
	return Trigger{
		ID:        "t-gt",
		Condition: Condition{FieldKey: field, Clause: GreaterThanClause{Threshold: threshold}},
		Action:    ActionTemplate{ActionType: model.ActionAlert, Title: "high value"},
	}
}

func TestEvaluate_GreaterThanParsesCurrency(t *testing.T) {
	tr := gtTrigger("settlement_amount", 100000)

	matches := Evaluate([]Trigger{tr}, singleCandidate("settlement_amount", "$137,500.00"), evalNow)
	require.Len(t, matches, 1)
	assert.Equal(t, "t-gt", matches[0].Trigger.ID)
	require.NotNil(t, matches[0].Matched)
	assert.Equal(t, "f1", matches[0].Matched.FindingID)

	matches = Evaluate([]Trigger{tr}, singleCandidate("settlement_amount", "$99,999.99"), evalNow)
	assert.Empty(t, matches)

	// Unparseable values never match.
	matches = Evaluate([]Trigger{tr}, singleCandidate("settlement_amount", "to be determined"), evalNow)
	assert.Empty(t, matches)
}

func TestEvaluate_DateWithinDaysBoundary(t *testing.T) {
	tr := Trigger{
		ID:        "t-date",
		Condition: Condition{FieldKey: "response_deadline", Clause: DateWithinClause{Days: 14}},
		Action:    ActionTemplate{ActionType: model.ActionDeadline, Title: "deadline near"},
	}

	exactly := evalNow.AddDate(0, 0, 14).Format("2006-01-02")
	matches := Evaluate([]Trigger{tr}, singleCandidate("response_deadline", exactly), evalNow)
	assert.Len(t, matches, 1, "deadline exactly N days out must match")

	past := evalNow.AddDate(0, 0, 15).Format("2006-01-02")
	matches = Evaluate([]Trigger{tr}, singleCandidate("response_deadline", past), evalNow)
	assert.Empty(t, matches, "deadline N+1 days out must not match")

	yesterday := evalNow.AddDate(0, 0, -1).Format("2006-01-02")
	matches = Evaluate([]Trigger{tr}, singleCandidate("response_deadline", yesterday), evalNow)
	assert.Empty(t, matches, "past dates must not match")

	today := evalNow.Format("2006-01-02")
	matches = Evaluate([]Trigger{tr}, singleCandidate("response_deadline", today), evalNow)
	assert.Len(t, matches, 1, "today must match")
}

func TestEvaluate_Operators(t *testing.T) {
	cases := []struct {
		name   string
		clause Clause
		value  string
		want   bool
	}{
		{"exists nonempty", ExistsClause{}, "anything", true},
		{"exists whitespace", ExistsClause{}, "   ", false},
		{"equals exact", EqualsClause{Value: "executed"}, "executed", true},
		{"equals case sensitive", EqualsClause{Value: "executed"}, "Executed", false},
		{"contains case insensitive", ContainsClause{Value: "force majeure"}, "A Force Majeure clause applies.", true},
		{"contains absent", ContainsClause{Value: "indemnity"}, "no such clause", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := Trigger{
				ID:        "t",
				Condition: Condition{FieldKey: "k", Clause: tc.clause},
				Action:    ActionTemplate{ActionType: model.ActionTask, Title: "x"},
			}
			matches := Evaluate([]Trigger{tr}, singleCandidate("k", tc.value), evalNow)
			if tc.want {
				assert.Len(t, matches, 1)
			} else {
				assert.Empty(t, matches)
			}
		})
	}
}

func TestEvaluate_MissingFieldSkippedSilently(t *testing.T) {
	tr := gtTrigger("nonexistent_field", 1)
	matches := Evaluate([]Trigger{tr}, singleCandidate("other_field", "500"), evalNow)
	assert.Empty(t, matches)
}

func TestEvaluate_CategoryQualifiedLookupWithFallback(t *testing.T) {
	candidates := map[string][]Candidate{
		"dates:deadline": {{FindingID: "f-cat", Value: "100"}},
		"deadline":       {{FindingID: "f-bare", Value: "100"}},
	}

	qualified := Trigger{
		ID:        "q",
		Condition: Condition{FieldKey: "deadline", CategoryKey: "dates", Clause: GreaterThanClause{Threshold: 50}},
	}
	matches := Evaluate([]Trigger{qualified}, candidates, evalNow)
	require.Len(t, matches, 1)
	assert.Equal(t, "f-cat", matches[0].Matched.FindingID)

	// No entry under the qualified key falls back to the bare field.
	fallback := Trigger{
		ID:        "fb",
		Condition: Condition{FieldKey: "deadline", CategoryKey: "amounts", Clause: GreaterThanClause{Threshold: 50}},
	}
	matches = Evaluate([]Trigger{fallback}, candidates, evalNow)
	require.Len(t, matches, 1)
	assert.Equal(t, "f-bare", matches[0].Matched.FindingID)
}

func TestEvaluate_FirstSatisfyingCandidateWins(t *testing.T) {
	candidates := map[string][]Candidate{
		"amount": {
			{FindingID: "f1", Value: "10"},
			{FindingID: "f2", Value: "5000"},
			{FindingID: "f3", Value: "9000"},
		},
	}
	matches := Evaluate([]Trigger{gtTrigger("amount", 1000)}, candidates, evalNow)
	require.Len(t, matches, 1)
	assert.Equal(t, "f2", matches[0].Matched.FindingID)
}

func TestEvaluate_MatchesKeepTriggerOrder(t *testing.T) {
	triggers := []Trigger{gtTrigger("b", 1), gtTrigger("a", 1)}
	triggers[0].ID = "first"
	triggers[1].ID = "second"
	candidates := map[string][]Candidate{
		"a": {{FindingID: "fa", Value: "10"}},
		"b": {{FindingID: "fb", Value: "10"}},
	}

	matches := Evaluate(triggers, candidates, evalNow)
	require.Len(t, matches, 2)
	assert.Equal(t, "first", matches[0].Trigger.ID)
	assert.Equal(t, "second", matches[1].Trigger.ID)
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"$137,500.00", 137500, true},
		{"137500", 137500, true},
		{"€1,000", 1000, true},
		{" $42.50 ", 42.5, true},
		{"", 0, false},
		{"N/A", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseAmount(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		if tc.ok {
			assert.InDelta(t, tc.want, got, 0.001, "input %q", tc.in)
		}
	}
}

func TestBuildCandidates(t *testing.T) {
	findings := []model.Finding{
		{ID: "f1", CategoryKey: "amounts", FieldKey: "settlement", Value: "100", Status: model.FindingPending, Confidence: 0.7},
		{ID: "f2", FieldKey: "party", Value: "Acme", Status: model.FindingAccepted, Confidence: 0.9},
		{ID: "f3", FieldKey: "party", Value: "Rejected Co", Status: model.FindingRejected, Confidence: 0.4},
	}

	c := BuildCandidates(findings)
	require.Len(t, c["amounts:settlement"], 1)
	require.Len(t, c["settlement"], 1, "category-keyed findings are also indexed by bare field")
	require.Len(t, c["party"], 1, "rejected findings are excluded")
	assert.Equal(t, "f2", c["party"][0].FindingID)
}

const samplePack = `
id: litigation-core
name: Core litigation triggers
triggers:
  - id: high-settlement
    type: amount_threshold
    name: High settlement amount
    condition:
      field: settlement_amount
      category: amounts
      operator: gt
      threshold: 100000
    action:
      type: alert
      title: "Settlement above $100k: {{value}}"
      detail: Review settlement terms with a partner.
  - id: response-due
    type: deadline
    name: Response deadline approaching
    condition:
      field: response_deadline
      operator: date_within_days
      days: 14
    action:
      type: deadline
      title: Response due for {{field}}
      due_in_days: 7
  - id: broken-no-field
    type: deadline
    condition:
      operator: exists
    action:
      type: task
      title: never loads
  - id: broken-bad-operator
    condition:
      field: x
      operator: regex
    action:
      type: task
      title: never loads
`

func TestLoadPack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "core.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePack), 0o644))

	triggers, err := LoadPack(path)
	require.NoError(t, err)
	require.Len(t, triggers, 2, "malformed triggers are skipped, not fatal")

	assert.Equal(t, "high-settlement", triggers[0].ID)
	assert.Equal(t, "litigation-core", triggers[0].PackID)
	assert.True(t, triggers[0].Deterministic)
	assert.Equal(t, GreaterThanClause{Threshold: 100000}, triggers[0].Condition.Clause)
	assert.Equal(t, "amounts", triggers[0].Condition.CategoryKey)
	assert.Equal(t, model.ActionAlert, triggers[0].Action.ActionType)

	assert.Equal(t, DateWithinClause{Days: 14}, triggers[1].Condition.Clause)
	assert.Equal(t, 7, triggers[1].Action.DueInDays)
}

func TestLoadPackDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(samplePack), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(`
id: other
triggers:
  - id: only
    condition:
      field: k
      operator: exists
    action:
      type: task
      title: t
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	triggers, err := LoadPackDir(dir)
	require.NoError(t, err)
	require.Len(t, triggers, 3)
	// Lexical file order: a.yaml before b.yaml.
	assert.Equal(t, "only", triggers[0].ID)
	assert.Equal(t, "high-settlement", triggers[1].ID)
}

func TestLoadPack_InvalidYAMLFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("triggers: [unclosed"), 0o644))

	_, err := LoadPack(path)
	require.Error(t, err)
}
