package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseworks/docpipe/internal/model"
)

const threshold = 0.85

func TestReconcile_ConflictWithExistingValue(t *testing.T) {
	candidates := []model.ExtractedField{
		{FieldKey: "opposing_counsel", Value: "Smith LLP", Confidence: 0.95, Impact: model.ImpactMedium},
	}
	existing := map[string]string{"opposing_counsel": "Jones LLP"}

	findings := Reconcile(candidates, existing, threshold)
	require.Len(t, findings, 1)
	assert.Equal(t, model.FindingConflict, findings[0].Status)
	assert.Equal(t, "Jones LLP", findings[0].ExistingValue)
	assert.Equal(t, "Smith LLP", findings[0].Value)
}

func TestReconcile_HighConfidenceAutoApplies(t *testing.T) {
	candidates := []model.ExtractedField{
		{FieldKey: "case_number", Value: "24-cv-1881", Confidence: 0.95, Impact: model.ImpactHigh},
	}

	findings := Reconcile(candidates, map[string]string{}, threshold)
	require.Len(t, findings, 1)
	assert.Equal(t, model.FindingAutoApplied, findings[0].Status)
	assert.Empty(t, findings[0].ExistingValue)
}

func TestReconcile_ThresholdIsInclusive(t *testing.T) {
	candidates := []model.ExtractedField{
		{FieldKey: "court", Value: "SDNY", Confidence: 0.85},
	}
	findings := Reconcile(candidates, nil, threshold)
	require.Len(t, findings, 1)
	assert.Equal(t, model.FindingAutoApplied, findings[0].Status)
}

func TestReconcile_LowConfidenceStaysPending(t *testing.T) {
	candidates := []model.ExtractedField{
		{FieldKey: "settlement_amount", Value: "137500", Confidence: 0.6, Impact: model.ImpactCritical},
	}

	findings := Reconcile(candidates, map[string]string{}, threshold)
	require.Len(t, findings, 1)
	assert.Equal(t, model.FindingPending, findings[0].Status)
}

func TestReconcile_MatchingExistingValueAccepted(t *testing.T) {
	candidates := []model.ExtractedField{
		{FieldKey: "court", Value: "SDNY", Confidence: 0.4},
	}
	existing := map[string]string{"court": "SDNY"}

	findings := Reconcile(candidates, existing, threshold)
	require.Len(t, findings, 1)
	assert.Equal(t, model.FindingAccepted, findings[0].Status)
}

func TestReconcile_QualifiedKeyPreferredOverBare(t *testing.T) {
	candidates := []model.ExtractedField{
		{CategoryKey: "amounts", FieldKey: "total", Value: "500", Confidence: 0.9},
	}

	// The qualified key wins when present.
	findings := Reconcile(candidates, map[string]string{"amounts:total": "400", "total": "500"}, threshold)
	require.Len(t, findings, 1)
	assert.Equal(t, model.FindingConflict, findings[0].Status)
	assert.Equal(t, "400", findings[0].ExistingValue)

	// Without it, the bare field key is consulted.
	findings = Reconcile(candidates, map[string]string{"total": "500"}, threshold)
	require.Len(t, findings, 1)
	assert.Equal(t, model.FindingAccepted, findings[0].Status)
}

func TestReconcile_EmptyCandidates(t *testing.T) {
	assert.Empty(t, Reconcile(nil, map[string]string{"a": "b"}, threshold))
}
