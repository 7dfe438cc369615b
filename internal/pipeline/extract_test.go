package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseworks/docpipe/internal/model"
)

func TestParseCandidates(t *testing.T) {
	raw := "```json\n" + `[
  {"category_key": "amounts", "field_key": "settlement_amount", "label": "Settlement Amount", "value": "$137,500.00", "source_quote": "settle for $137,500.00", "confidence": 0.93, "impact": "critical"},
  {"field_key": "court", "label": "Court", "value": "SDNY", "confidence": 1.2, "impact": "bogus"},
  {"field_key": "", "value": "orphan"},
  {"field_key": "empty_value", "value": ""}
]` + "\n```"

	kept, dropped := parseCandidates(raw)
	require.Len(t, kept, 2)
	assert.Equal(t, 2, dropped)

	assert.Equal(t, "amounts", kept[0].CategoryKey)
	assert.Equal(t, "settlement_amount", kept[0].FieldKey)
	assert.Equal(t, "$137,500.00", kept[0].Value)
	assert.Equal(t, model.ImpactCritical, kept[0].Impact)

	assert.Equal(t, 1.0, kept[1].Confidence)
	assert.Equal(t, model.ImpactInfo, kept[1].Impact)
}

func TestParseCandidates_Unparseable(t *testing.T) {
	kept, dropped := parseCandidates("the document contains no extractable fields")
	assert.Nil(t, kept)
	assert.Zero(t, dropped)
}

func TestParseCandidates_EmptyArray(t *testing.T) {
	kept, dropped := parseCandidates("[]")
	assert.Empty(t, kept)
	assert.Zero(t, dropped)
}

func TestParseCandidates_NegativeConfidenceClamped(t *testing.T) {
	kept, _ := parseCandidates(`[{"field_key": "judge", "value": "Hon. R. Alvarez", "confidence": -0.2, "impact": "low"}]`)
	require.Len(t, kept, 1)
	assert.Zero(t, kept[0].Confidence)
	assert.Equal(t, model.ImpactLow, kept[0].Impact)
}
