package model

import "time"

// Impact grades how consequential a finding is for the case.
type Impact string

const (
	ImpactCritical Impact = "critical"
	ImpactHigh     Impact = "high"
	ImpactMedium   Impact = "medium"
	ImpactLow      Impact = "low"
	ImpactInfo     Impact = "info"
)

// ValidImpact reports whether s is a known impact grade.
func ValidImpact(s string) bool {
	switch Impact(s) {
	case ImpactCritical, ImpactHigh, ImpactMedium, ImpactLow, ImpactInfo:
		return true
	}
	return false
}

// FindingStatus is the lifecycle state of a finding. Findings are immutable
// once created except for a single transition to accepted or rejected
// performed by human resolution.
type FindingStatus string

const (
	FindingPending     FindingStatus = "pending"
	FindingAccepted    FindingStatus = "accepted"
	FindingAutoApplied FindingStatus = "auto_applied"
	FindingRejected    FindingStatus = "rejected"
	FindingConflict    FindingStatus = "conflict"
)

// Finding is a single extracted or matched data point.
//
// Invariants: status=conflict requires a non-empty ExistingValue differing
// from Value; status=auto_applied requires an empty ExistingValue and
// confidence at or above the auto-apply threshold.
type Finding struct {
	ID            string        `json:"id"`
	RunID         string        `json:"run_id"`
	CaseID        string        `json:"case_id"`
	CategoryKey   string        `json:"category_key"`
	FieldKey      string        `json:"field_key"`
	Label         string        `json:"label"`
	Value         string        `json:"value,omitempty"`
	SourceQuote   string        `json:"source_quote,omitempty"`
	Confidence    float64       `json:"confidence"`
	Impact        Impact        `json:"impact"`
	Status        FindingStatus `json:"status"`
	ExistingValue string        `json:"existing_value,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Key returns the category-qualified field key ("category:field"), or the
// bare field key when the finding has no category.
func (f Finding) Key() string {
	if f.CategoryKey == "" {
		return f.FieldKey
	}
	return f.CategoryKey + ":" + f.FieldKey
}

// ExtractedField is a candidate data point parsed from model output for the
// extract stage, before reconciliation against the case's current values.
type ExtractedField struct {
	CategoryKey string  `json:"category_key"`
	FieldKey    string  `json:"field_key"`
	Label       string  `json:"label"`
	Value       string  `json:"value"`
	SourceQuote string  `json:"source_quote,omitempty"`
	Confidence  float64 `json:"confidence"`
	Impact      Impact  `json:"impact"`
}

// Key mirrors Finding.Key for candidates.
func (e ExtractedField) Key() string {
	if e.CategoryKey == "" {
		return e.FieldKey
	}
	return e.CategoryKey + ":" + e.FieldKey
}

// ConfidenceBand maps a per-finding confidence in [0,1] to a display tier.
func ConfidenceBand(confidence float64) string {
	switch {
	case confidence >= 0.80:
		return "high"
	case confidence >= 0.50:
		return "medium"
	default:
		return "low"
	}
}

// ConfidenceLevel maps a whole-document classification confidence on the
// 0-100 scale to a traffic-light level. Boundaries are inclusive.
func ConfidenceLevel(score float64) string {
	switch {
	case score >= 80:
		return "green"
	case score >= 50:
		return "amber"
	default:
		return "red"
	}
}
