// Package trigger evaluates deterministic rules against extracted findings
// and instantiates action templates for the matches.
package trigger

import (
	"github.com/caseworks/docpipe/internal/model"
)

// Operator names a condition operator in pack definition files.
type Operator string

const (
	OpExists         Operator = "exists"
	OpEquals         Operator = "equals"
	OpContains       Operator = "contains"
	OpGreaterThan    Operator = "gt"
	OpDateWithinDays Operator = "date_within_days"
)

// Clause is the tagged union of condition variants, keyed by operator.
// Each variant carries only the value type it needs.
type Clause interface {
	isClause()
}

// ExistsClause matches when any candidate is present for the field.
type ExistsClause struct{}

// EqualsClause matches on exact, case-sensitive string equality.
type EqualsClause struct {
	Value string
}

// ContainsClause matches on case-insensitive substring containment.
type ContainsClause struct {
	Value string
}

// GreaterThanClause matches when the candidate parses to a number above
// the threshold. Currency symbols and thousands separators are stripped
// before parsing.
type GreaterThanClause struct {
	Threshold float64
}

// DateWithinClause matches when the candidate parses to a date within the
// next Days days of the evaluation time, boundary inclusive.
type DateWithinClause struct {
	Days int
}

func (ExistsClause) isClause()      {}
func (EqualsClause) isClause()      {}
func (ContainsClause) isClause()    {}
func (GreaterThanClause) isClause() {}
func (DateWithinClause) isClause()  {}

// Condition locates the finding values a clause applies to. A condition
// without a field key never matches and is skipped at evaluation time.
type Condition struct {
	FieldKey    string
	CategoryKey string
	Clause      Clause
}

// ActionTemplate describes the work item to instantiate on a match.
// Title and Detail may reference {{value}}, {{field}}, and {{label}}.
type ActionTemplate struct {
	ActionType model.ActionType
	Title      string
	Detail     string
	DueInDays  int
}

// Trigger is one deterministic rule from a pack. Triggers are read-only
// configuration; evaluation never mutates them.
type Trigger struct {
	ID            string
	PackID        string
	TriggerType   string
	Name          string
	Condition     Condition
	Action        ActionTemplate
	Deterministic bool
}

// Candidate is one value considered during evaluation.
type Candidate struct {
	FindingID  string
	Value      string
	Confidence float64
}

// Match pairs a trigger with the first candidate that satisfied it.
// Matched is nil only for conditions that assert absence of data, which
// the current operator set does not include.
type Match struct {
	Trigger Trigger
	Matched *Candidate
}

// BuildCandidates indexes findings for evaluation. Every finding is keyed
// by its category-qualified key and additionally by its bare field key so
// unqualified conditions can fall back. Rejected findings are excluded.
func BuildCandidates(findings []model.Finding) map[string][]Candidate {
	out := make(map[string][]Candidate)
	for _, f := range findings {
		if f.Status == model.FindingRejected {
			continue
		}
		c := Candidate{FindingID: f.ID, Value: f.Value, Confidence: f.Confidence}
		key := f.Key()
		out[key] = append(out[key], c)
		if f.CategoryKey != "" {
			out[f.FieldKey] = append(out[f.FieldKey], c)
		}
	}
	return out
}
