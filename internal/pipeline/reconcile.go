package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/caseworks/docpipe/internal/model"
	"github.com/caseworks/docpipe/internal/risk"
	"github.com/caseworks/docpipe/internal/store"
)

// Reconcile turns extraction candidates into findings by comparing each
// against the case's current field values:
//
//   - a differing existing value makes a conflict carrying both values
//   - a matching existing value is a confirmation and is accepted
//   - no existing value with confidence at or above threshold auto-applies
//   - anything else stays pending for human review
//
// Reconcile is pure; persistence and case-field application happen in the
// stage handler.
func Reconcile(candidates []model.ExtractedField, existing map[string]string, threshold float64) []model.Finding {
	findings := make([]model.Finding, 0, len(candidates))
	for _, c := range candidates {
		f := model.Finding{
			CategoryKey: c.CategoryKey,
			FieldKey:    c.FieldKey,
			Label:       c.Label,
			Value:       c.Value,
			SourceQuote: c.SourceQuote,
			Confidence:  c.Confidence,
			Impact:      c.Impact,
		}

		current, ok := existing[c.Key()]
		if !ok {
			current, ok = existing[c.FieldKey]
		}

		switch {
		case ok && current != "" && current != c.Value:
			f.Status = model.FindingConflict
			f.ExistingValue = current
		case ok && current == c.Value:
			f.Status = model.FindingAccepted
		case c.Confidence >= threshold:
			f.Status = model.FindingAutoApplied
		default:
			f.Status = model.FindingPending
		}
		findings = append(findings, f)
	}
	return findings
}

// stageReconcile persists findings, applies auto-applied values to the case,
// and scores the case's accumulated risk.
func (o *Orchestrator) stageReconcile(ctx context.Context, state *runState) (stageOutcome, error) {
	existing, err := o.store.GetCaseFields(ctx, state.doc.CaseID)
	if err != nil {
		return stageOutcome{}, eris.Wrap(err, "reconcile: load case fields")
	}

	findings := Reconcile(state.candidates, existing, o.cfg.Pipeline.AutoApplyThreshold)
	for i := range findings {
		findings[i].RunID = state.run.ID
		findings[i].CaseID = state.doc.CaseID
	}

	if err := o.store.SaveFindings(ctx, findings); err != nil {
		return stageOutcome{}, eris.Wrap(err, "reconcile: save findings")
	}
	state.findings = findings
	state.run.FindingsCount = len(findings)

	applied := 0
	for _, f := range findings {
		if f.Status != model.FindingAutoApplied {
			continue
		}
		if err := o.store.SetCaseField(ctx, f.CaseID, f.FieldKey, f.Value); err != nil {
			return stageOutcome{}, eris.Wrapf(err, "reconcile: apply field %s", f.Key())
		}
		applied++
	}

	caseFindings, err := o.store.ListFindings(ctx, store.FindingFilter{CaseID: state.doc.CaseID})
	if err != nil {
		return stageOutcome{}, eris.Wrap(err, "reconcile: list case findings")
	}
	score := risk.Score(caseFindings)
	zap.L().Info("reconcile: case risk scored",
		zap.String("case_id", state.doc.CaseID),
		zap.Float64("score", score.Score),
		zap.Int("factors", len(score.Factors)),
	)

	return stageOutcome{
		Detail: fmt.Sprintf("%d finding(s), %d auto-applied, case risk %.0f",
			len(findings), applied, score.Score),
	}, nil
}
