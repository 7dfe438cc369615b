// Package risk aggregates findings into a bounded 0-100 risk score with
// itemized contributing factors.
package risk

import (
	"fmt"

	"github.com/caseworks/docpipe/internal/model"
)

// Factor is a named contributor to a risk score.
type Factor struct {
	Key          string  `json:"key"`
	Contribution float64 `json:"contribution"`
	Detail       string  `json:"detail"`
}

// Result is a computed risk score with its factor breakdown.
type Result struct {
	Score   float64  `json:"score"`
	Factors []Factor `json:"factors"`
}

// Per-factor weights and caps.
const (
	criticalPendingWeight = 15.0
	criticalPendingCap    = 30.0
	conflictWeight        = 12.0
	conflictCap           = 25.0
	highImpactWeight      = 20.0
	unresolvedWeight      = 2.0
	unresolvedCap         = 10.0

	lowConfidenceFloor = 0.75
	lowConfidenceMid   = 0.85
	lowConfidenceHeavy = 15.0
	lowConfidenceMild  = 8.0
)

// Score computes the risk for a case's findings. An empty findings list
// yields score 0 with no factors. Factors appear in insertion order;
// high_impact_ratio and low_confidence are omitted when their contribution
// is exactly zero, the count-based factors are always emitted.
func Score(findings []model.Finding) Result {
	if len(findings) == 0 {
		return Result{Score: 0, Factors: []Factor{}}
	}

	var criticalPending, conflicts, pending, highImpact int
	var confidenceSum float64
	for _, f := range findings {
		if f.Status == model.FindingPending {
			pending++
			if f.Impact == model.ImpactCritical {
				criticalPending++
			}
		}
		if f.Status == model.FindingConflict {
			conflicts++
		}
		if f.Impact == model.ImpactCritical || f.Impact == model.ImpactHigh {
			highImpact++
		}
		confidenceSum += f.Confidence
	}

	var factors []Factor

	cp := capped(float64(criticalPending)*criticalPendingWeight, criticalPendingCap)
	factors = append(factors, Factor{
		Key:          "critical_pending",
		Contribution: cp,
		Detail:       fmt.Sprintf("%d unreviewed critical finding(s)", criticalPending),
	})

	cf := capped(float64(conflicts)*conflictWeight, conflictCap)
	factors = append(factors, Factor{
		Key:          "conflicts",
		Contribution: cf,
		Detail:       fmt.Sprintf("%d finding(s) conflicting with existing case data", conflicts),
	})

	ratio := float64(highImpact) / float64(len(findings))
	if hi := ratio * highImpactWeight; hi > 0 {
		factors = append(factors, Factor{
			Key:          "high_impact_ratio",
			Contribution: hi,
			Detail:       fmt.Sprintf("%d of %d findings are critical or high impact", highImpact, len(findings)),
		})
	}

	avg := confidenceSum / float64(len(findings))
	if lc := lowConfidenceContribution(avg); lc > 0 {
		factors = append(factors, Factor{
			Key:          "low_confidence",
			Contribution: lc,
			Detail:       fmt.Sprintf("average extraction confidence %.2f", avg),
		})
	}

	up := capped(float64(pending)*unresolvedWeight, unresolvedCap)
	factors = append(factors, Factor{
		Key:          "unresolved_pending",
		Contribution: up,
		Detail:       fmt.Sprintf("%d finding(s) awaiting review", pending),
	})

	var score float64
	for _, f := range factors {
		score += f.Contribution
	}
	if score > 100 {
		score = 100
	}

	return Result{Score: score, Factors: factors}
}

func lowConfidenceContribution(avg float64) float64 {
	switch {
	case avg < lowConfidenceFloor:
		return lowConfidenceHeavy
	case avg < lowConfidenceMid:
		return lowConfidenceMild
	default:
		return 0
	}
}

func capped(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	return v
}
