package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/caseworks/docpipe/internal/model"
	"github.com/caseworks/docpipe/internal/monitoring"
	"github.com/caseworks/docpipe/internal/trigger"
)

// BuildActions instantiates one action per trigger match. Template titles
// and details may reference {{value}}, {{field}}, and {{label}}.
func BuildActions(matches []trigger.Match, runID, caseID string, now time.Time) []model.Action {
	actions := make([]model.Action, 0, len(matches))
	for _, m := range matches {
		tmpl := m.Trigger.Action
		a := model.Action{
			RunID:     runID,
			CaseID:    caseID,
			TriggerID: m.Trigger.ID,
			Type:      tmpl.ActionType,
			Title:     expandTemplate(tmpl.Title, m),
			Detail:    expandTemplate(tmpl.Detail, m),
		}
		if m.Matched != nil {
			a.FindingID = m.Matched.FindingID
		}
		if tmpl.DueInDays > 0 {
			due := now.AddDate(0, 0, tmpl.DueInDays)
			a.DueDate = &due
		}
		actions = append(actions, a)
	}
	return actions
}

func expandTemplate(text string, m trigger.Match) string {
	if text == "" {
		return ""
	}
	value := ""
	if m.Matched != nil {
		value = m.Matched.Value
	}
	r := strings.NewReplacer(
		"{{value}}", value,
		"{{field}}", m.Trigger.Condition.FieldKey,
		"{{label}}", m.Trigger.Name,
	)
	return r.Replace(text)
}

// stageActions evaluates the trigger packs against this run's findings,
// persists the resulting actions, and hands them to the sinks. Sink
// failures are logged, never fatal: the actions are already durable.
func (o *Orchestrator) stageActions(ctx context.Context, state *runState) (stageOutcome, error) {
	if len(o.triggers) == 0 {
		return stageOutcome{Skipped: true, Detail: "no trigger packs loaded"}, nil
	}

	candidates := trigger.BuildCandidates(state.findings)
	matches := trigger.Evaluate(o.triggers, candidates, time.Now().UTC())
	actions := BuildActions(matches, state.run.ID, state.doc.CaseID, time.Now().UTC())

	if err := o.store.SaveActions(ctx, actions); err != nil {
		return stageOutcome{}, eris.Wrap(err, "actions: save")
	}
	state.actions = actions
	state.run.ActionsCount = len(actions)

	for _, a := range actions {
		for _, sink := range o.sinks {
			if err := sink.Push(ctx, a); err != nil {
				zap.L().Warn("actions: sink delivery failed",
					zap.String("sink", sink.Name()),
					zap.String("action_id", a.ID),
					zap.Error(err),
				)
			}
		}
		if a.Type == model.ActionAlert && o.alerter != nil {
			o.alerter.Send(ctx, monitoring.ActionRaised(a))
		}
	}

	return stageOutcome{Detail: fmt.Sprintf("%d action(s) from %d match(es)", len(actions), len(matches))}, nil
}
