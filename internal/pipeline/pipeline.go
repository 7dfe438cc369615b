// Package pipeline orchestrates the six-stage document processing run:
// intake, ocr, classify, extract, reconcile, actions.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/caseworks/docpipe/internal/config"
	"github.com/caseworks/docpipe/internal/fetcher"
	"github.com/caseworks/docpipe/internal/model"
	"github.com/caseworks/docpipe/internal/monitoring"
	"github.com/caseworks/docpipe/internal/ocr"
	"github.com/caseworks/docpipe/internal/store"
	"github.com/caseworks/docpipe/internal/trigger"
	"github.com/caseworks/docpipe/pkg/aiclient"
)

// ActionSink receives actions produced by the actions stage.
type ActionSink interface {
	Name() string
	Push(ctx context.Context, action model.Action) error
}

// Orchestrator drives pipeline runs. Run state is persisted at every stage
// boundary, and cancellation requests take effect only at those boundaries:
// a stage in flight always finishes before the run is marked cancelled.
type Orchestrator struct {
	cfg      *config.Config
	store    store.Store
	fetcher  fetcher.Fetcher
	ocr      ocr.Extractor
	ai       aiclient.Client
	triggers []trigger.Trigger
	sinks    []ActionSink
	alerter  *monitoring.Alerter
}

// New creates an Orchestrator with all dependencies.
func New(
	cfg *config.Config,
	st store.Store,
	f fetcher.Fetcher,
	extractor ocr.Extractor,
	ai aiclient.Client,
	triggers []trigger.Trigger,
	sinks []ActionSink,
	alerter *monitoring.Alerter,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    st,
		fetcher:  f,
		ocr:      extractor,
		ai:       ai,
		triggers: triggers,
		sinks:    sinks,
		alerter:  alerter,
	}
}

// runState carries intermediate stage products through a single run.
type runState struct {
	run *model.PipelineRun
	doc *model.Document

	raw         []byte
	contentType string
	text        string

	candidates []model.ExtractedField
	findings   []model.Finding
	actions    []model.Action
}

// stageOutcome reports how a stage finished.
type stageOutcome struct {
	Skipped bool
	Detail  string
}

type stageFn func(ctx context.Context, state *runState) (stageOutcome, error)

func (o *Orchestrator) handlers() map[model.Stage]stageFn {
	return map[model.Stage]stageFn{
		model.StageIntake:    o.stageIntake,
		model.StageOCR:       o.stageOCR,
		model.StageClassify:  o.stageClassify,
		model.StageExtract:   o.stageExtract,
		model.StageReconcile: o.stageReconcile,
		model.StageActions:   o.stageActions,
	}
}

// Execute processes a queued run to a terminal status. The returned error is
// the stage failure cause; the run record is already marked failed by then.
func (o *Orchestrator) Execute(ctx context.Context, runID string) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load run")
	}
	if run.Status != model.RunStatusQueued {
		return eris.Errorf("pipeline: run %s is %s, want queued", runID, run.Status)
	}

	doc, err := o.store.GetDocument(ctx, run.DocumentID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load document")
	}

	log := zap.L().With(zap.String("run_id", run.ID), zap.String("document", doc.Name))
	log.Info("pipeline: starting run")

	run.Status = model.RunStatusRunning
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return eris.Wrap(err, "pipeline: mark running")
	}

	state := &runState{run: run, doc: doc}
	handlers := o.handlers()

	for _, stage := range model.Stages() {
		cancelled, err := o.cancelRequested(ctx, run.ID)
		if err != nil {
			log.Warn("pipeline: cancel check failed", zap.Error(err))
		}
		if cancelled || ctx.Err() != nil {
			return o.finishCancelled(ctx, run, log)
		}

		now := time.Now().UTC()
		run.CurrentStage = stage
		st := run.StageStatuses[stage]
		st.Status = model.StageStatusRunning
		st.StartedAt = &now
		if err := o.store.UpdateRun(ctx, run); err != nil {
			log.Warn("pipeline: persist stage start failed", zap.Error(err))
		}

		start := time.Now()
		outcome, err := handlers[stage](ctx, state)
		elapsed := time.Since(start)
		done := time.Now().UTC()
		st.CompletedAt = &done

		if err != nil {
			st.Status = model.StageStatusFailed
			st.Error = err.Error()
			return o.finishFailed(ctx, run, stage, err, log)
		}

		if outcome.Skipped {
			st.Status = model.StageStatusSkipped
		} else {
			st.Status = model.StageStatusCompleted
		}
		st.Detail = outcome.Detail
		if err := o.store.UpdateRun(ctx, run); err != nil {
			log.Warn("pipeline: persist stage result failed", zap.Error(err))
		}

		log.Info("pipeline: stage finished",
			zap.String("stage", string(stage)),
			zap.String("status", string(st.Status)),
			zap.Duration("elapsed", elapsed),
			zap.String("detail", outcome.Detail),
		)
	}

	now := time.Now().UTC()
	run.Status = model.RunStatusCompleted
	run.CurrentStage = ""
	run.CompletedAt = &now
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return eris.Wrap(err, "pipeline: mark completed")
	}
	log.Info("pipeline: run completed",
		zap.Int("findings", run.FindingsCount),
		zap.Int("actions", run.ActionsCount),
	)
	return nil
}

// cancelRequested re-reads the run so a cancel written by another process is
// observed at the next boundary.
func (o *Orchestrator) cancelRequested(ctx context.Context, runID string) (bool, error) {
	fresh, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return false, err
	}
	return fresh.CancelRequested, nil
}

func (o *Orchestrator) finishCancelled(ctx context.Context, run *model.PipelineRun, log *zap.Logger) error {
	now := time.Now().UTC()
	run.Status = model.RunStatusCancelled
	run.CurrentStage = ""
	run.CompletedAt = &now
	// The terminal write must land even when the run's own context died.
	if err := o.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		return eris.Wrap(err, "pipeline: mark cancelled")
	}
	log.Info("pipeline: run cancelled")
	return nil
}

func (o *Orchestrator) finishFailed(ctx context.Context, run *model.PipelineRun, stage model.Stage, cause error, log *zap.Logger) error {
	now := time.Now().UTC()
	run.Status = model.RunStatusFailed
	run.Error = cause.Error()
	run.CompletedAt = &now
	if err := o.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		log.Error("pipeline: persist failed run", zap.Error(err))
	}
	log.Error("pipeline: stage failed",
		zap.String("stage", string(stage)),
		zap.Error(cause),
	)
	if o.alerter != nil {
		o.alerter.Send(ctx, monitoring.RunFailed(run, stage, cause))
	}
	return eris.Wrapf(cause, "pipeline: stage %s", stage)
}

// stageIntake fetches the document bytes.
func (o *Orchestrator) stageIntake(ctx context.Context, state *runState) (stageOutcome, error) {
	data, ct, err := o.fetcher.Fetch(ctx, state.doc.Source)
	if err != nil {
		return stageOutcome{}, eris.Wrap(err, "intake: fetch document")
	}
	if len(data) == 0 {
		return stageOutcome{}, eris.New("intake: document is empty")
	}

	state.raw = data
	state.contentType = state.doc.ContentType
	if state.contentType == "" {
		state.contentType = ct
	}
	if state.contentType == "" {
		state.contentType = sniffContentType(data)
	}
	return stageOutcome{
		Detail: fmt.Sprintf("%d bytes, %s", len(data), state.contentType),
	}, nil
}

// stageOCR extracts plain text. Text documents skip the extractor entirely.
func (o *Orchestrator) stageOCR(ctx context.Context, state *runState) (stageOutcome, error) {
	if isTextContent(state.contentType) {
		state.text = string(state.raw)
		return stageOutcome{Skipped: true, Detail: "document is already plain text"}, nil
	}

	text, err := o.ocr.ExtractText(ctx, state.raw, state.contentType)
	if err != nil {
		return stageOutcome{}, eris.Wrap(err, "ocr: extract text")
	}
	state.text = text
	return stageOutcome{Detail: fmt.Sprintf("%d chars extracted", len(text))}, nil
}
