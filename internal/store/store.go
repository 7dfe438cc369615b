// Package store persists documents, pipeline runs, findings, case fields,
// and actions behind a single interface with SQLite and Postgres backends.
package store

import (
	"context"
	"errors"

	"github.com/caseworks/docpipe/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrNotResolvable is returned when a finding resolution is attempted on a
// finding that is not pending or conflict, or with a status other than
// accepted or rejected.
var ErrNotResolvable = errors.New("store: finding not resolvable")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status     model.RunStatus `json:"status,omitempty"`
	DocumentID string          `json:"document_id,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}

// FindingFilter specifies criteria for listing findings.
type FindingFilter struct {
	RunID  string              `json:"run_id,omitempty"`
	CaseID string              `json:"case_id,omitempty"`
	Status model.FindingStatus `json:"status,omitempty"`
	Limit  int                 `json:"limit,omitempty"`
	Offset int                 `json:"offset,omitempty"`
}

// Store defines the persistence interface for the document pipeline.
type Store interface {
	// Documents
	CreateDocument(ctx context.Context, doc model.Document) (*model.Document, error)
	GetDocument(ctx context.Context, docID string) (*model.Document, error)

	// Runs
	CreateRun(ctx context.Context, documentID string) (*model.PipelineRun, error)
	GetRun(ctx context.Context, runID string) (*model.PipelineRun, error)
	UpdateRun(ctx context.Context, run *model.PipelineRun) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error)
	RequestCancel(ctx context.Context, runID string) error

	// Findings
	SaveFindings(ctx context.Context, findings []model.Finding) error
	GetFinding(ctx context.Context, findingID string) (*model.Finding, error)
	ListFindings(ctx context.Context, filter FindingFilter) ([]model.Finding, error)
	ResolveFinding(ctx context.Context, findingID string, status model.FindingStatus) (*model.Finding, error)

	// Case fields
	GetCaseFields(ctx context.Context, caseID string) (map[string]string, error)
	SetCaseField(ctx context.Context, caseID, fieldKey, value string) error

	// Actions
	SaveActions(ctx context.Context, actions []model.Action) error
	ListActions(ctx context.Context, runID string) ([]model.Action, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// newRun builds the initial queued run with every stage queued.
func newRun(id, documentID string) *model.PipelineRun {
	statuses := make(map[model.Stage]*model.StageState, len(model.Stages()))
	for _, stage := range model.Stages() {
		statuses[stage] = &model.StageState{Status: model.StageStatusQueued}
	}
	return &model.PipelineRun{
		ID:            id,
		DocumentID:    documentID,
		Status:        model.RunStatusQueued,
		StageStatuses: statuses,
	}
}

// resolvable reports whether a finding resolution request is legal.
func resolvable(current, target model.FindingStatus) bool {
	fromOK := current == model.FindingPending || current == model.FindingConflict
	toOK := target == model.FindingAccepted || target == model.FindingRejected
	return fromOK && toOK
}
