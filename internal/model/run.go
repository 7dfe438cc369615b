package model

import "time"

// Stage identifies one of the six fixed pipeline stages.
type Stage string

const (
	StageIntake    Stage = "intake"
	StageOCR       Stage = "ocr"
	StageClassify  Stage = "classify"
	StageExtract   Stage = "extract"
	StageReconcile Stage = "reconcile"
	StageActions   Stage = "actions"
)

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	return []Stage{StageIntake, StageOCR, StageClassify, StageExtract, StageReconcile, StageActions}
}

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the run status permits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// StageStatus represents the state of a single stage within a run.
type StageStatus string

const (
	StageStatusQueued    StageStatus = "queued"
	StageStatusRunning   StageStatus = "running"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
	StageStatusSkipped   StageStatus = "skipped"
)

// StageState tracks one stage's progress within a run.
type StageState struct {
	Status      StageStatus `json:"status"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Error       string      `json:"error,omitempty"`
	Detail      string      `json:"detail,omitempty"`
}

// PipelineRun represents one processing attempt for a single document.
// A run is created queued and mutated exclusively by the orchestrator as
// each stage starts and finishes; it is terminal once Status is
// completed, failed, or cancelled.
type PipelineRun struct {
	ID                       string                 `json:"id"`
	DocumentID               string                 `json:"document_id"`
	Status                   RunStatus              `json:"status"`
	CurrentStage             Stage                  `json:"current_stage,omitempty"`
	StageStatuses            map[Stage]*StageState  `json:"stage_statuses"`
	ClassifiedDocType        string                 `json:"classified_doc_type,omitempty"`
	ClassificationConfidence float64                `json:"classification_confidence"`
	FindingsCount            int                    `json:"findings_count"`
	ActionsCount             int                    `json:"actions_count"`
	CancelRequested          bool                   `json:"cancel_requested,omitempty"`
	Error                    string                 `json:"error,omitempty"`
	CreatedAt                time.Time              `json:"created_at"`
	UpdatedAt                time.Time              `json:"updated_at"`
	CompletedAt              *time.Time             `json:"completed_at,omitempty"`
}

// Document is an uploaded legal document awaiting or undergoing processing.
// Source is a local path, http(s) URL, or ftp URL resolved by the intake
// fetcher; the raw bytes themselves are never stored here.
type Document struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	CaseID      string    `json:"case_id"`
	Name        string    `json:"name"`
	Source      string    `json:"source"`
	ContentType string    `json:"content_type,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
