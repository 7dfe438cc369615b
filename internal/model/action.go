package model

import "time"

// ActionType classifies the concrete work item a matched trigger produces.
type ActionType string

const (
	ActionTask     ActionType = "task"
	ActionDeadline ActionType = "deadline"
	ActionAlert    ActionType = "alert"
)

// Action is a concrete work item instantiated from a trigger's action
// template when its condition matched a finding. Actions are persisted by
// the orchestrator during the actions stage and handed to the configured
// sinks (task board, monitoring webhook).
type Action struct {
	ID        string     `json:"id"`
	RunID     string     `json:"run_id"`
	CaseID    string     `json:"case_id"`
	TriggerID string     `json:"trigger_id"`
	FindingID string     `json:"finding_id,omitempty"`
	Type      ActionType `json:"type"`
	Title     string     `json:"title"`
	Detail    string     `json:"detail,omitempty"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
