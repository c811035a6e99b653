package models

import (
	"time"
)

// ExecutionStatus represents the state of one workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "PENDING"
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusWaiting   ExecutionStatus = "WAITING"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
	ExecutionStatusCancelled ExecutionStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// WorkflowExecution is a live instance of a workflow definition progressing
// through steps for one triggering entity.
//
// CurrentStepID is non-nil whenever the status is PENDING, RUNNING or
// WAITING. ScheduledAt is meaningful only while WAITING. LastProcessedAt
// bounds how often workers re-attempt the same execution; the row itself is
// the lock (see repository claim queries).
type WorkflowExecution struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	WorkflowID      string          `json:"workflow_id"`
	EntityID        string          `json:"entity_id"`
	Status          ExecutionStatus `json:"status"`
	CurrentStepID   *string         `json:"current_step_id,omitempty"`
	ScheduledAt     *time.Time      `json:"scheduled_at,omitempty"`
	LastProcessedAt *time.Time      `json:"last_processed_at,omitempty"`
	Attempts        int             `json:"attempts"`
	Context         map[string]any  `json:"context"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ContextKeyLastError is the execution context key under which the reason for
// a FAILED status is recorded.
const ContextKeyLastError = "lastError"

// JobType distinguishes the two kinds of deferred work.
type JobType string

const (
	// JobTypeResumeExecution resumes a WAITING execution after its wait.
	JobTypeResumeExecution JobType = "RESUME_EXECUTION"
	// JobTypeEvaluateTrigger re-evaluates a schedule trigger.
	JobTypeEvaluateTrigger JobType = "EVALUATE_TRIGGER"
)

// ScheduledJob is a deferred trigger: created by the step processor (wait
// steps) or the trigger evaluator (periodic checks), consumed and deleted by
// the scheduler once its due time passes, never mutated otherwise.
type ScheduledJob struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Type        JobType   `json:"type"`
	ExecutionID *string   `json:"execution_id,omitempty"`
	WorkflowID  *string   `json:"workflow_id,omitempty"`
	RunAt       time.Time `json:"run_at"`
	CreatedAt   time.Time `json:"created_at"`
}
