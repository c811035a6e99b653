package engine

import (
	"context"
	"time"

	"barkbase/backend/internal/repository"
	"barkbase/backend/pkg/models"
)

// Store is the slice of the repository the engine depends on. Every state
// transition is a single conditional update against the execution row; the
// boolean results report whether the guard matched, which is how concurrent
// workers detect they lost a claim.
type Store interface {
	GetWorkflowDefinition(ctx context.Context, tenantID, id string) (*models.WorkflowDefinition, error)
	ListActiveWorkflowDefinitions(ctx context.Context) ([]*models.WorkflowDefinition, error)
	FindBookingsCreatedSince(ctx context.Context, tenantID string, since time.Time, filter map[string]string) ([]*models.Booking, error)

	GetExecution(ctx context.Context, tenantID, id string) (*models.WorkflowExecution, error)
	CreateExecution(ctx context.Context, exec *models.WorkflowExecution) (bool, error)
	StartExecution(ctx context.Context, tenantID, id, entryStepID string) (bool, error)
	AdvanceExecution(ctx context.Context, tenantID, id, fromStepID, toStepID string, execContext map[string]any) (bool, error)
	MarkExecutionWaiting(ctx context.Context, tenantID, id, stepID string, resumeAt time.Time, execContext map[string]any) (bool, error)
	FinishExecution(ctx context.Context, tenantID, id string, status models.ExecutionStatus, execContext map[string]any) (bool, error)
	IncrementExecutionAttempts(ctx context.Context, tenantID, id string) (int, error)
	ClaimDueExecutions(ctx context.Context, window time.Duration, limit int) ([]*models.WorkflowExecution, error)
	ResumeDueExecutions(ctx context.Context, limit int) ([]*models.WorkflowExecution, error)
	ResumeExecution(ctx context.Context, tenantID, id string) (bool, error)

	CreateScheduledJob(ctx context.Context, job *models.ScheduledJob) (bool, error)
	DueScheduledJobs(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, tenantID, id string) error
}

var _ Store = (*repository.PostgresStore)(nil)
