package repository

import (
	"context"
	"errors"
	"time"

	"barkbase/backend/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist or is not
// visible to the calling tenant.
var ErrNotFound = errors.New("record not found")

// Repository is the storage interface for the BarkBase backend. Every method
// that reads or writes tenant data is scoped by tenant id; the worker-facing
// scan methods return rows tagged with their tenant and all follow-up
// mutations filter by that tenant again.
type Repository interface {
	// Tenants and staff accounts.
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenantBySubdomain(ctx context.Context, subdomain string) (*models.Tenant, error)
	CreateUser(ctx context.Context, user *models.User) error
	CreateMembership(ctx context.Context, membership *models.Membership) error
	// TenantIDForUser resolves the tenant for a Cognito identity via the
	// Membership table, preferring the most recently updated membership.
	TenantIDForUser(ctx context.Context, cognitoSub, email string) (string, error)

	// Bookings, the event source watched by workflow triggers.
	CreateBooking(ctx context.Context, booking *models.Booking) error
	ListBookings(ctx context.Context, tenantID string) ([]*models.Booking, error)
	FindBookingsCreatedSince(ctx context.Context, tenantID string, since time.Time, filter map[string]string) ([]*models.Booking, error)

	// Workflow definitions.
	CreateWorkflowDefinition(ctx context.Context, def *models.WorkflowDefinition) error
	GetWorkflowDefinition(ctx context.Context, tenantID, id string) (*models.WorkflowDefinition, error)
	ListWorkflowDefinitions(ctx context.Context, tenantID string) ([]*models.WorkflowDefinition, error)
	ListActiveWorkflowDefinitions(ctx context.Context) ([]*models.WorkflowDefinition, error)
	SetWorkflowStatus(ctx context.Context, tenantID, id string, status models.WorkflowStatus) error

	// Workflow executions. All state transitions are single conditional
	// updates; the boolean result reports whether the guard matched.
	CreateExecution(ctx context.Context, exec *models.WorkflowExecution) (bool, error)
	GetExecution(ctx context.Context, tenantID, id string) (*models.WorkflowExecution, error)
	ListExecutions(ctx context.Context, tenantID string, status models.ExecutionStatus) ([]*models.WorkflowExecution, error)
	StartExecution(ctx context.Context, tenantID, id, entryStepID string) (bool, error)
	AdvanceExecution(ctx context.Context, tenantID, id, fromStepID, toStepID string, execContext map[string]any) (bool, error)
	MarkExecutionWaiting(ctx context.Context, tenantID, id, stepID string, resumeAt time.Time, execContext map[string]any) (bool, error)
	FinishExecution(ctx context.Context, tenantID, id string, status models.ExecutionStatus, execContext map[string]any) (bool, error)
	CancelExecution(ctx context.Context, tenantID, id string) (bool, error)
	IncrementExecutionAttempts(ctx context.Context, tenantID, id string) (int, error)
	ClaimExecution(ctx context.Context, tenantID, id string, window time.Duration) (bool, error)
	ClaimDueExecutions(ctx context.Context, window time.Duration, limit int) ([]*models.WorkflowExecution, error)
	ResumeDueExecutions(ctx context.Context, limit int) ([]*models.WorkflowExecution, error)
	ResumeExecution(ctx context.Context, tenantID, id string) (bool, error)

	// Scheduled jobs.
	CreateScheduledJob(ctx context.Context, job *models.ScheduledJob) (bool, error)
	DueScheduledJobs(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, tenantID, id string) error
}
