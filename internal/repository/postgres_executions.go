package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"barkbase/backend/pkg/models"
)

const executionColumns = `"recordId", "tenantId", "workflowId", "entityId", "status", "currentStepId", "scheduledAt", "lastProcessedAt", "attempts", "context", "createdAt", "updatedAt"`

// CreateExecution inserts a PENDING execution. The unique
// (workflowId, entityId) constraint dedupes triggers: the returned bool is
// false when an execution for the same definition and entity already exists.
func (s *PostgresStore) CreateExecution(ctx context.Context, exec *models.WorkflowExecution) (bool, error) {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.Status == "" {
		exec.Status = models.ExecutionStatusPending
	}
	execContext, err := marshalContext(exec.Context)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO "WorkflowExecution" ("recordId", "tenantId", "workflowId", "entityId", "status", "currentStepId", "context")
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT ("workflowId", "entityId") DO NOTHING`,
		exec.ID, exec.TenantID, exec.WorkflowID, exec.EntityID, exec.Status, exec.CurrentStepID, execContext)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// GetExecution retrieves one execution scoped to a tenant.
func (s *PostgresStore) GetExecution(ctx context.Context, tenantID, id string) (*models.WorkflowExecution, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM "WorkflowExecution" WHERE "recordId" = $1 AND "tenantId" = $2`,
		id, tenantID)
	return scanExecution(row)
}

// ListExecutions returns a tenant's executions, optionally filtered by
// status, newest first.
func (s *PostgresStore) ListExecutions(ctx context.Context, tenantID string, status models.ExecutionStatus) ([]*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM "WorkflowExecution" WHERE "tenantId" = $1`
	args := []any{tenantID}
	if status != "" {
		query += ` AND "status" = $2`
		args = append(args, status)
	}
	query += ` ORDER BY "createdAt" DESC`
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// StartExecution moves a PENDING execution to RUNNING at its entry step.
func (s *PostgresStore) StartExecution(ctx context.Context, tenantID, id, entryStepID string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE "WorkflowExecution"
		 SET "status" = $4, "currentStepId" = $3, "updatedAt" = NOW()
		 WHERE "recordId" = $1 AND "tenantId" = $2 AND "status" = $5`,
		id, tenantID, entryStepID, models.ExecutionStatusRunning, models.ExecutionStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AdvanceExecution moves a RUNNING execution from one step to the next,
// resetting the attempt counter. The fromStepID guard rejects stale messages
// so a re-delivered step cannot overwrite later progress.
func (s *PostgresStore) AdvanceExecution(ctx context.Context, tenantID, id, fromStepID, toStepID string, execContext map[string]any) (bool, error) {
	raw, err := marshalContext(execContext)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE "WorkflowExecution"
		 SET "currentStepId" = $4, "attempts" = 0, "context" = $5, "updatedAt" = NOW()
		 WHERE "recordId" = $1 AND "tenantId" = $2 AND "currentStepId" = $3 AND "status" = $6`,
		id, tenantID, fromStepID, toStepID, raw, models.ExecutionStatusRunning)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkExecutionWaiting moves a RUNNING execution to WAITING until resumeAt.
func (s *PostgresStore) MarkExecutionWaiting(ctx context.Context, tenantID, id, stepID string, resumeAt time.Time, execContext map[string]any) (bool, error) {
	raw, err := marshalContext(execContext)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE "WorkflowExecution"
		 SET "status" = $6, "scheduledAt" = $4, "context" = $5, "updatedAt" = NOW()
		 WHERE "recordId" = $1 AND "tenantId" = $2 AND "currentStepId" = $3 AND "status" = $7`,
		id, tenantID, stepID, resumeAt, raw, models.ExecutionStatusWaiting, models.ExecutionStatusRunning)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FinishExecution moves a non-terminal execution to COMPLETED or FAILED,
// clearing the current step and any pending resume time.
func (s *PostgresStore) FinishExecution(ctx context.Context, tenantID, id string, status models.ExecutionStatus, execContext map[string]any) (bool, error) {
	raw, err := marshalContext(execContext)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE "WorkflowExecution"
		 SET "status" = $3, "currentStepId" = NULL, "scheduledAt" = NULL, "context" = $4, "updatedAt" = NOW()
		 WHERE "recordId" = $1 AND "tenantId" = $2 AND "status" IN ($5, $6, $7)`,
		id, tenantID, status, raw,
		models.ExecutionStatusPending, models.ExecutionStatusRunning, models.ExecutionStatusWaiting)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CancelExecution moves a non-terminal execution to CANCELLED.
func (s *PostgresStore) CancelExecution(ctx context.Context, tenantID, id string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE "WorkflowExecution"
		 SET "status" = $3, "currentStepId" = NULL, "scheduledAt" = NULL, "updatedAt" = NOW()
		 WHERE "recordId" = $1 AND "tenantId" = $2 AND "status" IN ($4, $5, $6)`,
		id, tenantID, models.ExecutionStatusCancelled,
		models.ExecutionStatusPending, models.ExecutionStatusRunning, models.ExecutionStatusWaiting)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// IncrementExecutionAttempts bumps the attempt counter and returns the new
// value.
func (s *PostgresStore) IncrementExecutionAttempts(ctx context.Context, tenantID, id string) (int, error) {
	var attempts int
	err := s.db.QueryRow(ctx,
		`UPDATE "WorkflowExecution"
		 SET "attempts" = "attempts" + 1, "updatedAt" = NOW()
		 WHERE "recordId" = $1 AND "tenantId" = $2
		 RETURNING "attempts"`,
		id, tenantID).Scan(&attempts)
	if err != nil {
		return 0, mapErr(err)
	}
	return attempts, nil
}

// ClaimExecution marks one PENDING or RUNNING execution as being handled by
// the current worker pass. The row itself is the lock: the update succeeds
// only if no worker touched it within the claim window, so of two concurrent
// claims exactly one wins.
func (s *PostgresStore) ClaimExecution(ctx context.Context, tenantID, id string, window time.Duration) (bool, error) {
	cutoff := time.Now().Add(-window)
	tag, err := s.db.Exec(ctx,
		`UPDATE "WorkflowExecution"
		 SET "lastProcessedAt" = NOW(), "updatedAt" = NOW()
		 WHERE "recordId" = $1 AND "tenantId" = $2
		   AND "status" IN ($3, $4)
		   AND ("lastProcessedAt" IS NULL OR "lastProcessedAt" < $5)`,
		id, tenantID, models.ExecutionStatusPending, models.ExecutionStatusRunning, cutoff)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimDueExecutions claims a batch of PENDING and RUNNING executions not
// touched within the claim window, in creation order. The claim is a single
// conditional update, not a read-then-write pair; SKIP LOCKED keeps
// concurrent workers from blocking on each other's batches.
func (s *PostgresStore) ClaimDueExecutions(ctx context.Context, window time.Duration, limit int) ([]*models.WorkflowExecution, error) {
	cutoff := time.Now().Add(-window)
	rows, err := s.db.Query(ctx,
		`UPDATE "WorkflowExecution"
		 SET "lastProcessedAt" = NOW(), "updatedAt" = NOW()
		 WHERE "recordId" IN (
			SELECT "recordId" FROM "WorkflowExecution"
			WHERE "status" IN ($1, $2)
			  AND ("lastProcessedAt" IS NULL OR "lastProcessedAt" < $3)
			ORDER BY "createdAt" ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+executionColumns,
		models.ExecutionStatusPending, models.ExecutionStatusRunning, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// ResumeDueExecutions moves WAITING executions whose resume time has passed
// back to RUNNING and claims them in the same statement.
func (s *PostgresStore) ResumeDueExecutions(ctx context.Context, limit int) ([]*models.WorkflowExecution, error) {
	rows, err := s.db.Query(ctx,
		`UPDATE "WorkflowExecution"
		 SET "status" = $1, "scheduledAt" = NULL, "lastProcessedAt" = NOW(), "updatedAt" = NOW()
		 WHERE "recordId" IN (
			SELECT "recordId" FROM "WorkflowExecution"
			WHERE "status" = $2 AND "scheduledAt" <= NOW()
			ORDER BY "scheduledAt" ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+executionColumns,
		models.ExecutionStatusRunning, models.ExecutionStatusWaiting, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// ResumeExecution moves one WAITING execution back to RUNNING if its resume
// time has passed. Resuming an already-resumed or missing execution is a
// no-op, which keeps scheduled-job delivery idempotent.
func (s *PostgresStore) ResumeExecution(ctx context.Context, tenantID, id string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE "WorkflowExecution"
		 SET "status" = $3, "scheduledAt" = NULL, "updatedAt" = NOW()
		 WHERE "recordId" = $1 AND "tenantId" = $2 AND "status" = $4 AND "scheduledAt" <= NOW()`,
		id, tenantID, models.ExecutionStatusRunning, models.ExecutionStatusWaiting)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CreateScheduledJob inserts a deferred job. For EVALUATE_TRIGGER jobs at
// most one pending job per definition exists; duplicates report false.
func (s *PostgresStore) CreateScheduledJob(ctx context.Context, job *models.ScheduledJob) (bool, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO "ScheduledJob" ("recordId", "tenantId", "jobType", "executionId", "workflowId", "runAt")
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT ("workflowId") WHERE "jobType" = 'EVALUATE_TRIGGER' DO NOTHING`,
		job.ID, job.TenantID, job.Type, job.ExecutionID, job.WorkflowID, job.RunAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// DueScheduledJobs returns jobs whose run time has passed, in creation order
// so jobs for the same execution apply oldest first.
func (s *PostgresStore) DueScheduledJobs(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error) {
	rows, err := s.db.Query(ctx,
		`SELECT "recordId", "tenantId", "jobType", "executionId", "workflowId", "runAt", "createdAt"
		 FROM "ScheduledJob"
		 WHERE "runAt" <= $1
		 ORDER BY "createdAt" ASC
		 LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []*models.ScheduledJob
	for rows.Next() {
		var j models.ScheduledJob
		if err := rows.Scan(&j.ID, &j.TenantID, &j.Type, &j.ExecutionID, &j.WorkflowID, &j.RunAt, &j.CreatedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// DeleteScheduledJob removes a consumed job.
func (s *PostgresStore) DeleteScheduledJob(ctx context.Context, tenantID, id string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM "ScheduledJob" WHERE "recordId" = $1 AND "tenantId" = $2`,
		id, tenantID)
	return err
}

func scanExecution(row pgx.Row) (*models.WorkflowExecution, error) {
	var e models.WorkflowExecution
	var raw []byte
	err := row.Scan(&e.ID, &e.TenantID, &e.WorkflowID, &e.EntityID, &e.Status,
		&e.CurrentStepID, &e.ScheduledAt, &e.LastProcessedAt, &e.Attempts, &raw,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(raw, &e.Context); err != nil {
		return nil, fmt.Errorf("unmarshal execution context: %w", err)
	}
	return &e, nil
}

func scanExecutions(rows pgx.Rows) ([]*models.WorkflowExecution, error) {
	var execs []*models.WorkflowExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

func marshalContext(execContext map[string]any) ([]byte, error) {
	if execContext == nil {
		execContext = map[string]any{}
	}
	raw, err := json.Marshal(execContext)
	if err != nil {
		return nil, fmt.Errorf("marshal execution context: %w", err)
	}
	return raw, nil
}
