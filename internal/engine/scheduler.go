package engine

import (
	"context"
	"fmt"
	"time"

	"barkbase/backend/internal/logging"
	"barkbase/backend/pkg/models"
)

const defaultJobBatchSize = 50

// Scheduler drains due ScheduledJob rows: resume jobs wake WAITING
// executions, trigger jobs fire schedule-based workflows. A job is deleted
// only after its handler succeeds, so delivery is at-least-once and every
// handler is idempotent.
type Scheduler struct {
	store     Store
	evaluator *TriggerEvaluator
	logger    *logging.Logger
	batchSize int
}

// NewScheduler creates a scheduler.
func NewScheduler(store Store, evaluator *TriggerEvaluator, logger *logging.Logger, batchSize int) *Scheduler {
	if batchSize <= 0 {
		batchSize = defaultJobBatchSize
	}
	return &Scheduler{store: store, evaluator: evaluator, logger: logger, batchSize: batchSize}
}

// ProcessDueScheduledJobs handles up to one batch of jobs whose due time has
// passed, in creation order so jobs for the same execution apply oldest
// first. Failed jobs stay in place for the next poll; jobs whose referent is
// gone are deleted rather than retried forever.
func (s *Scheduler) ProcessDueScheduledJobs(ctx context.Context) error {
	jobs, err := s.store.DueScheduledJobs(ctx, time.Now(), s.batchSize)
	if err != nil {
		return fmt.Errorf("query due jobs: %w", err)
	}

	for _, job := range jobs {
		if err := s.processJob(ctx, job); err != nil {
			if !IsNotFound(err) {
				s.logger.Error("scheduled job failed, leaving for retry",
					"job_id", job.ID, "job_type", job.Type, "error", err)
				continue
			}
			s.logger.Warn("scheduled job references a missing record, dropping",
				"job_id", job.ID, "job_type", job.Type, "error", err)
		}
		if err := s.store.DeleteScheduledJob(ctx, job.TenantID, job.ID); err != nil {
			s.logger.Error("failed to delete consumed job", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) processJob(ctx context.Context, job *models.ScheduledJob) error {
	switch job.Type {
	case models.JobTypeResumeExecution:
		if job.ExecutionID == nil {
			return nil
		}
		// A no-op result means the execution was already resumed (by the
		// direct resume scan) or cancelled; either way the job is done.
		_, err := s.store.ResumeExecution(ctx, job.TenantID, *job.ExecutionID)
		return err
	case models.JobTypeEvaluateTrigger:
		return s.evaluator.FireScheduleTrigger(ctx, job)
	default:
		s.logger.Warn("dropping job with unknown type", "job_id", job.ID, "job_type", job.Type)
		return nil
	}
}
