package engine

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"barkbase/backend/internal/logging"
	"barkbase/backend/pkg/models"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 25
	defaultClaimWindow  = time.Second

	// maxStepsPerPass bounds how far a single worker pass advances one
	// execution, guarding against cyclic step graphs.
	maxStepsPerPass = 16
)

// WorkerConfig tunes the polling loop.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	ClaimWindow  time.Duration
}

// Worker is the top-level polling coordinator. Each iteration claims a batch
// of due executions, resumes due waits, evaluates triggers and drains
// scheduled jobs. The interval is fixed; no adaptive backoff. Cancellation
// is observed only between iterations, so an in-flight batch always
// finishes. Nothing that happens inside an iteration stops the loop.
type Worker struct {
	store     Store
	processor *Processor
	evaluator *TriggerEvaluator
	scheduler *Scheduler
	logger    *logging.Logger
	cfg       WorkerConfig

	executionsProcessed metric.Int64Counter
	stepFailures        metric.Int64Counter
	triggersFired       metric.Int64Counter
}

// NewWorker assembles the loop from its three components.
func NewWorker(store Store, processor *Processor, evaluator *TriggerEvaluator, scheduler *Scheduler, logger *logging.Logger, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.ClaimWindow <= 0 {
		cfg.ClaimWindow = defaultClaimWindow
	}

	meter := otel.Meter("barkbase/backend/internal/engine")
	executionsProcessed, _ := meter.Int64Counter("workflow.executions.processed")
	stepFailures, _ := meter.Int64Counter("workflow.steps.failed")
	triggersFired, _ := meter.Int64Counter("workflow.triggers.fired")

	return &Worker{
		store:               store,
		processor:           processor,
		evaluator:           evaluator,
		scheduler:           scheduler,
		logger:              logger,
		cfg:                 cfg,
		executionsProcessed: executionsProcessed,
		stepFailures:        stepFailures,
		triggersFired:       triggersFired,
	}
}

// Run polls until ctx is cancelled. It always returns ctx.Err().
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("workflow worker started",
		"poll_interval", w.cfg.PollInterval.String(),
		"batch_size", w.cfg.BatchSize)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.RunOnce(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("workflow worker stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single iteration of the loop. Exposed so queue-driven
// deployments can run one pass per message.
func (w *Worker) RunOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker iteration panicked", "panic", r)
		}
	}()

	claimed, err := w.store.ClaimDueExecutions(ctx, w.cfg.ClaimWindow, w.cfg.BatchSize)
	if err != nil {
		w.logger.Error("failed to claim due executions", "error", err)
	} else {
		w.processBatch(ctx, claimed)
	}

	resumed, err := w.store.ResumeDueExecutions(ctx, w.cfg.BatchSize)
	if err != nil {
		w.logger.Error("failed to resume due executions", "error", err)
	} else {
		w.processBatch(ctx, resumed)
	}

	created, err := w.evaluator.ProcessScheduledTriggers(ctx)
	if err != nil {
		w.logger.Error("trigger evaluation pass failed", "error", err)
	} else if created > 0 {
		w.triggersFired.Add(ctx, int64(created))
	}

	if err := w.scheduler.ProcessDueScheduledJobs(ctx); err != nil {
		w.logger.Error("scheduled job pass failed", "error", err)
	}
}

// processBatch runs each claimed execution sequentially. Per-execution
// failures are isolated so one bad execution cannot block the rest.
func (w *Worker) processBatch(ctx context.Context, execs []*models.WorkflowExecution) {
	for _, exec := range execs {
		w.processOne(ctx, exec)
	}
}

// processOne advances a claimed execution step by step until it parks
// (waiting, terminal, error) or the per-pass bound is hit.
func (w *Worker) processOne(ctx context.Context, exec *models.WorkflowExecution) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("execution processing panicked",
				"execution_id", exec.ID, "tenant_id", exec.TenantID, "panic", r)
		}
	}()

	stepID := ""
	if exec.CurrentStepID != nil {
		stepID = *exec.CurrentStepID
	}

	for i := 0; i < maxStepsPerPass; i++ {
		msg := StepMessage{
			ExecutionID: exec.ID,
			WorkflowID:  exec.WorkflowID,
			TenantID:    exec.TenantID,
			StepID:      stepID,
		}
		err := w.processor.ProcessStepMessage(ctx, msg)
		w.executionsProcessed.Add(ctx, 1)

		var actionErr *ActionError
		switch {
		case err == nil:
		case IsNotFound(err):
			w.logger.Warn("skipping execution with missing record",
				"execution_id", exec.ID, "error", err)
			return
		case errors.As(err, &actionErr):
			w.stepFailures.Add(ctx, 1)
			w.logger.Error("step action failed",
				"execution_id", exec.ID, "step_id", actionErr.StepID, "error", err)
			return
		default:
			// Transient storage error: the row state is unchanged and the
			// claim window expires, so the next poll retries it.
			w.logger.Error("execution processing failed",
				"execution_id", exec.ID, "error", err)
			return
		}

		cur, err := w.store.GetExecution(ctx, exec.TenantID, exec.ID)
		if err != nil {
			w.logger.Error("failed to reload execution", "execution_id", exec.ID, "error", err)
			return
		}
		if cur.Status != models.ExecutionStatusRunning || cur.CurrentStepID == nil {
			return
		}
		if stepID != "" && *cur.CurrentStepID == stepID {
			// No progress; leave it for the next poll rather than spin.
			return
		}
		stepID = *cur.CurrentStepID
	}
	w.logger.Warn("execution exceeded per-pass step limit",
		"execution_id", exec.ID, "limit", maxStepsPerPass)
}
