package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"barkbase/backend/internal/logging"
	"barkbase/backend/internal/repository"
	"barkbase/backend/internal/services"
	"barkbase/backend/pkg/models"
)

const (
	defaultMaxStepAttempts = 3
	defaultStepTimeout     = 30 * time.Second
)

// StepMessage identifies one unit of step work: an execution and the step it
// is expected to be at. The step id guards against stale re-deliveries.
type StepMessage struct {
	ExecutionID string
	WorkflowID  string
	TenantID    string
	StepID      string
}

// ProcessorConfig tunes the step processor.
type ProcessorConfig struct {
	// MaxStepAttempts bounds retries of a failing step before the
	// execution is forced to FAILED.
	MaxStepAttempts int
	// StepTimeout caps how long a single step, including its external
	// action call, may run.
	StepTimeout time.Duration
}

// Processor advances one execution by one step at a time. It implements the
// execution state machine:
//
//	PENDING  --first processing--> RUNNING (enter entry step)
//	RUNNING  --continue----------> RUNNING (advance step)
//	RUNNING  --wait N------------> WAITING (scheduled job, scheduledAt set)
//	WAITING  --scheduledAt due---> RUNNING (same step, resumed by scheduler)
//	RUNNING  --terminal step-----> COMPLETED
//	RUNNING  --attempts exhausted-> FAILED (reason recorded in context)
type Processor struct {
	store       Store
	notifier    services.Notifier
	logger      *logging.Logger
	maxAttempts int
	stepTimeout time.Duration
}

// NewProcessor creates a step processor.
func NewProcessor(store Store, notifier services.Notifier, logger *logging.Logger, cfg ProcessorConfig) *Processor {
	if cfg.MaxStepAttempts <= 0 {
		cfg.MaxStepAttempts = defaultMaxStepAttempts
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = defaultStepTimeout
	}
	return &Processor{
		store:       store,
		notifier:    notifier,
		logger:      logger,
		maxAttempts: cfg.MaxStepAttempts,
		stepTimeout: cfg.StepTimeout,
	}
}

// stepOutcome is what a step run asks the processor to do next.
type stepOutcome struct {
	// next is the step to advance to; empty means the execution is done.
	next string
	// wait parks the execution for this long before re-running the same
	// step. Zero means no wait.
	wait time.Duration
}

// ProcessStepMessage loads the execution and its step spec, performs the
// step's action and applies the resulting state transition. Stale messages
// (the execution has moved past the message's step, or another worker
// already handled it) are skipped without side effects, which is what makes
// re-delivery safe.
func (p *Processor) ProcessStepMessage(ctx context.Context, msg StepMessage) error {
	ctx, cancel := context.WithTimeout(ctx, p.stepTimeout)
	defer cancel()

	exec, err := p.store.GetExecution(ctx, msg.TenantID, msg.ExecutionID)
	if errors.Is(err, repository.ErrNotFound) {
		return &NotFoundError{Kind: "execution", ID: msg.ExecutionID}
	}
	if err != nil {
		return fmt.Errorf("load execution: %w", err)
	}

	def, err := p.store.GetWorkflowDefinition(ctx, exec.TenantID, exec.WorkflowID)
	if errors.Is(err, repository.ErrNotFound) {
		return &NotFoundError{Kind: "workflow", ID: exec.WorkflowID}
	}
	if err != nil {
		return fmt.Errorf("load workflow definition: %w", err)
	}

	if exec.Status == models.ExecutionStatusPending {
		entry := def.EntryStep()
		if entry == nil {
			return &NotFoundError{Kind: "entry step of workflow", ID: def.ID}
		}
		started, err := p.store.StartExecution(ctx, exec.TenantID, exec.ID, entry.ID)
		if err != nil {
			return fmt.Errorf("start execution: %w", err)
		}
		if !started {
			// Another worker started it between our load and update.
			return nil
		}
		exec.Status = models.ExecutionStatusRunning
		exec.CurrentStepID = &entry.ID
	}

	if exec.Status != models.ExecutionStatusRunning {
		return nil
	}
	if exec.CurrentStepID == nil {
		// Invariant breach: a RUNNING execution always has a current step.
		exec.Context[models.ContextKeyLastError] = "running execution has no current step"
		if _, err := p.store.FinishExecution(ctx, exec.TenantID, exec.ID, models.ExecutionStatusFailed, exec.Context); err != nil {
			return fmt.Errorf("fail stepless execution: %w", err)
		}
		return nil
	}
	stepID := *exec.CurrentStepID
	if msg.StepID != "" && msg.StepID != stepID {
		// Stale message: the execution has already moved on.
		return nil
	}

	step := def.Step(stepID)
	if step == nil {
		return &NotFoundError{Kind: "step", ID: stepID}
	}

	outcome, actionErr := p.runStep(ctx, exec, step)
	if actionErr != nil {
		return p.recordFailure(ctx, exec, step, actionErr)
	}
	return p.applyOutcome(ctx, exec, step, outcome)
}

// runStep performs the step's action and computes the outcome. Only notify
// has external side effects; the rest are pure context/state updates.
func (p *Processor) runStep(ctx context.Context, exec *models.WorkflowExecution, step *models.StepSpec) (stepOutcome, error) {
	switch step.Action {
	case models.ActionWait:
		if waited, _ := exec.Context[waitedKey(step.ID)].(bool); waited {
			// Resumed after the wait: proceed.
			return stepOutcome{next: step.Next}, nil
		}
		seconds := paramFloat(step.Params, "seconds")
		if seconds <= 0 {
			return stepOutcome{next: step.Next}, nil
		}
		return stepOutcome{wait: time.Duration(seconds * float64(time.Second))}, nil

	case models.ActionNotify:
		n := services.Notification{
			TenantID:    exec.TenantID,
			ExecutionID: exec.ID,
			StepID:      step.ID,
			Channel:     paramString(step.Params, "channel", "email"),
			Recipient:   p.recipient(exec, step),
			Subject:     paramString(step.Params, "subject", ""),
			Message:     paramString(step.Params, "message", ""),
		}
		if err := p.notifier.Send(ctx, n); err != nil {
			return stepOutcome{}, err
		}
		return stepOutcome{next: step.Next}, nil

	case models.ActionBranch:
		field := paramString(step.Params, "field", "")
		want := fmt.Sprint(step.Params["equals"])
		got := fmt.Sprint(exec.Context[field])
		branch := "else"
		if got == want {
			branch = "then"
		}
		next := paramString(step.Params, branch, step.Next)
		return stepOutcome{next: next}, nil

	case models.ActionSet:
		key := paramString(step.Params, "key", "")
		if key == "" {
			return stepOutcome{}, fmt.Errorf("set step %q is missing a key", step.ID)
		}
		exec.Context[key] = step.Params["value"]
		return stepOutcome{next: step.Next}, nil

	default:
		return stepOutcome{}, fmt.Errorf("unknown action %q", step.Action)
	}
}

// applyOutcome commits the state transition the step asked for. Every update
// is conditional on the execution still being RUNNING at this step; losing
// the guard means another worker got there first and is not an error.
func (p *Processor) applyOutcome(ctx context.Context, exec *models.WorkflowExecution, step *models.StepSpec, outcome stepOutcome) error {
	if outcome.wait > 0 {
		resumeAt := time.Now().Add(outcome.wait)
		exec.Context[waitedKey(step.ID)] = true
		parked, err := p.store.MarkExecutionWaiting(ctx, exec.TenantID, exec.ID, step.ID, resumeAt, exec.Context)
		if err != nil {
			return fmt.Errorf("park execution: %w", err)
		}
		if !parked {
			return nil
		}
		job := &models.ScheduledJob{
			TenantID:    exec.TenantID,
			Type:        models.JobTypeResumeExecution,
			ExecutionID: &exec.ID,
			RunAt:       resumeAt,
		}
		if _, err := p.store.CreateScheduledJob(ctx, job); err != nil {
			// The resume scan also picks up due WAITING rows, so a lost
			// job delays the resume by at most one poll.
			p.logger.Warn("failed to schedule resume job", "execution_id", exec.ID, "error", err)
		}
		return nil
	}

	if outcome.next == "" {
		if _, err := p.store.FinishExecution(ctx, exec.TenantID, exec.ID, models.ExecutionStatusCompleted, exec.Context); err != nil {
			return fmt.Errorf("complete execution: %w", err)
		}
		return nil
	}

	if _, err := p.store.AdvanceExecution(ctx, exec.TenantID, exec.ID, step.ID, outcome.next, exec.Context); err != nil {
		return fmt.Errorf("advance execution: %w", err)
	}
	return nil
}

// recordFailure bumps the attempt counter and forces the execution to FAILED
// once the bound is reached, recording the reason in its context.
func (p *Processor) recordFailure(ctx context.Context, exec *models.WorkflowExecution, step *models.StepSpec, actionErr error) error {
	attempts, err := p.store.IncrementExecutionAttempts(ctx, exec.TenantID, exec.ID)
	if err != nil {
		p.logger.Error("failed to record step attempt", "execution_id", exec.ID, "error", err)
		return &ActionError{StepID: step.ID, Err: actionErr}
	}
	if attempts >= p.maxAttempts {
		exec.Context[models.ContextKeyLastError] = actionErr.Error()
		if _, err := p.store.FinishExecution(ctx, exec.TenantID, exec.ID, models.ExecutionStatusFailed, exec.Context); err != nil {
			p.logger.Error("failed to mark execution failed", "execution_id", exec.ID, "error", err)
		}
	}
	return &ActionError{StepID: step.ID, Err: actionErr}
}

// recipient resolves who a notify step addresses: an explicit param wins,
// otherwise the owner email captured from the triggering entity.
func (p *Processor) recipient(exec *models.WorkflowExecution, step *models.StepSpec) string {
	if r := paramString(step.Params, "recipient", ""); r != "" {
		return r
	}
	r, _ := exec.Context["ownerEmail"].(string)
	return r
}

func waitedKey(stepID string) string {
	return "waited:" + stepID
}

func paramString(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// paramFloat reads a numeric param. JSON round-trips numbers as float64, but
// literals built in Go may be ints.
func paramFloat(params map[string]any, key string) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
