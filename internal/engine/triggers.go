package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"barkbase/backend/internal/logging"
	"barkbase/backend/internal/repository"
	"barkbase/backend/pkg/models"
)

const defaultTriggerLookback = 10 * time.Minute

// TriggerEvaluator scans tenant data for workflows whose start conditions
// are newly satisfied and creates PENDING executions for them. Duplicate
// starts are prevented by the unique (workflow, entity) constraint, so
// seeing the same entity twice within a poll window creates one execution.
type TriggerEvaluator struct {
	store    Store
	logger   *logging.Logger
	lookback time.Duration
}

// NewTriggerEvaluator creates an evaluator. lookback is how far back event
// triggers scan for newly created entities; it only needs to exceed the poll
// interval, since dedupe makes re-scanning old entities harmless.
func NewTriggerEvaluator(store Store, logger *logging.Logger, lookback time.Duration) *TriggerEvaluator {
	if lookback <= 0 {
		lookback = defaultTriggerLookback
	}
	return &TriggerEvaluator{store: store, logger: logger, lookback: lookback}
}

// ProcessScheduledTriggers evaluates every active definition once and
// returns how many executions were created. Per-definition errors are logged
// and skipped so one bad definition cannot block the rest.
func (t *TriggerEvaluator) ProcessScheduledTriggers(ctx context.Context) (int, error) {
	defs, err := t.store.ListActiveWorkflowDefinitions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active definitions: %w", err)
	}

	created := 0
	for _, def := range defs {
		switch def.Trigger.Type {
		case models.TriggerTypeEvent:
			n, err := t.evaluateEventTrigger(ctx, def)
			if err != nil {
				t.logger.Error("event trigger evaluation failed",
					"workflow_id", def.ID, "tenant_id", def.TenantID, "error", err)
				continue
			}
			created += n
		case models.TriggerTypeSchedule:
			if err := t.ensureTriggerJob(ctx, def); err != nil {
				t.logger.Error("failed to schedule trigger evaluation",
					"workflow_id", def.ID, "tenant_id", def.TenantID, "error", err)
			}
		}
	}
	return created, nil
}

// evaluateEventTrigger starts executions for entities created since the
// lookback horizon that match the trigger filter.
func (t *TriggerEvaluator) evaluateEventTrigger(ctx context.Context, def *models.WorkflowDefinition) (int, error) {
	// booking.created is the only event source wired today; other entity
	// events flow through here once their tables grow created-at scans.
	if def.Trigger.Event != models.EventBookingCreated {
		return 0, nil
	}
	entry := def.EntryStep()
	if entry == nil {
		return 0, fmt.Errorf("workflow %s has no steps", def.ID)
	}

	since := time.Now().Add(-t.lookback)
	bookings, err := t.store.FindBookingsCreatedSince(ctx, def.TenantID, since, def.Trigger.Filter)
	if err != nil {
		return 0, fmt.Errorf("scan bookings: %w", err)
	}

	created := 0
	for _, b := range bookings {
		exec := &models.WorkflowExecution{
			TenantID:      def.TenantID,
			WorkflowID:    def.ID,
			EntityID:      b.ID,
			Status:        models.ExecutionStatusPending,
			CurrentStepID: &entry.ID,
			Context: map[string]any{
				"entityId":      b.ID,
				"petName":       b.PetName,
				"ownerEmail":    b.OwnerEmail,
				"bookingStatus": string(b.Status),
			},
		}
		ok, err := t.store.CreateExecution(ctx, exec)
		if err != nil {
			t.logger.Error("failed to create execution",
				"workflow_id", def.ID, "entity_id", b.ID, "error", err)
			continue
		}
		if ok {
			created++
			t.logger.Info("workflow triggered",
				"workflow_id", def.ID, "execution_id", exec.ID, "entity_id", b.ID)
		}
	}
	return created, nil
}

// ensureTriggerJob keeps exactly one pending EVALUATE_TRIGGER job per
// schedule-triggered definition. The insert is deduped by a partial unique
// index, so calling this every poll is cheap and idempotent.
func (t *TriggerEvaluator) ensureTriggerJob(ctx context.Context, def *models.WorkflowDefinition) error {
	job := &models.ScheduledJob{
		TenantID:   def.TenantID,
		Type:       models.JobTypeEvaluateTrigger,
		WorkflowID: &def.ID,
		RunAt:      time.Now().Add(time.Duration(def.Trigger.IntervalSeconds) * time.Second),
	}
	_, err := t.store.CreateScheduledJob(ctx, job)
	return err
}

// FireScheduleTrigger handles a due EVALUATE_TRIGGER job by starting one
// execution for this tick. The entity id encodes the tick time, so a
// re-delivered job cannot start a second execution. The next tick's job is
// re-created by the regular trigger pass.
func (t *TriggerEvaluator) FireScheduleTrigger(ctx context.Context, job *models.ScheduledJob) error {
	if job.WorkflowID == nil {
		return nil
	}
	def, err := t.store.GetWorkflowDefinition(ctx, job.TenantID, *job.WorkflowID)
	if errors.Is(err, repository.ErrNotFound) {
		return &NotFoundError{Kind: "workflow", ID: *job.WorkflowID}
	}
	if err != nil {
		return fmt.Errorf("load workflow definition: %w", err)
	}
	if def.Status != models.WorkflowStatusActive {
		// Paused since the job was scheduled; drop the tick.
		return nil
	}
	entry := def.EntryStep()
	if entry == nil {
		return &NotFoundError{Kind: "entry step of workflow", ID: def.ID}
	}

	exec := &models.WorkflowExecution{
		TenantID:      def.TenantID,
		WorkflowID:    def.ID,
		EntityID:      fmt.Sprintf("tick-%d", job.RunAt.Unix()),
		Status:        models.ExecutionStatusPending,
		CurrentStepID: &entry.ID,
		Context: map[string]any{
			"firedAt": job.RunAt.Format(time.RFC3339),
		},
	}
	ok, err := t.store.CreateExecution(ctx, exec)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	if ok {
		t.logger.Info("scheduled workflow triggered",
			"workflow_id", def.ID, "execution_id", exec.ID)
	}
	return nil
}
