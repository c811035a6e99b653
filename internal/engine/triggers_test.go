package engine

import (
	"context"
	"testing"
	"time"

	"barkbase/backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessScheduledTriggers_EventCreatesExecution(t *testing.T) {
	store := newMemStore()
	ev := NewTriggerEvaluator(store, testLogger(), 10*time.Minute)

	def := store.addDefinition(notifyWorkflow("tenant-1"))
	booking := store.addBooking(&models.Booking{
		TenantID:   "tenant-1",
		PetName:    "Biscuit",
		OwnerEmail: "owner@example.com",
		Status:     models.BookingStatusConfirmed,
	})

	created, err := ev.ProcessScheduledTriggers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	var exec *models.WorkflowExecution
	for _, e := range store.execs {
		exec = e
	}
	require.NotNil(t, exec)
	assert.Equal(t, models.ExecutionStatusPending, exec.Status)
	assert.Equal(t, def.ID, exec.WorkflowID)
	assert.Equal(t, booking.ID, exec.EntityID)
	assert.Equal(t, "notify", *exec.CurrentStepID)
	assert.Equal(t, "owner@example.com", exec.Context["ownerEmail"])
	assert.Equal(t, "CONFIRMED", exec.Context["bookingStatus"])
}

func TestProcessScheduledTriggers_SameEntityCreatesOneExecution(t *testing.T) {
	store := newMemStore()
	ev := NewTriggerEvaluator(store, testLogger(), 10*time.Minute)

	store.addDefinition(notifyWorkflow("tenant-1"))
	store.addBooking(&models.Booking{
		TenantID:   "tenant-1",
		PetName:    "Biscuit",
		OwnerEmail: "owner@example.com",
		Status:     models.BookingStatusConfirmed,
	})

	first, err := ev.ProcessScheduledTriggers(context.Background())
	require.NoError(t, err)
	second, err := ev.ProcessScheduledTriggers(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 0, second)
	assert.Len(t, store.execs, 1)
}

func TestProcessScheduledTriggers_FilterExcludesNonMatching(t *testing.T) {
	store := newMemStore()
	ev := NewTriggerEvaluator(store, testLogger(), 10*time.Minute)

	def := notifyWorkflow("tenant-1")
	def.Trigger.Filter = map[string]string{"status": string(models.BookingStatusConfirmed)}
	store.addDefinition(def)

	store.addBooking(&models.Booking{TenantID: "tenant-1", PetName: "A", OwnerEmail: "a@b.c", Status: models.BookingStatusConfirmed})
	store.addBooking(&models.Booking{TenantID: "tenant-1", PetName: "B", OwnerEmail: "b@b.c", Status: models.BookingStatusRequested})

	created, err := ev.ProcessScheduledTriggers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)
}

func TestProcessScheduledTriggers_PausedDefinitionSkipped(t *testing.T) {
	store := newMemStore()
	ev := NewTriggerEvaluator(store, testLogger(), 10*time.Minute)

	def := notifyWorkflow("tenant-1")
	def.Status = models.WorkflowStatusPaused
	store.addDefinition(def)
	store.addBooking(&models.Booking{TenantID: "tenant-1", PetName: "A", OwnerEmail: "a@b.c", Status: models.BookingStatusConfirmed})

	created, err := ev.ProcessScheduledTriggers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Empty(t, store.execs)
}

func TestProcessScheduledTriggers_OtherTenantBookingsIgnored(t *testing.T) {
	store := newMemStore()
	ev := NewTriggerEvaluator(store, testLogger(), 10*time.Minute)

	store.addDefinition(notifyWorkflow("tenant-1"))
	store.addBooking(&models.Booking{TenantID: "tenant-2", PetName: "A", OwnerEmail: "a@b.c", Status: models.BookingStatusConfirmed})

	created, err := ev.ProcessScheduledTriggers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}

func scheduleWorkflow(tenantID string, interval int) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		TenantID: tenantID,
		Name:     "digest",
		Status:   models.WorkflowStatusActive,
		Trigger:  models.TriggerSpec{Type: models.TriggerTypeSchedule, IntervalSeconds: interval},
		Steps: []models.StepSpec{
			{ID: "send", Action: models.ActionNotify, Params: map[string]any{"recipient": "staff@example.com", "message": "digest"}},
		},
	}
}

func TestProcessScheduledTriggers_ScheduleJobIsDeduped(t *testing.T) {
	store := newMemStore()
	ev := NewTriggerEvaluator(store, testLogger(), 10*time.Minute)

	def := store.addDefinition(scheduleWorkflow("tenant-1", 3600))

	_, err := ev.ProcessScheduledTriggers(context.Background())
	require.NoError(t, err)
	_, err = ev.ProcessScheduledTriggers(context.Background())
	require.NoError(t, err)

	jobs := store.jobList()
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobTypeEvaluateTrigger, jobs[0].Type)
	assert.Equal(t, def.ID, *jobs[0].WorkflowID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), jobs[0].RunAt, 5*time.Second)
}

func TestFireScheduleTrigger_CreatesTickExecution(t *testing.T) {
	store := newMemStore()
	ev := NewTriggerEvaluator(store, testLogger(), 10*time.Minute)

	def := store.addDefinition(scheduleWorkflow("tenant-1", 3600))
	runAt := time.Now().Truncate(time.Second)
	job := &models.ScheduledJob{
		TenantID:   "tenant-1",
		Type:       models.JobTypeEvaluateTrigger,
		WorkflowID: &def.ID,
		RunAt:      runAt,
	}

	require.NoError(t, ev.FireScheduleTrigger(context.Background(), job))
	// Re-delivery of the same tick must not start a second execution.
	require.NoError(t, ev.FireScheduleTrigger(context.Background(), job))

	assert.Len(t, store.execs, 1)
	for _, e := range store.execs {
		assert.Equal(t, models.ExecutionStatusPending, e.Status)
		assert.Contains(t, e.EntityID, "tick-")
	}
}

func TestFireScheduleTrigger_PausedDefinitionDropsTick(t *testing.T) {
	store := newMemStore()
	ev := NewTriggerEvaluator(store, testLogger(), 10*time.Minute)

	def := scheduleWorkflow("tenant-1", 3600)
	def.Status = models.WorkflowStatusPaused
	store.addDefinition(def)

	job := &models.ScheduledJob{
		TenantID:   "tenant-1",
		Type:       models.JobTypeEvaluateTrigger,
		WorkflowID: &def.ID,
		RunAt:      time.Now(),
	}
	require.NoError(t, ev.FireScheduleTrigger(context.Background(), job))
	assert.Empty(t, store.execs)
}

func TestFireScheduleTrigger_MissingDefinitionIsNotFound(t *testing.T) {
	store := newMemStore()
	ev := NewTriggerEvaluator(store, testLogger(), 10*time.Minute)

	missing := "gone"
	job := &models.ScheduledJob{
		TenantID:   "tenant-1",
		Type:       models.JobTypeEvaluateTrigger,
		WorkflowID: &missing,
		RunAt:      time.Now(),
	}
	err := ev.FireScheduleTrigger(context.Background(), job)
	assert.True(t, IsNotFound(err))
}
