package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"barkbase/backend/pkg/models"
)

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	if err := Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}
	// Idempotent.
	if err := Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}

	store := NewPostgresStore(pool)

	tenantA := &models.Tenant{Name: "Kennel A", Subdomain: "kennel-a"}
	require.NoError(t, store.CreateTenant(ctx, tenantA))
	tenantB := &models.Tenant{Name: "Kennel B", Subdomain: "kennel-b"}
	require.NoError(t, store.CreateTenant(ctx, tenantB))

	newDefinition := func(t *testing.T, tenantID, name string) *models.WorkflowDefinition {
		t.Helper()
		def := &models.WorkflowDefinition{
			TenantID: tenantID,
			Name:     name,
			Status:   models.WorkflowStatusActive,
			Trigger:  models.TriggerSpec{Type: models.TriggerTypeEvent, Event: models.EventBookingCreated},
			Steps: []models.StepSpec{
				{ID: "notify", Action: models.ActionNotify, Params: map[string]any{"message": "hi"}},
			},
		}
		require.NoError(t, store.CreateWorkflowDefinition(ctx, def))
		return def
	}

	t.Run("Tenant lookup", func(t *testing.T) {
		got, err := store.GetTenantBySubdomain(ctx, "kennel-a")
		require.NoError(t, err)
		assert.Equal(t, tenantA.ID, got.ID)

		_, err = store.GetTenantBySubdomain(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Membership resolves tenant", func(t *testing.T) {
		user := &models.User{Email: "staff@kennel-a.test", CognitoSub: "sub-1"}
		require.NoError(t, store.CreateUser(ctx, user))
		require.NoError(t, store.CreateMembership(ctx, &models.Membership{
			TenantID: tenantA.ID, UserID: user.ID, Role: "admin",
		}))

		gotID, err := store.TenantIDForUser(ctx, "sub-1", user.Email)
		require.NoError(t, err)
		assert.Equal(t, tenantA.ID, gotID)

		_, err = store.TenantIDForUser(ctx, "unknown-sub", "nobody@test")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Bookings are tenant scoped and filterable", func(t *testing.T) {
		for _, b := range []*models.Booking{
			{TenantID: tenantA.ID, PetName: "Biscuit", OwnerEmail: "a@test", Status: models.BookingStatusConfirmed, StartDate: time.Now(), EndDate: time.Now().Add(time.Hour)},
			{TenantID: tenantA.ID, PetName: "Mochi", OwnerEmail: "b@test", Status: models.BookingStatusRequested, StartDate: time.Now(), EndDate: time.Now().Add(time.Hour)},
			{TenantID: tenantB.ID, PetName: "Rex", OwnerEmail: "c@test", Status: models.BookingStatusConfirmed, StartDate: time.Now(), EndDate: time.Now().Add(time.Hour)},
		} {
			require.NoError(t, store.CreateBooking(ctx, b))
		}

		all, err := store.ListBookings(ctx, tenantA.ID)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		since := time.Now().Add(-time.Minute)
		confirmed, err := store.FindBookingsCreatedSince(ctx, tenantA.ID, since,
			map[string]string{"status": string(models.BookingStatusConfirmed)})
		require.NoError(t, err)
		require.Len(t, confirmed, 1)
		assert.Equal(t, "Biscuit", confirmed[0].PetName)

		none, err := store.FindBookingsCreatedSince(ctx, tenantA.ID, time.Now().Add(time.Minute), nil)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("Workflow definition round trip", func(t *testing.T) {
		def := newDefinition(t, tenantA.ID, "round trip")

		got, err := store.GetWorkflowDefinition(ctx, tenantA.ID, def.ID)
		require.NoError(t, err)
		assert.Equal(t, def.Name, got.Name)
		assert.Equal(t, models.TriggerTypeEvent, got.Trigger.Type)
		require.Len(t, got.Steps, 1)
		assert.Equal(t, "notify", got.Steps[0].ID)

		// Another tenant cannot see it.
		_, err = store.GetWorkflowDefinition(ctx, tenantB.ID, def.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, store.SetWorkflowStatus(ctx, tenantA.ID, def.ID, models.WorkflowStatusPaused))
		got, err = store.GetWorkflowDefinition(ctx, tenantA.ID, def.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusPaused, got.Status)
	})

	t.Run("Execution create is deduped per entity", func(t *testing.T) {
		def := newDefinition(t, tenantA.ID, "dedupe")
		entry := "notify"

		mkExec := func() *models.WorkflowExecution {
			return &models.WorkflowExecution{
				TenantID:      tenantA.ID,
				WorkflowID:    def.ID,
				EntityID:      "booking-42",
				Status:        models.ExecutionStatusPending,
				CurrentStepID: &entry,
				Context:       map[string]any{"petName": "Biscuit"},
			}
		}

		created, err := store.CreateExecution(ctx, mkExec())
		require.NoError(t, err)
		assert.True(t, created)

		again, err := store.CreateExecution(ctx, mkExec())
		require.NoError(t, err)
		assert.False(t, again)

		execs, err := store.ListExecutions(ctx, tenantA.ID, models.ExecutionStatusPending)
		require.NoError(t, err)
		require.Len(t, execs, 1)
		assert.Equal(t, "Biscuit", execs[0].Context["petName"])
	})

	t.Run("Claim is exclusive within the window", func(t *testing.T) {
		def := newDefinition(t, tenantA.ID, "claiming")
		entry := "notify"
		exec := &models.WorkflowExecution{
			TenantID:      tenantA.ID,
			WorkflowID:    def.ID,
			EntityID:      "booking-claim",
			CurrentStepID: &entry,
		}
		_, err := store.CreateExecution(ctx, exec)
		require.NoError(t, err)

		results := make([]bool, 2)
		var wg sync.WaitGroup
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := store.ClaimExecution(ctx, tenantA.ID, exec.ID, time.Minute)
				assert.NoError(t, err)
				results[i] = ok
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, ok := range results {
			if ok {
				wins++
			}
		}
		assert.Equal(t, 1, wins, "exactly one concurrent claim should win")
	})

	t.Run("State transitions guard on current step", func(t *testing.T) {
		def := newDefinition(t, tenantA.ID, "transitions")
		entry := "notify"
		exec := &models.WorkflowExecution{
			TenantID:      tenantA.ID,
			WorkflowID:    def.ID,
			EntityID:      "booking-transitions",
			CurrentStepID: &entry,
		}
		_, err := store.CreateExecution(ctx, exec)
		require.NoError(t, err)

		started, err := store.StartExecution(ctx, tenantA.ID, exec.ID, "notify")
		require.NoError(t, err)
		assert.True(t, started)

		// A second start loses the guard.
		started, err = store.StartExecution(ctx, tenantA.ID, exec.ID, "notify")
		require.NoError(t, err)
		assert.False(t, started)

		// A stale advance from the wrong step is rejected.
		moved, err := store.AdvanceExecution(ctx, tenantA.ID, exec.ID, "other", "next", map[string]any{})
		require.NoError(t, err)
		assert.False(t, moved)

		moved, err = store.AdvanceExecution(ctx, tenantA.ID, exec.ID, "notify", "next", map[string]any{"k": "v"})
		require.NoError(t, err)
		assert.True(t, moved)

		got, err := store.GetExecution(ctx, tenantA.ID, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, "next", *got.CurrentStepID)
		assert.Equal(t, 0, got.Attempts)

		done, err := store.FinishExecution(ctx, tenantA.ID, exec.ID, models.ExecutionStatusCompleted, got.Context)
		require.NoError(t, err)
		assert.True(t, done)

		// Terminal rows reject further transitions.
		cancelled, err := store.CancelExecution(ctx, tenantA.ID, exec.ID)
		require.NoError(t, err)
		assert.False(t, cancelled)
	})

	t.Run("Waiting executions resume when due", func(t *testing.T) {
		def := newDefinition(t, tenantA.ID, "waiting")
		entry := "notify"
		exec := &models.WorkflowExecution{
			TenantID:      tenantA.ID,
			WorkflowID:    def.ID,
			EntityID:      "booking-waiting",
			CurrentStepID: &entry,
		}
		_, err := store.CreateExecution(ctx, exec)
		require.NoError(t, err)
		started, err := store.StartExecution(ctx, tenantA.ID, exec.ID, "notify")
		require.NoError(t, err)
		require.True(t, started)

		parked, err := store.MarkExecutionWaiting(ctx, tenantA.ID, exec.ID, "notify",
			time.Now().Add(-time.Second), map[string]any{"waited:notify": true})
		require.NoError(t, err)
		require.True(t, parked)

		resumed, err := store.ResumeDueExecutions(ctx, 10)
		require.NoError(t, err)
		require.Len(t, resumed, 1)
		assert.Equal(t, exec.ID, resumed[0].ID)
		assert.Equal(t, models.ExecutionStatusRunning, resumed[0].Status)
		assert.Equal(t, "notify", *resumed[0].CurrentStepID)
		assert.Nil(t, resumed[0].ScheduledAt)

		// Nothing left to resume.
		again, err := store.ResumeDueExecutions(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, again)
	})

	t.Run("Claim batch respects the window", func(t *testing.T) {
		def := newDefinition(t, tenantB.ID, "batching")
		entry := "notify"
		exec := &models.WorkflowExecution{
			TenantID:      tenantB.ID,
			WorkflowID:    def.ID,
			EntityID:      "booking-batch",
			CurrentStepID: &entry,
		}
		_, err := store.CreateExecution(ctx, exec)
		require.NoError(t, err)

		claimed, err := store.ClaimDueExecutions(ctx, time.Minute, 100)
		require.NoError(t, err)
		found := false
		for _, e := range claimed {
			if e.ID == exec.ID {
				found = true
			}
		}
		assert.True(t, found)

		// Freshly claimed rows are skipped until the window expires.
		claimed, err = store.ClaimDueExecutions(ctx, time.Minute, 100)
		require.NoError(t, err)
		for _, e := range claimed {
			assert.NotEqual(t, exec.ID, e.ID)
		}
	})

	t.Run("Scheduled trigger jobs are unique per workflow", func(t *testing.T) {
		def := newDefinition(t, tenantA.ID, "job dedupe")

		created, err := store.CreateScheduledJob(ctx, &models.ScheduledJob{
			TenantID:   tenantA.ID,
			Type:       models.JobTypeEvaluateTrigger,
			WorkflowID: &def.ID,
			RunAt:      time.Now().Add(-time.Second),
		})
		require.NoError(t, err)
		assert.True(t, created)

		dup, err := store.CreateScheduledJob(ctx, &models.ScheduledJob{
			TenantID:   tenantA.ID,
			Type:       models.JobTypeEvaluateTrigger,
			WorkflowID: &def.ID,
			RunAt:      time.Now().Add(time.Hour),
		})
		require.NoError(t, err)
		assert.False(t, dup)

		due, err := store.DueScheduledJobs(ctx, time.Now(), 10)
		require.NoError(t, err)
		var job *models.ScheduledJob
		for _, j := range due {
			if j.WorkflowID != nil && *j.WorkflowID == def.ID {
				job = j
			}
		}
		require.NotNil(t, job)

		require.NoError(t, store.DeleteScheduledJob(ctx, tenantA.ID, job.ID))
		due, err = store.DueScheduledJobs(ctx, time.Now(), 10)
		require.NoError(t, err)
		for _, j := range due {
			assert.NotEqual(t, job.ID, j.ID)
		}
	})
}
