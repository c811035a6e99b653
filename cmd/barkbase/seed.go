package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"barkbase/backend/internal/repository"
	"barkbase/backend/pkg/models"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the schema and a local development tenant with sample data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context())
		},
	}
}

func runSeed(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	pool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := repository.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	logger.Info("Schema applied")

	store := repository.NewPostgresStore(pool)

	// 1. Ensure the dev tenant exists.
	subdomain := "localhost"
	tenant, err := store.GetTenantBySubdomain(ctx, subdomain)
	if err != nil {
		logger.Info("Creating default tenant", "subdomain", subdomain)
		tenant = &models.Tenant{
			Name:      "Local Dev Kennel",
			Subdomain: subdomain,
		}
		if err := store.CreateTenant(ctx, tenant); err != nil {
			return fmt.Errorf("failed to create tenant: %w", err)
		}

		// 2. A staff account so the dev login can resolve a tenant.
		user := &models.User{
			Email:      "staff@localhost",
			CognitoSub: "dev-staff",
		}
		if err := store.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		membership := &models.Membership{
			TenantID: tenant.ID,
			UserID:   user.ID,
			Role:     "admin",
		}
		if err := store.CreateMembership(ctx, membership); err != nil {
			return fmt.Errorf("failed to create membership: %w", err)
		}
	} else {
		logger.Info("Found existing tenant", "id", tenant.ID)
	}

	// 3. Workflow definitions, skipping names that already exist.
	existing, err := store.ListWorkflowDefinitions(ctx, tenant.ID)
	if err != nil {
		return fmt.Errorf("failed to list existing workflows: %w", err)
	}
	existingNames := make(map[string]bool, len(existing))
	for _, d := range existing {
		existingNames[d.Name] = true
	}

	for _, def := range seedWorkflows(tenant.ID) {
		if existingNames[def.Name] {
			logger.Info("Skipping existing workflow", "name", def.Name)
			continue
		}
		if err := def.Validate(); err != nil {
			return fmt.Errorf("seed workflow %q is invalid: %w", def.Name, err)
		}
		if err := store.CreateWorkflowDefinition(ctx, def); err != nil {
			return fmt.Errorf("failed to create workflow %q: %w", def.Name, err)
		}
		logger.Info("Seeded workflow", "name", def.Name, "id", def.ID)
	}

	// 4. Sample bookings for the event trigger to pick up.
	now := time.Now()
	bookings := []*models.Booking{
		{TenantID: tenant.ID, PetName: "Biscuit", OwnerEmail: "biscuit.owner@example.com", Status: models.BookingStatusConfirmed, StartDate: now, EndDate: now.Add(72 * time.Hour)},
		{TenantID: tenant.ID, PetName: "Mochi", OwnerEmail: "mochi.owner@example.com", Status: models.BookingStatusRequested, StartDate: now.Add(24 * time.Hour), EndDate: now.Add(96 * time.Hour)},
	}
	for _, b := range bookings {
		if err := store.CreateBooking(ctx, b); err != nil {
			return fmt.Errorf("failed to create booking for %s: %w", b.PetName, err)
		}
		logger.Info("Seeded booking", "pet", b.PetName, "id", b.ID)
	}

	logger.Info("Seeding complete")
	return nil
}

// seedWorkflows builds the sample definitions: a welcome sequence fired by
// new bookings and a periodic occupancy digest.
func seedWorkflows(tenantID string) []*models.WorkflowDefinition {
	return []*models.WorkflowDefinition{
		{
			TenantID: tenantID,
			Name:     "Booking welcome sequence",
			Status:   models.WorkflowStatusActive,
			Trigger: models.TriggerSpec{
				Type:  models.TriggerTypeEvent,
				Event: models.EventBookingCreated,
			},
			Steps: []models.StepSpec{
				{
					ID:     "check-status",
					Action: models.ActionBranch,
					Params: map[string]any{
						"field":  "bookingStatus",
						"equals": string(models.BookingStatusConfirmed),
						"then":   "welcome",
						"else":   "pending-note",
					},
				},
				{
					ID:     "welcome",
					Action: models.ActionNotify,
					Params: map[string]any{
						"channel": "email",
						"subject": "Your stay is confirmed",
						"message": "We can't wait to meet your pup!",
					},
					Next: "reminder-wait",
				},
				{
					ID:     "pending-note",
					Action: models.ActionNotify,
					Params: map[string]any{
						"channel": "email",
						"subject": "We received your request",
						"message": "We'll confirm your booking shortly.",
					},
				},
				{
					ID:     "reminder-wait",
					Action: models.ActionWait,
					Params: map[string]any{"seconds": float64(86400)},
					Next:   "reminder",
				},
				{
					ID:     "reminder",
					Action: models.ActionNotify,
					Params: map[string]any{
						"channel": "email",
						"subject": "See you soon",
						"message": "A reminder that your boarding stay starts tomorrow.",
					},
				},
			},
		},
		{
			TenantID: tenantID,
			Name:     "Daily occupancy digest",
			Status:   models.WorkflowStatusActive,
			Trigger: models.TriggerSpec{
				Type:            models.TriggerTypeSchedule,
				IntervalSeconds: 86400,
			},
			Steps: []models.StepSpec{
				{
					ID:     "digest",
					Action: models.ActionNotify,
					Params: map[string]any{
						"channel":   "email",
						"recipient": "staff@localhost",
						"subject":   "Daily occupancy digest",
						"message":   "Today's check-ins and check-outs are ready for review.",
					},
				},
			},
		},
	}
}
