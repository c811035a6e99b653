package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"barkbase/backend/pkg/models"
)

// PostgresStore is the PostgreSQL implementation of the Repository interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

var _ Repository = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateTenant inserts a tenant, generating an id if absent.
func (s *PostgresStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO "Tenant" ("recordId", "name", "subdomain") VALUES ($1, $2, $3)`,
		tenant.ID, tenant.Name, tenant.Subdomain)
	return err
}

// GetTenantBySubdomain retrieves a tenant by its subdomain.
func (s *PostgresStore) GetTenantBySubdomain(ctx context.Context, subdomain string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.QueryRow(ctx,
		`SELECT "recordId", "name", "subdomain", "createdAt", "updatedAt" FROM "Tenant" WHERE "subdomain" = $1`,
		subdomain).Scan(&t.ID, &t.Name, &t.Subdomain, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

// CreateUser inserts a staff user.
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO "User" ("recordId", "email", "cognitoSub") VALUES ($1, $2, $3)`,
		user.ID, user.Email, user.CognitoSub)
	return err
}

// CreateMembership links a user to a tenant.
func (s *PostgresStore) CreateMembership(ctx context.Context, membership *models.Membership) error {
	if membership.ID == "" {
		membership.ID = uuid.New().String()
	}
	if membership.Role == "" {
		membership.Role = "USER"
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO "Membership" ("recordId", "tenantId", "userId", "role") VALUES ($1, $2, $3, $4)`,
		membership.ID, membership.TenantID, membership.UserID, membership.Role)
	return err
}

// TenantIDForUser resolves a user's tenant through the Membership table, the
// same lookup the original API Gateway authorizer performs for Cognito tokens
// that carry no tenant claim.
func (s *PostgresStore) TenantIDForUser(ctx context.Context, cognitoSub, email string) (string, error) {
	var tenantID string
	err := s.db.QueryRow(ctx,
		`SELECT m."tenantId"
		 FROM "Membership" m
		 JOIN "User" u ON m."userId" = u."recordId"
		 WHERE (u."cognitoSub" = $1 OR u."email" = $2)
		   AND m."deletedAt" IS NULL
		 ORDER BY m."updatedAt" DESC
		 LIMIT 1`,
		cognitoSub, email).Scan(&tenantID)
	if err != nil {
		return "", mapErr(err)
	}
	return tenantID, nil
}

// CreateBooking inserts a booking.
func (s *PostgresStore) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if booking.ID == "" {
		booking.ID = uuid.New().String()
	}
	if booking.Status == "" {
		booking.Status = models.BookingStatusRequested
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO "Booking" ("recordId", "tenantId", "petName", "ownerEmail", "status", "startDate", "endDate")
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		booking.ID, booking.TenantID, booking.PetName, booking.OwnerEmail, booking.Status, booking.StartDate, booking.EndDate)
	return err
}

const bookingColumns = `"recordId", "tenantId", "petName", "ownerEmail", "status", "startDate", "endDate", "createdAt", "updatedAt"`

// ListBookings returns all bookings for a tenant, newest first.
func (s *PostgresStore) ListBookings(ctx context.Context, tenantID string) ([]*models.Booking, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+bookingColumns+` FROM "Booking" WHERE "tenantId" = $1 ORDER BY "createdAt" DESC`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBookings(rows)
}

// FindBookingsCreatedSince returns bookings created at or after since for one
// tenant, matching the trigger filter. Filter keys map to booking fields
// ("status", "pet_name", "owner_email"); unknown keys never match.
func (s *PostgresStore) FindBookingsCreatedSince(ctx context.Context, tenantID string, since time.Time, filter map[string]string) ([]*models.Booking, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+bookingColumns+` FROM "Booking"
		 WHERE "tenantId" = $1 AND "createdAt" >= $2
		 ORDER BY "createdAt" ASC`,
		tenantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	bookings, err := scanBookings(rows)
	if err != nil {
		return nil, err
	}
	if len(filter) == 0 {
		return bookings, nil
	}
	matched := bookings[:0]
	for _, b := range bookings {
		if bookingMatches(b, filter) {
			matched = append(matched, b)
		}
	}
	return matched, nil
}

func bookingMatches(b *models.Booking, filter map[string]string) bool {
	for key, want := range filter {
		var got string
		switch key {
		case "status":
			got = string(b.Status)
		case "pet_name":
			got = b.PetName
		case "owner_email":
			got = b.OwnerEmail
		}
		if got != want {
			return false
		}
	}
	return true
}

func scanBookings(rows pgx.Rows) ([]*models.Booking, error) {
	var bookings []*models.Booking
	for rows.Next() {
		var b models.Booking
		if err := rows.Scan(&b.ID, &b.TenantID, &b.PetName, &b.OwnerEmail, &b.Status,
			&b.StartDate, &b.EndDate, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		bookings = append(bookings, &b)
	}
	return bookings, rows.Err()
}

// CreateWorkflowDefinition inserts a workflow definition.
func (s *PostgresStore) CreateWorkflowDefinition(ctx context.Context, def *models.WorkflowDefinition) error {
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	if def.Status == "" {
		def.Status = models.WorkflowStatusActive
	}
	trigger, err := json.Marshal(def.Trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	steps, err := json.Marshal(def.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO "WorkflowDefinition" ("recordId", "tenantId", "name", "status", "trigger", "steps")
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		def.ID, def.TenantID, def.Name, def.Status, trigger, steps)
	return err
}

const definitionColumns = `"recordId", "tenantId", "name", "status", "trigger", "steps", "createdAt", "updatedAt"`

// GetWorkflowDefinition retrieves one definition scoped to a tenant.
func (s *PostgresStore) GetWorkflowDefinition(ctx context.Context, tenantID, id string) (*models.WorkflowDefinition, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+definitionColumns+` FROM "WorkflowDefinition" WHERE "recordId" = $1 AND "tenantId" = $2`,
		id, tenantID)
	return scanDefinition(row)
}

// ListWorkflowDefinitions returns all definitions for a tenant.
func (s *PostgresStore) ListWorkflowDefinitions(ctx context.Context, tenantID string) ([]*models.WorkflowDefinition, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+definitionColumns+` FROM "WorkflowDefinition" WHERE "tenantId" = $1 ORDER BY "createdAt" DESC`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDefinitions(rows)
}

// ListActiveWorkflowDefinitions returns every ACTIVE definition across
// tenants. Only the worker's trigger evaluator uses this scan; each returned
// row carries its tenant id and all follow-up queries filter by it.
func (s *PostgresStore) ListActiveWorkflowDefinitions(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+definitionColumns+` FROM "WorkflowDefinition" WHERE "status" = $1 ORDER BY "createdAt" ASC`,
		models.WorkflowStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDefinitions(rows)
}

// SetWorkflowStatus updates a definition's status.
func (s *PostgresStore) SetWorkflowStatus(ctx context.Context, tenantID, id string, status models.WorkflowStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE "WorkflowDefinition" SET "status" = $3, "updatedAt" = NOW() WHERE "recordId" = $1 AND "tenantId" = $2`,
		id, tenantID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDefinition(row pgx.Row) (*models.WorkflowDefinition, error) {
	var d models.WorkflowDefinition
	var trigger, steps []byte
	err := row.Scan(&d.ID, &d.TenantID, &d.Name, &d.Status, &trigger, &steps, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(trigger, &d.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshal trigger: %w", err)
	}
	if err := json.Unmarshal(steps, &d.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return &d, nil
}

func scanDefinitions(rows pgx.Rows) ([]*models.WorkflowDefinition, error) {
	var defs []*models.WorkflowDefinition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// mapErr converts driver-level not-found errors into ErrNotFound.
func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
