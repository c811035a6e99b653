package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for the tables the backend owns. Identifiers follow the
// original Prisma naming ("recordId", camelCase columns, quoted table names)
// so the Go service can share a database with the existing Lambda handlers.
const Schema = `
CREATE TABLE IF NOT EXISTS "Tenant" (
	"recordId"  UUID PRIMARY KEY,
	"name"      TEXT NOT NULL,
	"subdomain" TEXT NOT NULL UNIQUE,
	"createdAt" TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	"updatedAt" TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS "User" (
	"recordId"   UUID PRIMARY KEY,
	"email"      TEXT NOT NULL UNIQUE,
	"cognitoSub" TEXT,
	"createdAt"  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	"updatedAt"  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS "Membership" (
	"recordId"  UUID PRIMARY KEY,
	"tenantId"  UUID NOT NULL REFERENCES "Tenant"("recordId"),
	"userId"    UUID NOT NULL REFERENCES "User"("recordId"),
	"role"      TEXT NOT NULL DEFAULT 'USER',
	"deletedAt" TIMESTAMPTZ,
	"createdAt" TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	"updatedAt" TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS "Booking" (
	"recordId"   UUID PRIMARY KEY,
	"tenantId"   UUID NOT NULL REFERENCES "Tenant"("recordId"),
	"petName"    TEXT NOT NULL,
	"ownerEmail" TEXT NOT NULL,
	"status"     TEXT NOT NULL DEFAULT 'REQUESTED',
	"startDate"  TIMESTAMPTZ NOT NULL,
	"endDate"    TIMESTAMPTZ NOT NULL,
	"createdAt"  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	"updatedAt"  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS "Booking_tenantId_createdAt_idx"
	ON "Booking" ("tenantId", "createdAt");

CREATE TABLE IF NOT EXISTS "WorkflowDefinition" (
	"recordId"  UUID PRIMARY KEY,
	"tenantId"  UUID NOT NULL REFERENCES "Tenant"("recordId"),
	"name"      TEXT NOT NULL,
	"status"    TEXT NOT NULL DEFAULT 'ACTIVE',
	"trigger"   JSONB NOT NULL,
	"steps"     JSONB NOT NULL,
	"createdAt" TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	"updatedAt" TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS "WorkflowExecution" (
	"recordId"        UUID PRIMARY KEY,
	"tenantId"        UUID NOT NULL REFERENCES "Tenant"("recordId"),
	"workflowId"      UUID NOT NULL REFERENCES "WorkflowDefinition"("recordId"),
	"entityId"        TEXT NOT NULL,
	"status"          TEXT NOT NULL DEFAULT 'PENDING',
	"currentStepId"   TEXT,
	"scheduledAt"     TIMESTAMPTZ,
	"lastProcessedAt" TIMESTAMPTZ,
	"attempts"        INT NOT NULL DEFAULT 0,
	"context"         JSONB NOT NULL DEFAULT '{}',
	"createdAt"       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	"updatedAt"       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE ("workflowId", "entityId")
);
CREATE INDEX IF NOT EXISTS "WorkflowExecution_claim_idx"
	ON "WorkflowExecution" ("status", "lastProcessedAt");
CREATE INDEX IF NOT EXISTS "WorkflowExecution_resume_idx"
	ON "WorkflowExecution" ("status", "scheduledAt");

CREATE TABLE IF NOT EXISTS "ScheduledJob" (
	"recordId"    UUID PRIMARY KEY,
	"tenantId"    UUID NOT NULL REFERENCES "Tenant"("recordId"),
	"jobType"     TEXT NOT NULL,
	"executionId" UUID REFERENCES "WorkflowExecution"("recordId") ON DELETE CASCADE,
	"workflowId"  UUID REFERENCES "WorkflowDefinition"("recordId") ON DELETE CASCADE,
	"runAt"       TIMESTAMPTZ NOT NULL,
	"createdAt"   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS "ScheduledJob_trigger_uniq"
	ON "ScheduledJob" ("workflowId") WHERE "jobType" = 'EVALUATE_TRIGGER';
CREATE INDEX IF NOT EXISTS "ScheduledJob_runAt_idx"
	ON "ScheduledJob" ("runAt");
`

// Migrate applies the schema. Safe to run repeatedly.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
