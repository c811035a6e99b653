package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"barkbase/backend/internal/repository"
	"barkbase/backend/pkg/models"
)

// ListWorkflows returns the tenant's workflow definitions.
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	ctx := c.Request().Context()
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	defs, err := s.Repo.ListWorkflowDefinitions(ctx, tenant)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, defs)
}

// CreateWorkflow creates a new workflow definition. Definitions are
// immutable once created; edits are expressed as new definitions so running
// executions keep the step graph they started with.
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	var def models.WorkflowDefinition
	if err := c.Bind(&def); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	def.ID = ""
	def.TenantID = tenant
	if def.Status == "" {
		def.Status = models.WorkflowStatusActive
	}
	if err := def.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.Repo.CreateWorkflowDefinition(ctx, &def); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save workflow: "+err.Error())
	}
	return c.JSON(http.StatusCreated, def)
}

// GetWorkflow returns one workflow definition.
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	def, err := s.Repo.GetWorkflowDefinition(ctx, tenant, c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Workflow not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, def)
}

type statusRequest struct {
	Status models.WorkflowStatus `json:"status"`
}

// SetWorkflowStatus pauses, resumes or archives a definition.
// (PUT /api/v1/workflows/:id/status)
func (s *Server) SetWorkflowStatus(c echo.Context) error {
	ctx := c.Request().Context()
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	switch req.Status {
	case models.WorkflowStatusActive, models.WorkflowStatusPaused, models.WorkflowStatusArchived:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "Unknown workflow status")
	}

	err = s.Repo.SetWorkflowStatus(ctx, tenant, c.Param("id"), req.Status)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Workflow not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// ListExecutions returns the tenant's executions, optionally filtered by
// status via the ?status= query parameter.
// (GET /api/v1/executions)
func (s *Server) ListExecutions(c echo.Context) error {
	ctx := c.Request().Context()
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	status := models.ExecutionStatus(c.QueryParam("status"))
	execs, err := s.Repo.ListExecutions(ctx, tenant, status)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, execs)
}

// CancelExecution cancels a non-terminal execution.
// (POST /api/v1/executions/:id/cancel)
func (s *Server) CancelExecution(c echo.Context) error {
	ctx := c.Request().Context()
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	id := c.Param("id")

	exec, err := s.Repo.GetExecution(ctx, tenant, id)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Execution not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	cancelled, err := s.Repo.CancelExecution(ctx, tenant, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !cancelled {
		return echo.NewHTTPError(http.StatusConflict, "Execution already in status "+string(exec.Status))
	}
	return c.NoContent(http.StatusNoContent)
}
