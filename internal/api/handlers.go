// Package api contains the HTTP handlers for the BarkBase backend.
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"barkbase/backend/internal/auth"
	"barkbase/backend/internal/logging"
	"barkbase/backend/internal/repository"
)

// Server holds the dependencies for the API handlers.
type Server struct {
	Repo   repository.Repository
	Logger *logging.Logger
}

// NewServer creates a new Server.
func NewServer(repo repository.Repository, logger *logging.Logger) *Server {
	return &Server{Repo: repo, Logger: logger}
}

// Register mounts the tenant-scoped API routes on the given group. The group
// is expected to run the auth middleware, which injects the tenant id.
func Register(g *echo.Group, s *Server) {
	g.GET("/workflows", s.ListWorkflows)
	g.POST("/workflows", s.CreateWorkflow)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.PUT("/workflows/:id/status", s.SetWorkflowStatus)
	g.GET("/executions", s.ListExecutions)
	g.POST("/executions/:id/cancel", s.CancelExecution)
	g.GET("/bookings", s.ListBookings)
	g.POST("/bookings", s.CreateBooking)
}

// HealthStatus is the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// Health returns basic health status (always 200 OK).
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "barkbase-backend",
		Version:   "1.0.0",
	})
}

// tenantID pulls the authenticated tenant out of the request context, or
// fails the request when the middleware did not run.
func tenantID(c echo.Context) (string, error) {
	id := auth.TenantID(c.Request().Context())
	if id == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "Tenant ID not found in context")
	}
	return id, nil
}
