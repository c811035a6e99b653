package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"barkbase/backend/pkg/models"
)

// ListBookings returns the tenant's bookings, newest first.
// (GET /api/v1/bookings)
func (s *Server) ListBookings(c echo.Context) error {
	ctx := c.Request().Context()
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	bookings, err := s.Repo.ListBookings(ctx, tenant)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, bookings)
}

// CreateBooking creates a booking. Newly created bookings are what event
// triggers watch, so this is also the easiest way to kick off a workflow.
// (POST /api/v1/bookings)
func (s *Server) CreateBooking(c echo.Context) error {
	ctx := c.Request().Context()
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	var booking models.Booking
	if err := c.Bind(&booking); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	booking.ID = ""
	booking.TenantID = tenant
	if booking.PetName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "pet_name is required")
	}
	if booking.OwnerEmail == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "owner_email is required")
	}
	if booking.StartDate.IsZero() {
		booking.StartDate = time.Now()
	}
	if booking.EndDate.IsZero() {
		booking.EndDate = booking.StartDate.Add(24 * time.Hour)
	}

	if err := s.Repo.CreateBooking(ctx, &booking); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save booking: "+err.Error())
	}
	return c.JSON(http.StatusCreated, booking)
}
