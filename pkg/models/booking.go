package models

import (
	"time"
)

// BookingStatus represents the lifecycle state of a booking.
type BookingStatus string

const (
	BookingStatusRequested BookingStatus = "REQUESTED"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCheckedIn BookingStatus = "CHECKED_IN"
	BookingStatusCompleted BookingStatus = "COMPLETED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

// Booking is a reservation of a kennel slot for one pet. Bookings are the
// primary event source watched by workflow triggers.
type Booking struct {
	ID         string        `json:"id"`
	TenantID   string        `json:"tenant_id"`
	PetName    string        `json:"pet_name"`
	OwnerEmail string        `json:"owner_email"`
	Status     BookingStatus `json:"status"`
	StartDate  time.Time     `json:"start_date"`
	EndDate    time.Time     `json:"end_date"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}
