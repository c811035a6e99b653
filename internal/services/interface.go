package services

import "context"

// Notification is one message handed to the external dispatcher.
type Notification struct {
	TenantID    string `json:"tenant_id"`
	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	Channel     string `json:"channel"`
	Recipient   string `json:"recipient"`
	Subject     string `json:"subject,omitempty"`
	Message     string `json:"message"`
}

// DedupeKey identifies the notification for at-most-once delivery on the
// dispatcher side. The surrounding worker loop only guarantees at-least-once
// invocation, so the key is execution+step.
func (n Notification) DedupeKey() string {
	return n.ExecutionID + ":" + n.StepID
}

// Notifier is the interface to the external notification dispatcher.
type Notifier interface {
	// Send delivers a notification, or returns a reportable error.
	Send(ctx context.Context, n Notification) error
}
