package models

import (
	"fmt"
	"time"
)

// WorkflowStatus represents whether a definition is eligible for triggering.
type WorkflowStatus string

const (
	WorkflowStatusActive   WorkflowStatus = "ACTIVE"
	WorkflowStatusPaused   WorkflowStatus = "PAUSED"
	WorkflowStatusArchived WorkflowStatus = "ARCHIVED"
)

// TriggerType distinguishes how a workflow is started.
type TriggerType string

const (
	// TriggerTypeEvent starts an execution when a matching entity appears
	// (e.g. a booking is created).
	TriggerTypeEvent TriggerType = "event"
	// TriggerTypeSchedule starts an execution on a fixed interval.
	TriggerTypeSchedule TriggerType = "schedule"
)

// Known event names for event triggers.
const (
	EventBookingCreated = "booking.created"
)

// ActionType identifies what a step does when processed.
type ActionType string

const (
	// ActionNotify sends a message through the notification dispatcher.
	ActionNotify ActionType = "notify"
	// ActionWait pauses the execution for a number of seconds.
	ActionWait ActionType = "wait"
	// ActionBranch picks the next step by comparing a context field.
	ActionBranch ActionType = "branch"
	// ActionSet writes a value into the execution context.
	ActionSet ActionType = "set"
)

// TriggerSpec describes the condition that starts new executions of a
// workflow definition.
type TriggerSpec struct {
	Type            TriggerType       `json:"type"`
	Event           string            `json:"event,omitempty"`
	IntervalSeconds int               `json:"interval_seconds,omitempty"`
	Filter          map[string]string `json:"filter,omitempty"`
}

// StepSpec is one unit of action within a workflow definition. An empty Next
// marks the step as terminal. Branch steps carry their targets in Params
// ("then"/"else") and fall back to Next when a target is empty.
type StepSpec struct {
	ID     string         `json:"id"`
	Action ActionType     `json:"action"`
	Params map[string]any `json:"params,omitempty"`
	Next   string         `json:"next,omitempty"`
}

// WorkflowDefinition is a tenant-owned template describing a trigger and an
// ordered set of steps. Definitions are treated as immutable once referenced
// by executions; edits through the API create a new definition row.
type WorkflowDefinition struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Name      string         `json:"name"`
	Status    WorkflowStatus `json:"status"`
	Trigger   TriggerSpec    `json:"trigger"`
	Steps     []StepSpec     `json:"steps"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// EntryStep returns the first step of the definition, or nil if it has none.
func (d *WorkflowDefinition) EntryStep() *StepSpec {
	if len(d.Steps) == 0 {
		return nil
	}
	return &d.Steps[0]
}

// Step returns the step with the given id, or nil if absent.
func (d *WorkflowDefinition) Step(id string) *StepSpec {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// Validate checks that the definition's step graph is well formed: at least
// one step, unique step ids, every next reference resolving to a defined
// step, and a recognized trigger.
func (d *WorkflowDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	switch d.Trigger.Type {
	case TriggerTypeEvent:
		if d.Trigger.Event == "" {
			return fmt.Errorf("event trigger requires an event name")
		}
	case TriggerTypeSchedule:
		if d.Trigger.IntervalSeconds <= 0 {
			return fmt.Errorf("schedule trigger requires a positive interval")
		}
	default:
		return fmt.Errorf("unknown trigger type %q", d.Trigger.Type)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow must define at least one step")
	}
	ids := make(map[string]bool, len(d.Steps))
	for i := range d.Steps {
		s := &d.Steps[i]
		if s.ID == "" {
			return fmt.Errorf("step %d is missing an id", i)
		}
		if ids[s.ID] {
			return fmt.Errorf("duplicate step id %q", s.ID)
		}
		ids[s.ID] = true
		switch s.Action {
		case ActionNotify, ActionWait, ActionBranch, ActionSet:
		default:
			return fmt.Errorf("step %q has unknown action %q", s.ID, s.Action)
		}
	}
	for i := range d.Steps {
		s := &d.Steps[i]
		for _, ref := range s.nextRefs() {
			if ref != "" && !ids[ref] {
				return fmt.Errorf("step %q references undefined step %q", s.ID, ref)
			}
		}
	}
	return nil
}

// nextRefs lists every step id this step may advance to.
func (s *StepSpec) nextRefs() []string {
	refs := []string{s.Next}
	if s.Action == ActionBranch {
		for _, key := range []string{"then", "else"} {
			if v, ok := s.Params[key].(string); ok {
				refs = append(refs, v)
			}
		}
	}
	return refs
}
