package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"barkbase/backend/internal/repository"
	"barkbase/backend/internal/services"
	"barkbase/backend/pkg/models"

	"github.com/google/uuid"
)

// memStore is an in-memory Store with the same guard semantics as the
// Postgres implementation: every transition is conditional and reports
// whether the guard matched.
type memStore struct {
	mu       sync.Mutex
	defs     map[string]*models.WorkflowDefinition
	bookings []*models.Booking
	execs    map[string]*models.WorkflowExecution
	jobs     map[string]*models.ScheduledJob
	seq      int
}

func newMemStore() *memStore {
	return &memStore{
		defs:  make(map[string]*models.WorkflowDefinition),
		execs: make(map[string]*models.WorkflowExecution),
		jobs:  make(map[string]*models.ScheduledJob),
	}
}

func (m *memStore) addDefinition(def *models.WorkflowDefinition) *models.WorkflowDefinition {
	m.mu.Lock()
	defer m.mu.Unlock()
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	def.CreatedAt = time.Now()
	m.defs[def.ID] = def
	return def
}

func (m *memStore) addBooking(b *models.Booking) *models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	m.bookings = append(m.bookings, b)
	return b
}

func (m *memStore) addExecution(exec *models.WorkflowExecution) *models.WorkflowExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertExecution(exec)
	return exec
}

func (m *memStore) insertExecution(exec *models.WorkflowExecution) {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.Status == "" {
		exec.Status = models.ExecutionStatusPending
	}
	if exec.Context == nil {
		exec.Context = map[string]any{}
	}
	m.seq++
	exec.CreatedAt = time.Now().Add(time.Duration(m.seq) * time.Microsecond)
	m.execs[exec.ID] = exec
}

func (m *memStore) getExec(id string) *models.WorkflowExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.execs[id]
}

func (m *memStore) jobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *memStore) jobList() []*models.ScheduledJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.ScheduledJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out
}

func copyExec(e *models.WorkflowExecution) *models.WorkflowExecution {
	c := *e
	c.Context = make(map[string]any, len(e.Context))
	for k, v := range e.Context {
		c.Context[k] = v
	}
	if e.CurrentStepID != nil {
		s := *e.CurrentStepID
		c.CurrentStepID = &s
	}
	if e.ScheduledAt != nil {
		t := *e.ScheduledAt
		c.ScheduledAt = &t
	}
	if e.LastProcessedAt != nil {
		t := *e.LastProcessedAt
		c.LastProcessedAt = &t
	}
	return &c
}

func (m *memStore) GetWorkflowDefinition(ctx context.Context, tenantID, id string) (*models.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.defs[id]
	if !ok || def.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	return def, nil
}

func (m *memStore) ListActiveWorkflowDefinitions(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WorkflowDefinition
	for _, def := range m.defs {
		if def.Status == models.WorkflowStatusActive {
			out = append(out, def)
		}
	}
	return out, nil
}

func (m *memStore) FindBookingsCreatedSince(ctx context.Context, tenantID string, since time.Time, filter map[string]string) ([]*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Booking
	for _, b := range m.bookings {
		if b.TenantID != tenantID || b.CreatedAt.Before(since) {
			continue
		}
		if v, ok := filter["status"]; ok && v != string(b.Status) {
			continue
		}
		if v, ok := filter["pet_name"]; ok && v != b.PetName {
			continue
		}
		if v, ok := filter["owner_email"]; ok && v != b.OwnerEmail {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *memStore) GetExecution(ctx context.Context, tenantID, id string) (*models.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok || e.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	return copyExec(e), nil
}

func (m *memStore) CreateExecution(ctx context.Context, exec *models.WorkflowExecution) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.execs {
		if e.WorkflowID == exec.WorkflowID && e.EntityID == exec.EntityID {
			return false, nil
		}
	}
	m.insertExecution(exec)
	return true, nil
}

func (m *memStore) StartExecution(ctx context.Context, tenantID, id, entryStepID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok || e.TenantID != tenantID || e.Status != models.ExecutionStatusPending {
		return false, nil
	}
	e.Status = models.ExecutionStatusRunning
	e.CurrentStepID = &entryStepID
	return true, nil
}

func (m *memStore) AdvanceExecution(ctx context.Context, tenantID, id, fromStepID, toStepID string, execContext map[string]any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok || e.TenantID != tenantID || e.Status != models.ExecutionStatusRunning ||
		e.CurrentStepID == nil || *e.CurrentStepID != fromStepID {
		return false, nil
	}
	e.CurrentStepID = &toStepID
	e.Attempts = 0
	e.Context = execContext
	return true, nil
}

func (m *memStore) MarkExecutionWaiting(ctx context.Context, tenantID, id, stepID string, resumeAt time.Time, execContext map[string]any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok || e.TenantID != tenantID || e.Status != models.ExecutionStatusRunning ||
		e.CurrentStepID == nil || *e.CurrentStepID != stepID {
		return false, nil
	}
	e.Status = models.ExecutionStatusWaiting
	e.ScheduledAt = &resumeAt
	e.Context = execContext
	return true, nil
}

func (m *memStore) FinishExecution(ctx context.Context, tenantID, id string, status models.ExecutionStatus, execContext map[string]any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok || e.TenantID != tenantID || e.Status.Terminal() {
		return false, nil
	}
	e.Status = status
	e.CurrentStepID = nil
	e.ScheduledAt = nil
	e.Context = execContext
	return true, nil
}

func (m *memStore) IncrementExecutionAttempts(ctx context.Context, tenantID, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok || e.TenantID != tenantID {
		return 0, repository.ErrNotFound
	}
	e.Attempts++
	return e.Attempts, nil
}

func (m *memStore) ClaimDueExecutions(ctx context.Context, window time.Duration, limit int) ([]*models.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-window)
	var out []*models.WorkflowExecution
	for _, e := range m.execs {
		if len(out) >= limit {
			break
		}
		if e.Status != models.ExecutionStatusPending && e.Status != models.ExecutionStatusRunning {
			continue
		}
		if e.LastProcessedAt != nil && !e.LastProcessedAt.Before(cutoff) {
			continue
		}
		now := time.Now()
		e.LastProcessedAt = &now
		out = append(out, copyExec(e))
	}
	return out, nil
}

func (m *memStore) ResumeDueExecutions(ctx context.Context, limit int) ([]*models.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []*models.WorkflowExecution
	for _, e := range m.execs {
		if len(out) >= limit {
			break
		}
		if e.Status != models.ExecutionStatusWaiting || e.ScheduledAt == nil || e.ScheduledAt.After(now) {
			continue
		}
		e.Status = models.ExecutionStatusRunning
		e.ScheduledAt = nil
		e.LastProcessedAt = &now
		out = append(out, copyExec(e))
	}
	return out, nil
}

func (m *memStore) ResumeExecution(ctx context.Context, tenantID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok || e.TenantID != tenantID || e.Status != models.ExecutionStatusWaiting {
		return false, nil
	}
	if e.ScheduledAt != nil && e.ScheduledAt.After(time.Now()) {
		return false, nil
	}
	e.Status = models.ExecutionStatusRunning
	e.ScheduledAt = nil
	return true, nil
}

func (m *memStore) CreateScheduledJob(ctx context.Context, job *models.ScheduledJob) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.Type == models.JobTypeEvaluateTrigger && job.WorkflowID != nil {
		for _, j := range m.jobs {
			if j.Type == models.JobTypeEvaluateTrigger && j.WorkflowID != nil && *j.WorkflowID == *job.WorkflowID {
				return false, nil
			}
		}
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	m.seq++
	job.CreatedAt = time.Now().Add(time.Duration(m.seq) * time.Microsecond)
	m.jobs[job.ID] = job
	return true, nil
}

func (m *memStore) DueScheduledJobs(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ScheduledJob
	for _, j := range m.jobs {
		if len(out) >= limit {
			break
		}
		if !j.RunAt.After(now) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memStore) DeleteScheduledJob(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

var _ Store = (*memStore)(nil)

// recordingNotifier counts deliveries and can be told to fail the first N
// sends.
type recordingNotifier struct {
	mu        sync.Mutex
	sent      []services.Notification
	failTimes int
}

func (n *recordingNotifier) Send(ctx context.Context, notification services.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failTimes > 0 {
		n.failTimes--
		return fmt.Errorf("dispatcher unavailable")
	}
	n.sent = append(n.sent, notification)
	return nil
}

func (n *recordingNotifier) sentCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}
