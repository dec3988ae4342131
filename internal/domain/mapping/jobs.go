package mapping

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Job tracks one background generation run.
type Job struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	SourceSystem string          `json:"source_system"`
	TargetSystem string          `json:"target_system"`
	Threshold    float64         `json:"threshold"`
	Report       *GenerateReport `json:"report,omitempty"`
	Error        string          `json:"error,omitempty"`
	StartedBy    string          `json:"started_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

func copyJob(j *Job) *Job {
	cp := *j
	if j.Report != nil {
		r := *j.Report
		cp.Report = &r
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

// maxFinishedJobs bounds how many terminal jobs stay queryable; the
// oldest finished ones are evicted first. Queued and running jobs are
// never evicted.
const maxFinishedJobs = 100

// JobManager tracks generation runs and lets callers cancel ones that
// have not finished.
type JobManager struct {
	mu          sync.Mutex
	jobs        map[string]*Job
	cancelFns   map[string]context.CancelFunc
	finished    []string
	maxFinished int
}

func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		cancelFns:   make(map[string]context.CancelFunc),
		maxFinished: maxFinishedJobs,
	}
}

// Start registers a queued job and returns it together with the context
// the run must observe.
func (m *JobManager) Start(sourceSystem, targetSystem string, threshold float64, actor string) (*Job, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:           uuid.New().String(),
		Status:       JobQueued,
		SourceSystem: sourceSystem,
		TargetSystem: targetSystem,
		Threshold:    threshold,
		StartedBy:    actor,
		CreatedAt:    time.Now().UTC(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.cancelFns[job.ID] = cancel
	m.mu.Unlock()

	return copyJob(job), ctx
}

func (m *JobManager) MarkRunning(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok && job.Status == JobQueued {
		job.Status = JobRunning
	}
}

func (m *JobManager) finish(id, status string, report *GenerateReport, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status == JobCancelled {
		return
	}
	now := time.Now().UTC()
	job.Status = status
	job.Report = report
	job.Error = errMsg
	job.FinishedAt = &now
	if cancel, ok := m.cancelFns[id]; ok {
		cancel()
		delete(m.cancelFns, id)
	}
	m.retire(id)
}

// retire records a terminal job and evicts the oldest finished ones
// beyond the retention cap. Caller holds m.mu.
func (m *JobManager) retire(id string) {
	m.finished = append(m.finished, id)
	for len(m.finished) > m.maxFinished {
		evict := m.finished[0]
		m.finished = m.finished[1:]
		delete(m.jobs, evict)
	}
}

func (m *JobManager) Complete(id string, report *GenerateReport) {
	m.finish(id, JobCompleted, report, "")
}

func (m *JobManager) Fail(id string, err error) {
	m.finish(id, JobFailed, nil, err.Error())
}

// Cancel aborts a job that has not reached a terminal state. The run's
// context is cancelled, so nothing is persisted after this returns.
func (m *JobManager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("generation job %s not found", id)
	}
	if job.Status == JobCompleted || job.Status == JobFailed || job.Status == JobCancelled {
		return fmt.Errorf("cannot cancel job %s in status %q", id, job.Status)
	}
	if cancel, ok := m.cancelFns[id]; ok {
		cancel()
		delete(m.cancelFns, id)
	}
	now := time.Now().UTC()
	job.Status = JobCancelled
	job.FinishedAt = &now
	m.retire(id)
	return nil
}

func (m *JobManager) Get(id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("generation job %s not found", id)
	}
	return copyJob(job), nil
}

func (m *JobManager) List() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, copyJob(job))
	}
	return out
}
