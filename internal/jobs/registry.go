package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the in-memory job store shared by the submitter-facing layer
// and the background executors. Every read-modify-write goes through the
// mutex; callers get value copies so they can never observe a half-written
// transition.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// Create allocates a fresh job in the queued state and returns a copy.
func (r *Registry) Create() Job {
	now := time.Now()
	job := &Job{
		ID:        uuid.New().String(),
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()
	return *job
}

// Get returns a copy of the job, or ErrJobNotFound.
func (r *Registry) Get(jobID string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

// MarkRunning moves a queued job to running. It happens exactly once per
// job; a job already past queued is left untouched.
func (r *Registry) MarkRunning(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok || job.Status != StatusQueued {
		return
	}
	job.Status = StatusRunning
	job.UpdatedAt = time.Now()
}

// MarkCompleted stores the result and sets the completed status. A job that
// already reached a terminal state is never rewritten.
func (r *Registry) MarkCompleted(jobID string, result *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok || job.Terminal() {
		return
	}
	job.Status = StatusCompleted
	job.Result = result
	job.Error = ""
	job.UpdatedAt = time.Now()
}

// MarkFailed records the failure message and sets the failed status. A job
// that already reached a terminal state is never rewritten.
func (r *Registry) MarkFailed(jobID string, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok || job.Terminal() {
		return
	}
	job.Status = StatusFailed
	job.Error = message
	job.Result = nil
	job.UpdatedAt = time.Now()
}
