package jobs

import (
	"errors"
	"time"
)

// Job status constants. A job moves queued -> running -> exactly one of
// completed or failed; the terminal status is immutable once set.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrJobNotFound is returned when a job id is unknown to the registry.
var ErrJobNotFound = errors.New("job not found")

// Result is the payload stored for a completed job.
type Result struct {
	StoryText  string            `json:"story_text"`
	GraphNodes int               `json:"graph_nodes"`
	Chunks     map[string]string `json:"chunks"`
}

// Job tracks one end-to-end pipeline execution. Exactly one of Result and
// Error is set once the job reaches a terminal status, never both.
type Job struct {
	ID        string    `json:"task_id"`
	Status    string    `json:"status"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the job has finished, successfully or not.
func (j Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}
