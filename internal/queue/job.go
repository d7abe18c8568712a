package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one unit of background work, usually a single pipeline event
type Job struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewJob creates a new job with a generated ID
func NewJob(jobType string, payload interface{}) *Job {
	return NewJobWithID(uuid.New().String(), jobType, payload)
}

// NewJobWithID creates a job whose ID is chosen by the caller
func NewJobWithID(id, jobType string, payload interface{}) *Job {
	return &Job{
		ID:        id,
		Type:      jobType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// JobHandler defines the interface for handling jobs
type JobHandler interface {
	Handle(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to JobHandler
type HandlerFunc func(ctx context.Context, job *Job) error

// Handle calls f(ctx, job)
func (f HandlerFunc) Handle(ctx context.Context, job *Job) error {
	return f(ctx, job)
}
