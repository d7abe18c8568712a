// Package queue runs pipeline events in the background on a fixed set of
// workers fed by a bounded channel.
package queue

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/logging"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/metrics"
)

var (
	// ErrQueueFull is returned by Submit when every slot of the buffer is taken
	ErrQueueFull = stderrors.New("queue is full")
	// ErrPoolStopped is returned by Submit when the pool is not running
	ErrPoolStopped = stderrors.New("worker pool is not running")
)

// WorkerPoolConfig contains worker pool configuration
type WorkerPoolConfig struct {
	NumWorkers      int           `json:"num_workers"`
	QueueSize       int           `json:"queue_size"`
	JobTimeout      time.Duration `json:"job_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DefaultWorkerPoolConfig returns default worker pool configuration
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		NumWorkers:      5,
		QueueSize:       100,
		JobTimeout:      10 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// WorkerPoolStats contains worker pool statistics
type WorkerPoolStats struct {
	Workers   int       `json:"workers"`
	Capacity  int       `json:"capacity"`
	Queued    int       `json:"queued"`
	Active    int64     `json:"active"`
	Submitted int64     `json:"submitted"`
	Rejected  int64     `json:"rejected"`
	Succeeded int64     `json:"succeeded"`
	Failed    int64     `json:"failed"`
	Panics    int64     `json:"panics"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// WorkerPool runs submitted jobs on NumWorkers goroutines
type WorkerPool struct {
	config   WorkerPoolConfig
	handlers map[string]JobHandler
	jobs     chan *Job
	wg       sync.WaitGroup

	mu        sync.RWMutex
	running   bool
	startedAt time.Time

	active    int64
	submitted int64
	rejected  int64
	succeeded int64
	failed    int64
	panics    int64

	metrics *metrics.Metrics
	logger  *logging.Logger
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(config WorkerPoolConfig, m *metrics.Metrics) *WorkerPool {
	defaults := DefaultWorkerPoolConfig()
	if config.NumWorkers <= 0 {
		config.NumWorkers = defaults.NumWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	return &WorkerPool{
		config:   config,
		handlers: make(map[string]JobHandler),
		jobs:     make(chan *Job, config.QueueSize),
		metrics:  m,
		logger:   logging.GetLogger(),
	}
}

// RegisterHandler registers the handler for a job type
func (p *WorkerPool) RegisterHandler(jobType string, handler JobHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[jobType] = handler
}

// Start starts the workers. They keep running until Stop is called.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.NewValidationError("worker pool is already running")
	}
	p.running = true
	p.startedAt = time.Now()

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go func(workerNum int) {
			defer p.wg.Done()
			p.workerLoop(fmt.Sprintf("worker-%d", workerNum))
		}(i)
	}

	p.logger.Info("Worker pool started",
		"workers", p.config.NumWorkers,
		"queue_size", p.config.QueueSize,
	)
	return nil
}

// Submit queues a job without blocking
func (p *WorkerPool) Submit(job *Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		return ErrPoolStopped
	}

	select {
	case p.jobs <- job:
		atomic.AddInt64(&p.submitted, 1)
		p.metrics.SetQueueDepth(len(p.jobs))
		return nil
	default:
		atomic.AddInt64(&p.rejected, 1)
		p.logger.Warn("Queue is full, rejecting job",
			"job_id", job.ID,
			"job_type", job.Type,
			"capacity", p.config.QueueSize,
		)
		return ErrQueueFull
	}
}

// Stop stops accepting jobs and waits for queued and running jobs to finish,
// up to the shutdown timeout or until ctx is done.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return errors.NewValidationError("worker pool is not running")
	}
	p.running = false
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		p.logger.Info("Worker pool stopped")
		return nil
	case <-timer.C:
		return errors.NewInternalError("worker pool shutdown timed out")
	case <-ctx.Done():
		return errors.NewInternalError("worker pool shutdown interrupted").WithCause(ctx.Err())
	}
}

// IsRunning returns whether the worker pool is running
func (p *WorkerPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// GetStats returns a snapshot of the pool counters
func (p *WorkerPool) GetStats() WorkerPoolStats {
	p.mu.RLock()
	running, startedAt := p.running, p.startedAt
	p.mu.RUnlock()

	return WorkerPoolStats{
		Workers:   p.config.NumWorkers,
		Capacity:  p.config.QueueSize,
		Queued:    len(p.jobs),
		Active:    atomic.LoadInt64(&p.active),
		Submitted: atomic.LoadInt64(&p.submitted),
		Rejected:  atomic.LoadInt64(&p.rejected),
		Succeeded: atomic.LoadInt64(&p.succeeded),
		Failed:    atomic.LoadInt64(&p.failed),
		Panics:    atomic.LoadInt64(&p.panics),
		Running:   running,
		StartedAt: startedAt,
	}
}

func (p *WorkerPool) workerLoop(workerID string) {
	for job := range p.jobs {
		p.metrics.SetQueueDepth(len(p.jobs))
		p.processJob(workerID, job)
	}
}

// processJob runs one job. The handler gets its own background context,
// bounded only by JobTimeout, so nothing upstream can cancel it once accepted.
func (p *WorkerPool) processJob(workerID string, job *Job) {
	atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)

	ctx, cancel := context.WithTimeout(logging.WithEventID(context.Background(), job.ID), p.config.JobTimeout)
	defer cancel()

	p.mu.RLock()
	handler, exists := p.handlers[job.Type]
	p.mu.RUnlock()

	if !exists {
		atomic.AddInt64(&p.failed, 1)
		p.logger.Error("No handler found for job type",
			"job_id", job.ID,
			"job_type", job.Type,
			"worker_id", workerID,
		)
		return
	}

	if err := p.safeHandle(ctx, handler, job); err != nil {
		atomic.AddInt64(&p.failed, 1)
		p.logger.WithContext(ctx).WithError(err).WithField("worker_id", workerID).Warn("Job failed")
		return
	}
	atomic.AddInt64(&p.succeeded, 1)
}

func (p *WorkerPool) safeHandle(ctx context.Context, handler JobHandler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&p.panics, 1)
			p.metrics.RecordPanic("queue")
			p.logger.LogPanic(ctx, r, "Job handler panicked")
			err = errors.NewInternalError(fmt.Sprintf("job handler panicked: %v", r))
		}
	}()

	return handler.Handle(ctx, job)
}
