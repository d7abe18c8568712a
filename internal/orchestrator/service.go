// Package orchestrator runs the processing state machine for one pipeline
// event: filter, fetch logs, extract error context, deliver.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/delivery"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/extractor"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/queue"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/stats"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/config"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/logging"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/metrics"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/tracing"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/types"
)

// Config contains orchestration configuration
type Config struct {
	SinkMode string
	Filters  config.FilterConfig
	// SaveSkipped persists metadata of filtered-out events to the file sink
	SaveSkipped bool
}

// Dependencies are the collaborators of the orchestrator. Nil GitLab or
// Jenkins sources disable that provider; API and Files are required by the
// sink modes that use them.
type Dependencies struct {
	GitLab    GitLabSource
	Jenkins   JenkinsSource
	API       APIDelivery
	Files     FileStore
	Extractor *extractor.Extractor
	Recorder  stats.Recorder
	Metrics   *metrics.Metrics
	Tracing   *tracing.TracingService
}

// Service processes pipeline events
type Service struct {
	config    Config
	filters   Filters
	gitlab    GitLabSource
	jenkins   JenkinsSource
	api       APIDelivery
	files     FileStore
	extractor *extractor.Extractor
	recorder  stats.Recorder
	metrics   *metrics.Metrics
	tracing   *tracing.TracingService
	logger    *logging.Logger
	now       func() time.Time
}

// NewService creates a new orchestration service
func NewService(cfg Config, deps Dependencies) *Service {
	if cfg.SinkMode == "" {
		cfg.SinkMode = config.SinkModeFile
	}
	if deps.Extractor == nil {
		deps.Extractor = extractor.New(extractor.DefaultConfig())
	}
	if deps.Recorder == nil {
		deps.Recorder = stats.NewMemoryRecorder()
	}
	if deps.Tracing == nil {
		// a disabled tracing service never fails to build
		deps.Tracing, _ = tracing.NewTracingService(nil)
	}

	return &Service{
		config:    cfg,
		filters:   NewFilters(cfg.Filters),
		gitlab:    deps.GitLab,
		jenkins:   deps.Jenkins,
		api:       deps.API,
		files:     deps.Files,
		extractor: deps.Extractor,
		recorder:  deps.Recorder,
		metrics:   deps.Metrics,
		tracing:   deps.Tracing,
		logger:    logging.GetLogger(),
		now:       time.Now,
	}
}

// Recorder returns the statistics collaborator
func (s *Service) Recorder() stats.Recorder {
	return s.recorder
}

// Accept records the event as received. Call before submitting it.
func (s *Service) Accept(ctx context.Context, task Task) error {
	return s.recorder.RecordReceived(ctx, task.EventID, task.Event, task.ReceivedAt)
}

// Reject records a terminal failure for an event that was received but
// could not be queued
func (s *Service) Reject(ctx context.Context, task Task, reason error) {
	outcome := s.newRun(task).finish(types.EventStatusFailed, reason)
	s.record(ctx, outcome)
}

// Handle implements queue.JobHandler
func (s *Service) Handle(ctx context.Context, job *queue.Job) error {
	task, ok := job.Payload.(Task)
	if !ok {
		return errors.NewValidationError(fmt.Sprintf("unexpected payload %T", job.Payload))
	}

	outcome := s.Process(ctx, task)
	if outcome.Status == types.EventStatusFailed {
		return errors.NewInternalError(outcome.Error)
	}
	return nil
}

// Process runs the state machine for one event and returns its terminal
// outcome. The outcome is always handed to the recorder, even on panic.
func (s *Service) Process(ctx context.Context, task Task) (outcome types.EventOutcome) {
	r := s.newRun(task)
	ctx = logging.WithEventID(ctx, task.EventID)
	ctx, span := s.tracing.StartEventSpan(ctx, string(task.Event.Provider), task.EventID, projectName(task.Event), task.Event.ID)
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			s.metrics.RecordPanic("orchestrator")
			s.logger.LogPanic(ctx, rec, "Event processing panicked")
			outcome = r.finish(types.EventStatusFailed, fmt.Errorf("panic: %v", rec))
		}
		if outcome.Status == types.EventStatusFailed {
			s.tracing.RecordError(span, fmt.Errorf("%s", outcome.Error))
		}
		s.record(ctx, outcome)
	}()

	if ok, reason := s.filters.Event(task.Event); !ok {
		s.skip(ctx, r, reason)
		return r.finish(types.EventStatusSkipped, nil)
	}

	var (
		result *collected
		err    error
	)
	switch task.Event.Provider {
	case types.ProviderGitLab:
		result, err = s.collectGitLab(ctx, r)
	case types.ProviderJenkins:
		result, err = s.collectJenkins(ctx, r)
	default:
		err = errors.NewValidationError(fmt.Sprintf("unknown provider %q", task.Event.Provider))
	}
	if err != nil {
		return r.finish(types.EventStatusFailed, err)
	}

	r.transition(ctx, types.EventStatusDelivering)
	if err := s.deliver(ctx, r, result); err != nil {
		return r.finish(types.EventStatusFailed, err)
	}
	return r.finish(types.EventStatusCompleted, nil)
}

// collected is what a provider flow hands to delivery
type collected struct {
	bundle  delivery.Bundle
	request *types.AnalysisRequest
}

func (s *Service) skip(ctx context.Context, r *run, reason string) {
	r.transition(ctx, types.EventStatusSkipped)
	s.logger.WithContext(ctx).WithField("reason", reason).Info("Event filtered out")

	if !s.config.SaveSkipped || s.files == nil {
		return
	}
	_, attempt := s.files.Save(ctx, delivery.Bundle{
		EventID:      r.task.EventID,
		Event:        r.event,
		Status:       types.EventStatusSkipped,
		MetadataOnly: true,
	})
	r.addAttempts(attempt)
}

// deliver routes the result to the configured sinks
func (s *Service) deliver(ctx context.Context, r *run, result *collected) error {
	result.bundle.EventID = r.task.EventID
	result.bundle.Event = r.event
	result.bundle.Status = types.EventStatusCompleted
	result.bundle.SuccessCount = r.successCount
	result.bundle.ErrorCount = r.errorCount

	switch s.config.SinkMode {
	case config.SinkModeFile:
		return s.saveFiles(ctx, r, result.bundle)

	case config.SinkModeAPI:
		_, err := s.postAPI(ctx, r, result.request)
		return err

	case config.SinkModeAPIWithFallback:
		if _, err := s.postAPI(ctx, r, result.request); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("Analysis API delivery failed, falling back to file sink")
			if fileErr := s.saveFiles(ctx, r, result.bundle); fileErr != nil {
				return errors.NewInternalError(fmt.Sprintf("api delivery failed (%v) and file fallback failed", err)).WithCause(fileErr)
			}
		}
		return nil

	case config.SinkModeDual:
		resp, apiErr := s.postAPI(ctx, r, result.request)
		fileErr := s.saveFiles(ctx, r, result.bundle)
		if apiErr != nil && fileErr != nil {
			return errors.NewInternalError(fmt.Sprintf("api delivery failed (%v) and file sink failed", apiErr)).WithCause(fileErr)
		}
		if apiErr == nil && fileErr == nil {
			if err := s.files.SaveAnalysis(r.event, resp); err != nil {
				s.logger.WithContext(ctx).WithError(err).Warn("Failed to save analysis response")
			}
		}
		return nil

	default:
		return errors.NewValidationError(fmt.Sprintf("unknown sink mode %q", s.config.SinkMode))
	}
}

func (s *Service) postAPI(ctx context.Context, r *run, req *types.AnalysisRequest) (*types.AnalysisResponse, error) {
	if s.api == nil {
		return nil, errors.NewValidationError("analysis API sink is not configured")
	}

	ctx, span := s.tracing.StartDeliverySpan(ctx, types.SinkAPI)
	defer span.End()

	resp, attempts, err := s.api.Deliver(ctx, req)
	r.addAttempts(attempts...)
	for _, a := range attempts {
		s.metrics.RecordDelivery(a.Sink, a.Outcome, a.Duration)
	}
	if err != nil {
		s.tracing.RecordError(span, err)
	}
	return resp, err
}

func (s *Service) saveFiles(ctx context.Context, r *run, bundle delivery.Bundle) error {
	if s.files == nil {
		return errors.NewValidationError("file sink is not configured")
	}

	ctx, span := s.tracing.StartDeliverySpan(ctx, types.SinkFile)
	defer span.End()

	_, attempt := s.files.Save(ctx, bundle)
	r.addAttempts(attempt)
	s.metrics.RecordDelivery(attempt.Sink, attempt.Outcome, attempt.Duration)
	if attempt.Outcome != types.OutcomeSuccess {
		err := errors.NewInternalError("file sink write failed: " + attempt.Error)
		s.tracing.RecordError(span, err)
		return err
	}
	return nil
}

func (s *Service) record(ctx context.Context, outcome types.EventOutcome) {
	s.metrics.RecordEvent(string(outcome.Provider), string(outcome.Status), outcome.CompletedAt.Sub(outcome.ReceivedAt))

	s.logger.LogPipelineEvent(ctx, "finished", string(outcome.Provider), outcome.Project, outcome.PipelineID, logrus.Fields{
		"status":        outcome.Status,
		"success_count": outcome.SuccessCount,
		"error_count":   outcome.ErrorCount,
		"attempts":      len(outcome.Attempts),
		"error":         outcome.Error,
	})

	if err := s.recorder.RecordOutcome(ctx, outcome); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to record event outcome")
	}
}

// run tracks one pass through the state machine
type run struct {
	task         Task
	event        types.PipelineEvent
	status       types.EventStatus
	successCount int
	errorCount   int
	attempts     []types.DeliveryAttempt
	service      *Service
}

func (s *Service) newRun(task Task) *run {
	return &run{
		task:    task,
		event:   task.Event,
		status:  types.EventStatusReceived,
		service: s,
	}
}

func (r *run) transition(ctx context.Context, status types.EventStatus) {
	r.service.logger.LogPipelineEvent(ctx, "transition", string(r.event.Provider), projectName(r.event), r.event.ID, logrus.Fields{
		"from": r.status,
		"to":   status,
	})
	r.status = status
}

func (r *run) addAttempts(attempts ...types.DeliveryAttempt) {
	r.attempts = append(r.attempts, attempts...)
}

func (r *run) finish(status types.EventStatus, err error) types.EventOutcome {
	r.status = status
	outcome := types.EventOutcome{
		EventID:      r.task.EventID,
		Provider:     r.event.Provider,
		Project:      projectName(r.event),
		PipelineID:   r.event.ID,
		Status:       status,
		SuccessCount: r.successCount,
		ErrorCount:   r.errorCount,
		Attempts:     r.attempts,
		ReceivedAt:   r.task.ReceivedAt,
		CompletedAt:  r.service.now(),
	}
	if outcome.ReceivedAt.IsZero() {
		outcome.ReceivedAt = outcome.CompletedAt
	}
	if err != nil {
		outcome.Error = err.Error()
	}
	return outcome
}
