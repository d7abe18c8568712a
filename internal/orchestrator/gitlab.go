package orchestrator

import (
	"context"
	"fmt"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/delivery"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/gitlab"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/types"
)

const (
	statusFailed = "failed"

	placeholderTraceMissing = "[Log not available: job trace not found]"
	placeholderFetchError   = "[Error fetching log: %v]"
)

// collectGitLab reads the pipeline, lists its jobs and fetches each trace on
// its own. Only a failure to read the pipeline or list the jobs fails the event.
func (s *Service) collectGitLab(ctx context.Context, r *run) (*collected, error) {
	if s.gitlab == nil {
		return nil, errors.NewValidationError("GitLab is not configured")
	}

	r.transition(ctx, types.EventStatusFetching)
	pipeline, err := s.gitlab.GetPipeline(ctx, r.event.ProjectID, r.event.ID)
	if err != nil {
		return nil, errors.NewInternalError("reading pipeline metadata failed").WithCause(err)
	}
	r.event = withPipeline(r.event, pipeline)
	event := r.event

	jobs, err := s.gitlab.ListPipelineJobs(ctx, event.ProjectID, event.ID)
	if err != nil {
		return nil, errors.NewInternalError("listing pipeline jobs failed").WithCause(err)
	}

	logs := make([]delivery.JobLog, 0, len(jobs))
	for _, job := range jobs {
		record := job.Record()
		if !s.filters.Job(record) {
			continue
		}
		logs = append(logs, s.fetchTrace(ctx, r, record))
	}

	r.transition(ctx, types.EventStatusExtracting)
	request := &types.AnalysisRequest{
		Repo:        projectName(event),
		Branch:      event.Ref,
		Commit:      event.SHA,
		JobNames:    make([]string, 0, len(jobs)),
		PipelineID:  event.ID,
		TriggeredBy: event.TriggeredBy,
		FailedSteps: []types.FailedStep{},
	}
	for _, job := range jobs {
		request.JobNames = append(request.JobNames, job.Name)
	}
	for _, l := range logs {
		if l.Job.Status != statusFailed {
			continue
		}
		lines := s.extractor.ErrorLines(l.Log)
		if l.Error != "" {
			lines = []string{l.Log}
		}
		if len(lines) == 0 {
			continue
		}
		request.FailedSteps = append(request.FailedSteps, types.FailedStep{StepName: l.Job.Name, ErrorLines: lines})
	}

	return &collected{
		bundle:  delivery.Bundle{Jobs: logs},
		request: request,
	}, nil
}

// withPipeline fills identity the hook left empty from the pipelines API
func withPipeline(event types.PipelineEvent, pipeline *gitlab.Pipeline) types.PipelineEvent {
	if pipeline == nil {
		return event
	}
	if event.Ref == "" {
		event.Ref = pipeline.Ref
	}
	if event.SHA == "" {
		event.SHA = pipeline.SHA
	}
	if event.Status == "" {
		event.Status = gitlab.NormalizeStatus(pipeline.Status)
	}
	if event.Source == "" {
		event.Source = pipeline.Source
	}
	if event.TriggeredBy == "" {
		event.TriggeredBy = pipeline.User.Username
	}
	if event.URL == "" {
		event.URL = pipeline.WebURL
	}
	return event
}

// fetchTrace never returns an error; failures become an inline placeholder
func (s *Service) fetchTrace(ctx context.Context, r *run, job types.JobRecord) delivery.JobLog {
	fetched := s.gitlab.Trace(ctx, r.event.ProjectID, job.ID)
	entry := s.logger.WithContext(ctx).WithField("job_id", job.ID).WithField("job_name", job.Name)

	switch {
	case fetched.IsOk():
		r.successCount++
		s.metrics.RecordJobFetch(string(types.ProviderGitLab), "success")
		log, _ := fetched.Get()
		return delivery.JobLog{Job: job, Log: log}

	case fetched.IsNotAvailable():
		r.successCount++
		s.metrics.RecordJobFetch(string(types.ProviderGitLab), "not_available")
		entry.Info("Job trace not available")
		return delivery.JobLog{Job: job, Log: placeholderTraceMissing}

	default:
		err := fetched.Err
		if err == nil {
			err = errors.NewInternalError("unknown trace fetch failure")
		}
		r.errorCount++
		s.metrics.RecordJobFetch(string(types.ProviderGitLab), "error")
		entry.WithError(err).Warn("Failed to fetch job trace")
		return delivery.JobLog{
			Job:   job,
			Log:   fmt.Sprintf(placeholderFetchError, err),
			Error: err.Error(),
		}
	}
}
