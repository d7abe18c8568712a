package gitlab

import (
	"context"
	"fmt"
	"net/url"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/fetch"
	apperrors "github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/logging"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/types"
)

// DefaultPerPage is the page size requested when listing pipeline jobs
const DefaultPerPage = 100

// Service reads pipelines, jobs and job traces from the GitLab REST API
type Service struct {
	api     *fetch.Client
	perPage int
	logger  *logging.Logger
}

// NewService creates a new GitLab service on top of an authenticated API client
func NewService(api *fetch.Client) *Service {
	return &Service{
		api:     api,
		perPage: DefaultPerPage,
		logger:  logging.GetLogger(),
	}
}

// Trace fetches the raw log of a job. A missing trace is NotAvailable; any
// other failure is Fatal for that job.
func (s *Service) Trace(ctx context.Context, projectID string, jobID int64) types.Fetched[string] {
	trace, err := s.api.GetText(ctx, fmt.Sprintf("%s/jobs/%d/trace", projectPath(projectID), jobID))
	switch {
	case err == nil:
		return types.Ok(trace)
	case apperrors.IsNotFound(err):
		s.logger.Warn("Job trace not found", "project_id", projectID, "job_id", jobID)
		return types.NotAvailable[string](err)
	default:
		return types.Fatal[string](err)
	}
}

// GetPipeline fetches pipeline metadata
func (s *Service) GetPipeline(ctx context.Context, projectID, pipelineID string) (*Pipeline, error) {
	var pipeline Pipeline
	path := fmt.Sprintf("%s/pipelines/%s", projectPath(projectID), url.PathEscape(pipelineID))
	if err := s.api.GetJSON(ctx, path, &pipeline); err != nil {
		return nil, err
	}
	return &pipeline, nil
}

// ListPipelineJobs returns every job of a pipeline, following pagination
// until a page comes back shorter than requested
func (s *Service) ListPipelineJobs(ctx context.Context, projectID, pipelineID string) ([]Job, error) {
	var jobs []Job
	for page := 1; ; page++ {
		var batch []Job
		path := fmt.Sprintf("%s/pipelines/%s/jobs?per_page=%d&page=%d",
			projectPath(projectID), url.PathEscape(pipelineID), s.perPage, page)
		if err := s.api.GetJSON(ctx, path, &batch); err != nil {
			return nil, err
		}

		jobs = append(jobs, batch...)
		if len(batch) < s.perPage {
			break
		}
	}

	s.logger.Debug("Listed pipeline jobs",
		"project_id", projectID,
		"pipeline_id", pipelineID,
		"count", len(jobs),
	)
	return jobs, nil
}

// projectPath accepts numeric ids and "group/project" paths
func projectPath(projectID string) string {
	return "/api/v4/projects/" + url.PathEscape(projectID)
}
