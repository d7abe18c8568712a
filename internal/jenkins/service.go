// Package jenkins decodes Jenkins build notifications and reads build data
// from the Jenkins REST API.
package jenkins

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/fetch"
	apperrors "github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/logging"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/types"
)

// Service reads console logs, build metadata and pipeline stage data
type Service struct {
	api    *fetch.Client
	logger *logging.Logger
}

// NewService creates a new Jenkins service on top of an authenticated API client
func NewService(api *fetch.Client) *Service {
	return &Service{
		api:    api,
		logger: logging.GetLogger(),
	}
}

// JobPath maps a job name to its URL path; folders ("team/app") become
// nested /job segments
func JobPath(jobName string) string {
	var b strings.Builder
	for _, part := range strings.Split(strings.Trim(jobName, "/"), "/") {
		if part == "" {
			continue
		}
		b.WriteString("/job/")
		b.WriteString(url.PathEscape(part))
	}
	return b.String()
}

func buildPath(jobName string, build int64) string {
	return fmt.Sprintf("%s/%d", JobPath(jobName), build)
}

// ConsoleText fetches the full console log of a build
func (s *Service) ConsoleText(ctx context.Context, jobName string, build int64) types.Fetched[string] {
	text, err := s.api.GetText(ctx, buildPath(jobName, build)+"/consoleText")
	switch {
	case err == nil:
		return types.Ok(text)
	case apperrors.IsNotFound(err):
		return types.NotAvailable[string](err)
	default:
		return types.Fatal[string](err)
	}
}

// GetBuild fetches build metadata from api/json
func (s *Service) GetBuild(ctx context.Context, jobName string, build int64) (*Build, error) {
	var b Build
	if err := s.api.GetJSON(ctx, buildPath(jobName, build)+"/api/json", &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Describe fetches structured stage data. Jobs that are not pipelines, or
// Jenkins instances without the REST API plugin, answer 404; that is
// NotAvailable and the caller parses the console on its own.
func (s *Service) Describe(ctx context.Context, jobName string, build int64) types.Fetched[*Describe] {
	var d Describe
	err := s.api.GetJSON(ctx, buildPath(jobName, build)+"/wfapi/describe", &d)
	switch {
	case err == nil:
		return types.Ok(&d)
	case apperrors.IsNotFound(err):
		s.logger.Debug("No structured stage data", "job", jobName, "build", build)
		return types.NotAvailable[*Describe](err)
	default:
		return types.Fatal[*Describe](err)
	}
}

// NodeLog fetches the log of a single flow node. It is best effort: every
// failure is logged and reported as NotAvailable.
func (s *Service) NodeLog(ctx context.Context, jobName string, build int64, nodeID string) types.Fetched[string] {
	var log NodeLog
	path := fmt.Sprintf("%s/execution/node/%s/wfapi/log", buildPath(jobName, build), url.PathEscape(nodeID))
	if err := s.api.GetJSON(ctx, path, &log); err != nil {
		s.logger.Warn("Stage log unavailable",
			"job", jobName,
			"build", build,
			"node_id", nodeID,
			"error", err.Error(),
		)
		return types.NotAvailable[string](err)
	}
	return types.Ok(html.UnescapeString(log.Text))
}
