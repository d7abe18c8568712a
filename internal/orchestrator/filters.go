package orchestrator

import (
	"fmt"
	"strings"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/config"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/types"
)

const matchAll = "all"

// Filters decides which events and jobs are processed
type Filters struct {
	pipelineStatuses []string
	jobStatuses      []string
	allowProjects    []string
	denyProjects     []string
}

// NewFilters normalises the configured lists
func NewFilters(cfg config.FilterConfig) Filters {
	return Filters{
		pipelineStatuses: normalize(cfg.PipelineStatuses),
		jobStatuses:      normalize(cfg.JobStatuses),
		allowProjects:    normalize(cfg.AllowProjects),
		denyProjects:     normalize(cfg.DenyProjects),
	}
}

// Event reports whether the event should be processed and, if not, why
func (f Filters) Event(event types.PipelineEvent) (bool, string) {
	if !matches(f.pipelineStatuses, event.Status) {
		return false, fmt.Sprintf("pipeline status %q is not selected", event.Status)
	}

	projects := []string{event.ProjectPath, event.ProjectName, event.ProjectID}
	if len(f.allowProjects) > 0 {
		for _, p := range projects {
			if contains(f.allowProjects, p) {
				return true, ""
			}
		}
		return false, fmt.Sprintf("project %q is not in the allow list", projectName(event))
	}

	for _, p := range projects {
		if contains(f.denyProjects, p) {
			return false, fmt.Sprintf("project %q is in the deny list", projectName(event))
		}
	}
	return true, ""
}

// Job reports whether a job's log should be fetched
func (f Filters) Job(job types.JobRecord) bool {
	return matches(f.jobStatuses, job.Status)
}

// matches treats an empty list and "all" as matching everything
func matches(list []string, value string) bool {
	if len(list) == 0 || contains(list, matchAll) {
		return true
	}
	return contains(list, value)
}

func contains(list []string, value string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return false
	}
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func normalize(list []string) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func projectName(event types.PipelineEvent) string {
	if event.ProjectPath != "" {
		return event.ProjectPath
	}
	return event.ProjectName
}
