package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/delivery"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/gitlab"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/jenkins"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/types"
)

// JobType is the queue job type handled by the orchestrator
const JobType = "pipeline_event"

// GitLabSource fetches GitLab pipeline metadata, jobs and traces
type GitLabSource interface {
	GetPipeline(ctx context.Context, projectID, pipelineID string) (*gitlab.Pipeline, error)
	ListPipelineJobs(ctx context.Context, projectID, pipelineID string) ([]gitlab.Job, error)
	Trace(ctx context.Context, projectID string, jobID int64) types.Fetched[string]
}

// JenkinsSource fetches Jenkins builds, console text and stage metadata
type JenkinsSource interface {
	GetBuild(ctx context.Context, jobName string, build int64) (*jenkins.Build, error)
	ConsoleText(ctx context.Context, jobName string, build int64) types.Fetched[string]
	Describe(ctx context.Context, jobName string, build int64) types.Fetched[*jenkins.Describe]
	NodeLog(ctx context.Context, jobName string, build int64, nodeID string) types.Fetched[string]
}

// APIDelivery sends analysis requests to the analysis API
type APIDelivery interface {
	Deliver(ctx context.Context, req *types.AnalysisRequest) (*types.AnalysisResponse, []types.DeliveryAttempt, error)
}

// FileStore persists event bundles locally
type FileStore interface {
	Save(ctx context.Context, bundle delivery.Bundle) (string, types.DeliveryAttempt)
	SaveAnalysis(event types.PipelineEvent, resp *types.AnalysisResponse) error
}

// Task is one accepted webhook waiting to be processed
type Task struct {
	EventID    string
	Event      types.PipelineEvent
	ReceivedAt time.Time
	// Notification is set for Jenkins builds; the event is rebuilt from it
	// once the build API has been read
	Notification *jenkins.Notification
}

// NewGitLabTask creates a task from a parsed pipeline hook
func NewGitLabTask(hook *gitlab.PipelineHook) Task {
	return Task{
		EventID:    uuid.New().String(),
		Event:      hook.ToEvent(),
		ReceivedAt: time.Now(),
	}
}

// NewJenkinsTask creates a task from a decoded build notification
func NewJenkinsTask(notification *jenkins.Notification) Task {
	return Task{
		EventID:      uuid.New().String(),
		Event:        notification.ToEvent(nil),
		ReceivedAt:   time.Now(),
		Notification: notification,
	}
}
