package types

import (
	"time"
)

// Provider identifies the CI system an event came from
type Provider string

const (
	ProviderGitLab  Provider = "gitlab"
	ProviderJenkins Provider = "jenkins"
)

// EventStatus is the processing state of a pipeline event
type EventStatus string

const (
	EventStatusReceived   EventStatus = "RECEIVED"
	EventStatusSkipped    EventStatus = "SKIPPED"
	EventStatusFetching   EventStatus = "FETCHING"
	EventStatusExtracting EventStatus = "EXTRACTING"
	EventStatusDelivering EventStatus = "DELIVERING"
	EventStatusCompleted  EventStatus = "COMPLETED"
	EventStatusFailed     EventStatus = "FAILED"
)

// Terminal reports whether no further transition can happen
func (s EventStatus) Terminal() bool {
	return s == EventStatusSkipped || s == EventStatusCompleted || s == EventStatusFailed
}

// Sink names
const (
	SinkAPI  = "api"
	SinkFile = "file"
)

// Delivery attempt outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// PipelineEvent is a pipeline or build notification normalised across providers.
// It is built once from the inbound payload and not modified afterwards.
type PipelineEvent struct {
	Provider    Provider      `json:"provider"`
	ID          string        `json:"id"`
	ProjectID   string        `json:"project_id"`
	ProjectName string        `json:"project_name"`
	ProjectPath string        `json:"project_path,omitempty"`
	Ref         string        `json:"ref,omitempty"`
	SHA         string        `json:"sha,omitempty"`
	Source      string        `json:"source,omitempty"`
	TriggeredBy string        `json:"triggered_by,omitempty"`
	Status      string        `json:"status"`
	URL         string        `json:"url,omitempty"`
	Stages      []string      `json:"stages,omitempty"`
	CreatedAt   *time.Time    `json:"created_at,omitempty"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Jobs        []JobRecord   `json:"jobs,omitempty"`
}

// JobRecord is one job of a pipeline
type JobRecord struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Stage        string     `json:"stage"`
	Status       string     `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Duration     float64    `json:"duration,omitempty"`
	AllowFailure bool       `json:"allow_failure"`
	WebURL       string     `json:"web_url,omitempty"`
}

// Stage is one stage recovered from a Jenkins console log
type Stage struct {
	Name       string           `json:"stage_name"`
	ID         string           `json:"stage_id,omitempty"`
	Status     string           `json:"status,omitempty"`
	DurationMs int64            `json:"duration_ms,omitempty"`
	IsParallel bool             `json:"is_parallel"`
	Log        string           `json:"log_content,omitempty"`
	Branches   []ParallelBranch `json:"parallel_blocks,omitempty"`
}

// ParallelBranch is one branch of a parallel stage
type ParallelBranch struct {
	Name       string `json:"block_name"`
	ID         string `json:"id,omitempty"`
	Status     string `json:"status,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Log        string `json:"log_content"`
}

// DeliveryAttempt records a single attempt to deliver a result or obtain credentials for it
type DeliveryAttempt struct {
	Sink       string        `json:"sink"`
	Stage      string        `json:"stage,omitempty"`
	Outcome    string        `json:"outcome"`
	StatusCode int           `json:"status_code,omitempty"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	Warning    string        `json:"warning,omitempty"`
	At         time.Time     `json:"at"`
}

// EventOutcome is the terminal result of one orchestrator run
type EventOutcome struct {
	EventID      string            `json:"event_id"`
	Provider     Provider          `json:"provider"`
	Project      string            `json:"project"`
	PipelineID   string            `json:"pipeline_id"`
	Status       EventStatus       `json:"status"`
	SuccessCount int               `json:"success_count"`
	ErrorCount   int               `json:"error_count"`
	Error        string            `json:"error,omitempty"`
	Attempts     []DeliveryAttempt `json:"delivery_attempts,omitempty"`
	ReceivedAt   time.Time         `json:"received_at"`
	CompletedAt  time.Time         `json:"completed_at"`
}

// FailedStep is a step reported to the analysis API
type FailedStep struct {
	StepName   string   `json:"step_name"`
	ErrorLines []string `json:"error_lines"`
}

// AnalysisRequest is the body POSTed to the analysis API
type AnalysisRequest struct {
	Repo        string       `json:"repo"`
	Branch      string       `json:"branch"`
	Commit      string       `json:"commit"`
	JobNames    []string     `json:"job_name"`
	PipelineID  string       `json:"pipeline_id"`
	TriggeredBy string       `json:"triggered_by"`
	FailedSteps []FailedStep `json:"failed_steps"`
}

// AnalysisResult is one result returned by the analysis API
type AnalysisResult struct {
	StepName  string `json:"step_name"`
	ErrorHash string `json:"error_hash"`
	Source    string `json:"source"`
	ErrorText string `json:"error_text"`
	Fix       string `json:"fix"`
}

// AnalysisResponse is the analysis API response body
type AnalysisResponse struct {
	Status  string           `json:"status"`
	Results []AnalysisResult `json:"results"`
}
