package gitlab

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/types"
)

const (
	// EventHeader carries the hook type, e.g. "Pipeline Hook"
	EventHeader = "X-Gitlab-Event"
	// TokenHeader carries the secret token configured on the webhook
	TokenHeader = "X-Gitlab-Token"

	PipelineHookEvent = "Pipeline Hook"
	pipelineKind      = "pipeline"
)

// IsPipelineHook reports whether the event header or object kind names a pipeline event
func IsPipelineHook(eventHeader string, body []byte) bool {
	if eventHeader == PipelineHookEvent {
		return true
	}
	var probe struct {
		ObjectKind string `json:"object_kind"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.ObjectKind == pipelineKind
}

// ParsePipelineHook decodes a pipeline webhook body and checks the fields
// processing depends on
func ParsePipelineHook(body []byte) (*PipelineHook, error) {
	var hook PipelineHook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, apperrors.NewValidationError("invalid GitLab pipeline payload").WithCause(err)
	}

	if hook.ObjectKind != "" && hook.ObjectKind != pipelineKind {
		return nil, apperrors.NewValidationError("unsupported GitLab object_kind").
			WithDetail("object_kind", hook.ObjectKind)
	}
	if hook.ObjectAttributes.ID == 0 {
		return nil, apperrors.NewValidationError("GitLab pipeline payload has no object_attributes.id")
	}
	if hook.Project.ID == 0 {
		return nil, apperrors.NewValidationError("GitLab pipeline payload has no project.id")
	}

	return &hook, nil
}

// ToEvent converts the hook into the provider-neutral event
func (h *PipelineHook) ToEvent() types.PipelineEvent {
	attrs := h.ObjectAttributes

	path := h.Project.PathWithNamespace
	if path == "" {
		path = h.Project.Path
	}
	name := h.Project.Name
	if name == "" {
		name = path
	}

	event := types.PipelineEvent{
		Provider:    types.ProviderGitLab,
		ID:          strconv.FormatInt(attrs.ID, 10),
		ProjectID:   strconv.FormatInt(h.Project.ID, 10),
		ProjectName: name,
		ProjectPath: path,
		Ref:         attrs.Ref,
		SHA:         attrs.SHA,
		Source:      attrs.Source,
		TriggeredBy: h.User.Username,
		Status:      NormalizeStatus(attrs.Status),
		URL:         attrs.URL,
		Stages:      attrs.Stages,
		CreatedAt:   attrs.CreatedAt.Ptr(),
		FinishedAt:  attrs.FinishedAt.Ptr(),
		Duration:    time.Duration(attrs.Duration * float64(time.Second)),
	}
	if event.TriggeredBy == "" {
		event.TriggeredBy = h.User.Name
	}

	for _, build := range h.Builds {
		event.Jobs = append(event.Jobs, build.Record())
	}
	return event
}

// Record converts a webhook build into a job record
func (b Build) Record() types.JobRecord {
	return types.JobRecord{
		ID:           b.ID,
		Name:         b.Name,
		Stage:        b.Stage,
		Status:       NormalizeStatus(b.Status),
		StartedAt:    b.StartedAt.Ptr(),
		FinishedAt:   b.FinishedAt.Ptr(),
		Duration:     b.Duration,
		AllowFailure: b.AllowFailure,
	}
}

// Record converts an API job into a job record
func (j Job) Record() types.JobRecord {
	return types.JobRecord{
		ID:           j.ID,
		Name:         j.Name,
		Stage:        j.Stage,
		Status:       NormalizeStatus(j.Status),
		StartedAt:    j.StartedAt.Ptr(),
		FinishedAt:   j.FinishedAt.Ptr(),
		Duration:     j.Duration,
		AllowFailure: j.AllowFailure,
		WebURL:       j.WebURL,
	}
}

// NormalizeStatus lower-cases a GitLab status; GitLab's vocabulary is used as is
func NormalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}
