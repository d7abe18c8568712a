package gitlab

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// PipelineHook represents a GitLab pipeline webhook event
type PipelineHook struct {
	ObjectKind       string `json:"object_kind"`
	ObjectAttributes struct {
		ID         int64    `json:"id"`
		IID        int64    `json:"iid"`
		Ref        string   `json:"ref"`
		Tag        bool     `json:"tag"`
		SHA        string   `json:"sha"`
		BeforeSHA  string   `json:"before_sha"`
		Source     string   `json:"source"`
		Status     string   `json:"status"`
		Stages     []string `json:"stages"`
		CreatedAt  Time     `json:"created_at"`
		FinishedAt Time     `json:"finished_at"`
		Duration   float64  `json:"duration"`
		URL        string   `json:"url"`
	} `json:"object_attributes"`
	User    User    `json:"user"`
	Project Project `json:"project"`
	Commit  struct {
		ID      string `json:"id"`
		Message string `json:"message"`
		URL     string `json:"url"`
	} `json:"commit"`
	Builds []Build `json:"builds"`
}

// Build is a job as embedded in the pipeline webhook
type Build struct {
	ID           int64   `json:"id"`
	Stage        string  `json:"stage"`
	Name         string  `json:"name"`
	Status       string  `json:"status"`
	CreatedAt    Time    `json:"created_at"`
	StartedAt    Time    `json:"started_at"`
	FinishedAt   Time    `json:"finished_at"`
	Duration     float64 `json:"duration"`
	When         string  `json:"when"`
	Manual       bool    `json:"manual"`
	AllowFailure bool    `json:"allow_failure"`
	User         User    `json:"user"`
}

// User represents a GitLab user
type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Project represents a GitLab project
type Project struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Path              string `json:"path"`
	Namespace         string `json:"namespace"`
	PathWithNamespace string `json:"path_with_namespace"`
	WebURL            string `json:"web_url"`
	DefaultBranch     string `json:"default_branch"`
}

// Job is a job as returned by the jobs API
type Job struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Stage        string  `json:"stage"`
	Status       string  `json:"status"`
	Ref          string  `json:"ref"`
	CreatedAt    Time    `json:"created_at"`
	StartedAt    Time    `json:"started_at"`
	FinishedAt   Time    `json:"finished_at"`
	Duration     float64 `json:"duration"`
	AllowFailure bool    `json:"allow_failure"`
	WebURL       string  `json:"web_url"`
	User         User    `json:"user"`
	Pipeline     struct {
		ID        int64  `json:"id"`
		ProjectID int64  `json:"project_id"`
		Status    string `json:"status"`
	} `json:"pipeline"`
}

// Pipeline is a pipeline as returned by the pipelines API
type Pipeline struct {
	ID         int64   `json:"id"`
	IID        int64   `json:"iid"`
	ProjectID  int64   `json:"project_id"`
	Status     string  `json:"status"`
	Source     string  `json:"source"`
	Ref        string  `json:"ref"`
	SHA        string  `json:"sha"`
	WebURL     string  `json:"web_url"`
	CreatedAt  Time    `json:"created_at"`
	FinishedAt Time    `json:"finished_at"`
	Duration   float64 `json:"duration"`
	User       User    `json:"user"`
}

// webhook payloads use "2006-01-02 15:04:05 UTC", the REST API uses RFC 3339
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
}

// Time accepts every timestamp format GitLab emits, and null
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}

	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised GitLab timestamp %q", raw)
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}

// Ptr returns nil for the zero time
func (t Time) Ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}
