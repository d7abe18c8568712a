package jenkins

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/types"
)

// TokenHeader carries the shared webhook secret
const TokenHeader = "X-Jenkins-Token"

// Shape names the payload layout a notification was decoded from
type Shape string

const (
	// {job_name, build_number, status, build_url}
	ShapeCustom Shape = "custom"
	// {job{name,url}, build{number,status,url}} as sent by the Generic Webhook Trigger
	ShapeGeneric Shape = "generic"
	// {name, build{number,status,url}} as sent by the Notification plugin
	ShapeNotification Shape = "notification"
	ShapeBestEffort   Shape = "best_effort"
)

// Notification is a decoded Jenkins build notification
type Notification struct {
	Shape       Shape
	JobName     string
	BuildNumber int64
	Status      string
	BuildURL    string
}

// PayloadError is returned when no known shape and no fallback can find the
// job name and build number
type PayloadError struct {
	Missing []string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("unrecognised Jenkins payload: missing %s", strings.Join(e.Missing, ", "))
}

func (e *PayloadError) ErrorType() apperrors.ErrorType {
	return apperrors.ErrorTypeValidation
}

// number accepts 42 and "42"
type number int64

func (n *number) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*n = number(v)
	return nil
}

type buildRef struct {
	Number  number `json:"number"`
	Status  string `json:"status"`
	Phase   string `json:"phase"`
	URL     string `json:"url"`
	FullURL string `json:"full_url"`
}

func (b buildRef) url() string {
	if b.FullURL != "" {
		return b.FullURL
	}
	return b.URL
}

type customPayload struct {
	JobName     string `json:"job_name"`
	BuildNumber number `json:"build_number"`
	Status      string `json:"status"`
	BuildURL    string `json:"build_url"`
}

type genericPayload struct {
	Job struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"job"`
	Build buildRef `json:"build"`
}

type notificationPayload struct {
	Name  string   `json:"name"`
	Build buildRef `json:"build"`
}

type decoder func(body []byte) (*Notification, bool)

// shapes are tried in this order; the first that yields a job name and build number wins
var shapes = []decoder{decodeCustom, decodeGeneric, decodeNotification}

// DecodeNotification decodes a build notification in any supported shape
func DecodeNotification(body []byte) (*Notification, error) {
	if !json.Valid(body) {
		return nil, apperrors.NewValidationError("invalid Jenkins payload: malformed JSON")
	}

	for _, decode := range shapes {
		if n, ok := decode(body); ok {
			return n, nil
		}
	}
	return decodeBestEffort(body)
}

func decodeCustom(body []byte) (*Notification, bool) {
	var p customPayload
	if err := json.Unmarshal(body, &p); err != nil || p.JobName == "" || p.BuildNumber == 0 {
		return nil, false
	}
	return &Notification{
		Shape:       ShapeCustom,
		JobName:     p.JobName,
		BuildNumber: int64(p.BuildNumber),
		Status:      p.Status,
		BuildURL:    p.BuildURL,
	}, true
}

func decodeGeneric(body []byte) (*Notification, bool) {
	var p genericPayload
	if err := json.Unmarshal(body, &p); err != nil || p.Job.Name == "" || p.Build.Number == 0 {
		return nil, false
	}
	return &Notification{
		Shape:       ShapeGeneric,
		JobName:     p.Job.Name,
		BuildNumber: int64(p.Build.Number),
		Status:      p.Build.Status,
		BuildURL:    p.Build.url(),
	}, true
}

func decodeNotification(body []byte) (*Notification, bool) {
	var p notificationPayload
	if err := json.Unmarshal(body, &p); err != nil || p.Name == "" || p.Build.Number == 0 {
		return nil, false
	}
	return &Notification{
		Shape:       ShapeNotification,
		JobName:     p.Name,
		BuildNumber: int64(p.Build.Number),
		Status:      p.Build.Status,
		BuildURL:    p.Build.url(),
	}, true
}

var (
	jobNameKeys     = []string{"job_name", "jobName", "job", "name", "project", "fullName"}
	buildNumberKeys = []string{"build_number", "buildNumber", "number", "build_id", "build"}
	statusKeys      = []string{"status", "result", "build_status"}
	urlKeys         = []string{"build_url", "buildUrl", "url", "full_url"}
)

// decodeBestEffort looks for the required fields under common key names at the top level
func decodeBestEffort(body []byte) (*Notification, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, &PayloadError{Missing: []string{"job_name", "build_number"}}
	}

	n := &Notification{
		Shape:       ShapeBestEffort,
		JobName:     firstString(fields, jobNameKeys),
		BuildNumber: firstNumber(fields, buildNumberKeys),
		Status:      firstString(fields, statusKeys),
		BuildURL:    firstString(fields, urlKeys),
	}

	var missing []string
	if n.JobName == "" {
		missing = append(missing, "job_name")
	}
	if n.BuildNumber == 0 {
		missing = append(missing, "build_number")
	}
	if len(missing) > 0 {
		return nil, &PayloadError{Missing: missing}
	}
	return n, nil
}

func firstString(fields map[string]interface{}, keys []string) string {
	for _, key := range keys {
		if s, ok := fields[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstNumber(fields map[string]interface{}, keys []string) int64 {
	for _, key := range keys {
		switch v := fields[key].(type) {
		case float64:
			if v > 0 {
				return int64(v)
			}
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

// ToEvent builds the provider-neutral event. build may be nil when the build
// API could not be read; the notification's own fields are used then.
func (n *Notification) ToEvent(build *Build) types.PipelineEvent {
	event := types.PipelineEvent{
		Provider:    types.ProviderJenkins,
		ID:          strconv.FormatInt(n.BuildNumber, 10),
		ProjectID:   n.JobName,
		ProjectName: n.JobName,
		ProjectPath: n.JobName,
		Status:      NormalizeStatus(n.Status),
		URL:         n.BuildURL,
	}
	if build == nil {
		return event
	}

	if status := build.Status(); status != "" {
		event.Status = status
	}
	if build.URL != "" {
		event.URL = build.URL
	}
	event.Ref = build.Branch()
	event.SHA = build.Commit()
	event.TriggeredBy = build.TriggeredBy()
	event.CreatedAt = build.StartedAt()
	event.Duration = build.DurationValue()
	if event.CreatedAt != nil && !build.Building {
		finished := event.CreatedAt.Add(event.Duration)
		event.FinishedAt = &finished
	}
	return event
}
