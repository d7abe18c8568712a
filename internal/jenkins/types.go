package jenkins

import (
	"strings"
	"time"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/consolelog"
)

// Build is the subset of /job/:name/:build/api/json this service reads
type Build struct {
	Number          int64    `json:"number"`
	Result          string   `json:"result"`
	Building        bool     `json:"building"`
	DurationMs      int64    `json:"duration"`
	TimestampMs     int64    `json:"timestamp"`
	URL             string   `json:"url"`
	FullDisplayName string   `json:"fullDisplayName"`
	Actions         []Action `json:"actions"`
}

// Action is one entry of a build's actions list. Jenkins mixes unrelated
// action classes in the list, so every field is optional.
type Action struct {
	Class      string      `json:"_class"`
	Causes     []Cause     `json:"causes"`
	Parameters []Parameter `json:"parameters"`
	Revision   *Revision   `json:"lastBuiltRevision"`
}

type Cause struct {
	ShortDescription string `json:"shortDescription"`
	UserID           string `json:"userId"`
	UserName         string `json:"userName"`
}

type Parameter struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

type Revision struct {
	SHA1   string           `json:"SHA1"`
	Branch []RevisionBranch `json:"branch"`
}

type RevisionBranch struct {
	SHA1 string `json:"SHA1"`
	Name string `json:"name"`
}

// Status returns the normalised build result, "running" while building
func (b *Build) Status() string {
	if b.Result == "" && b.Building {
		return "running"
	}
	return NormalizeStatus(b.Result)
}

// Branch prefers the GIT_BRANCH or BRANCH_NAME parameter over the last built revision
func (b *Build) Branch() string {
	for _, action := range b.Actions {
		for _, p := range action.Parameters {
			if p.Name != "GIT_BRANCH" && p.Name != "BRANCH_NAME" {
				continue
			}
			if s, ok := p.Value.(string); ok && s != "" {
				return s
			}
		}
	}
	for _, action := range b.Actions {
		if action.Revision != nil && len(action.Revision.Branch) > 0 {
			return action.Revision.Branch[0].Name
		}
	}
	return ""
}

// Commit returns the SHA of the last built revision
func (b *Build) Commit() string {
	for _, action := range b.Actions {
		if action.Revision == nil {
			continue
		}
		if action.Revision.SHA1 != "" {
			return action.Revision.SHA1
		}
		if len(action.Revision.Branch) > 0 {
			return action.Revision.Branch[0].SHA1
		}
	}
	return ""
}

// TriggeredBy returns the user id of the first cause, or its description
func (b *Build) TriggeredBy() string {
	var description string
	for _, action := range b.Actions {
		for _, cause := range action.Causes {
			if cause.UserID != "" {
				return cause.UserID
			}
			if description == "" {
				description = cause.ShortDescription
			}
		}
	}
	return description
}

func (b *Build) StartedAt() *time.Time {
	if b.TimestampMs <= 0 {
		return nil
	}
	t := time.UnixMilli(b.TimestampMs).UTC()
	return &t
}

func (b *Build) DurationValue() time.Duration {
	return time.Duration(b.DurationMs) * time.Millisecond
}

// Describe is the wfapi/describe response
type Describe struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Status     string          `json:"status"`
	DurationMs int64           `json:"durationMillis"`
	Stages     []DescribeStage `json:"stages"`
}

type DescribeStage struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Status     string         `json:"status"`
	DurationMs int64          `json:"durationMillis"`
	FlowNodes  []DescribeNode `json:"stageFlowNodes"`
}

type DescribeNode struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMs int64  `json:"durationMillis"`
}

// StageInfo converts the response into parser input
func (d *Describe) StageInfo() []consolelog.StageInfo {
	stages := make([]consolelog.StageInfo, 0, len(d.Stages))
	for _, s := range d.Stages {
		info := consolelog.StageInfo{
			ID:         s.ID,
			Name:       s.Name,
			Status:     s.Status,
			DurationMs: s.DurationMs,
		}
		for _, n := range s.FlowNodes {
			info.Nodes = append(info.Nodes, consolelog.FlowNode{
				ID:         n.ID,
				Name:       n.Name,
				Status:     n.Status,
				DurationMs: n.DurationMs,
			})
		}
		stages = append(stages, info)
	}
	return stages
}

// NodeLog is the execution/node/:id/wfapi/log response
type NodeLog struct {
	NodeID     string `json:"nodeId"`
	NodeStatus string `json:"nodeStatus"`
	Length     int64  `json:"length"`
	HasMore    bool   `json:"hasMore"`
	Text       string `json:"text"`
}

var statuses = map[string]string{
	"SUCCESS":      "success",
	"FAILURE":      "failed",
	"FAILED":       "failed",
	"UNSTABLE":     "unstable",
	"ABORTED":      "canceled",
	"NOT_BUILT":    "skipped",
	"NOT_EXECUTED": "skipped",
	"IN_PROGRESS":  "running",
}

// NormalizeStatus maps Jenkins results onto the lower-case vocabulary used for filtering
func NormalizeStatus(status string) string {
	status = strings.ToUpper(strings.TrimSpace(status))
	if normalized, ok := statuses[status]; ok {
		return normalized
	}
	return strings.ToLower(status)
}

// IsFailedStatus reports whether a stage or branch status counts as a failed step
func IsFailedStatus(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "FAILED", "FAILURE", "UNSTABLE":
		return true
	}
	return false
}
