package jenkins

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/types"
)

func TestDecodeNotification_Shapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Notification
	}{
		{
			name: "custom",
			body: `{"job_name": "team/app", "build_number": 42, "status": "FAILURE", "build_url": "https://ci/job/team/job/app/42/"}`,
			want: Notification{Shape: ShapeCustom, JobName: "team/app", BuildNumber: 42, Status: "FAILURE", BuildURL: "https://ci/job/team/job/app/42/"},
		},
		{
			name: "generic webhook",
			body: `{"job": {"name": "app", "url": "https://ci/job/app/"}, "build": {"number": "7", "status": "SUCCESS", "url": "job/app/7/"}}`,
			want: Notification{Shape: ShapeGeneric, JobName: "app", BuildNumber: 7, Status: "SUCCESS", BuildURL: "job/app/7/"},
		},
		{
			name: "notification plugin",
			body: `{"name": "app", "build": {"number": 9, "phase": "COMPLETED", "status": "UNSTABLE", "url": "job/app/9/", "full_url": "https://ci/job/app/9/"}}`,
			want: Notification{Shape: ShapeNotification, JobName: "app", BuildNumber: 9, Status: "UNSTABLE", BuildURL: "https://ci/job/app/9/"},
		},
		{
			name: "best effort",
			body: `{"jobName": "nightly", "buildNumber": "15", "result": "ABORTED"}`,
			want: Notification{Shape: ShapeBestEffort, JobName: "nightly", BuildNumber: 15, Status: "ABORTED"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeNotification([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestDecodeNotification_Unrecognised(t *testing.T) {
	_, err := DecodeNotification([]byte(`{"job_name": "app"}`))

	var payloadErr *PayloadError
	require.ErrorAs(t, err, &payloadErr)
	assert.Equal(t, []string{"build_number"}, payloadErr.Missing)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = DecodeNotification([]byte(`[1, 2, 3]`))
	require.ErrorAs(t, err, &payloadErr)
	assert.Equal(t, []string{"job_name", "build_number"}, payloadErr.Missing)
}

func TestDecodeNotification_MalformedJSON(t *testing.T) {
	_, err := DecodeNotification([]byte(`{"job_name":`))

	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestNotification_ToEvent(t *testing.T) {
	n := &Notification{JobName: "team/app", BuildNumber: 42, Status: "FAILURE", BuildURL: "https://ci/42/"}

	bare := n.ToEvent(nil)
	assert.Equal(t, types.ProviderJenkins, bare.Provider)
	assert.Equal(t, "42", bare.ID)
	assert.Equal(t, "team/app", bare.ProjectName)
	assert.Equal(t, "failed", bare.Status)
	assert.Nil(t, bare.CreatedAt)

	build := &Build{
		Number:      42,
		Result:      "UNSTABLE",
		DurationMs:  90000,
		TimestampMs: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).UnixMilli(),
		Actions: []Action{
			{Causes: []Cause{{ShortDescription: "Started by user Jane", UserID: "jane"}}},
			{Revision: &Revision{SHA1: "deadbeef"}},
			{Parameters: []Parameter{{Name: "BRANCH_NAME", Value: "release/1.2"}}},
		},
	}

	full := n.ToEvent(build)
	assert.Equal(t, "unstable", full.Status)
	assert.Equal(t, "release/1.2", full.Ref)
	assert.Equal(t, "deadbeef", full.SHA)
	assert.Equal(t, "jane", full.TriggeredBy)
	assert.Equal(t, 90*time.Second, full.Duration)
	require.NotNil(t, full.FinishedAt)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 1, 30, 0, time.UTC), *full.FinishedAt)
}

func TestBuild_Accessors(t *testing.T) {
	build := &Build{
		Building: true,
		Actions: []Action{
			{Causes: []Cause{{ShortDescription: "Started by timer"}}},
			{Revision: &Revision{Branch: []RevisionBranch{{SHA1: "cafe", Name: "origin/main"}}}},
		},
	}

	assert.Equal(t, "running", build.Status())
	assert.Equal(t, "origin/main", build.Branch())
	assert.Equal(t, "cafe", build.Commit())
	assert.Equal(t, "Started by timer", build.TriggeredBy())
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]string{
		"SUCCESS":   "success",
		"FAILURE":   "failed",
		"UNSTABLE":  "unstable",
		"ABORTED":   "canceled",
		"NOT_BUILT": "skipped",
		"failure":   "failed",
		"PAUSED":    "paused",
		"":          "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeStatus(in), in)
	}
}

func TestIsFailedStatus(t *testing.T) {
	assert.True(t, IsFailedStatus("FAILED"))
	assert.True(t, IsFailedStatus("failure"))
	assert.True(t, IsFailedStatus("UNSTABLE"))
	assert.False(t, IsFailedStatus("SUCCESS"))
	assert.False(t, IsFailedStatus("ABORTED"))
}
