package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/auth"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/delivery"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/fetch"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/gitlab"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/jenkins"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/queue"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/stats"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/config"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/resilience"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/types"
)

// MockGitLabSource is a mock implementation of GitLabSource
type MockGitLabSource struct {
	mock.Mock
}

func (m *MockGitLabSource) GetPipeline(ctx context.Context, projectID, pipelineID string) (*gitlab.Pipeline, error) {
	args := m.Called(ctx, projectID, pipelineID)
	if pipeline := args.Get(0); pipeline != nil {
		return pipeline.(*gitlab.Pipeline), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGitLabSource) ListPipelineJobs(ctx context.Context, projectID, pipelineID string) ([]gitlab.Job, error) {
	args := m.Called(ctx, projectID, pipelineID)
	if jobs := args.Get(0); jobs != nil {
		return jobs.([]gitlab.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGitLabSource) Trace(ctx context.Context, projectID string, jobID int64) types.Fetched[string] {
	args := m.Called(ctx, projectID, jobID)
	return args.Get(0).(types.Fetched[string])
}

// MockAPIDelivery is a mock implementation of APIDelivery
type MockAPIDelivery struct {
	mock.Mock
}

func (m *MockAPIDelivery) Deliver(ctx context.Context, req *types.AnalysisRequest) (*types.AnalysisResponse, []types.DeliveryAttempt, error) {
	args := m.Called(ctx, req)
	var resp *types.AnalysisResponse
	if r := args.Get(0); r != nil {
		resp = r.(*types.AnalysisResponse)
	}
	var attempts []types.DeliveryAttempt
	if a := args.Get(1); a != nil {
		attempts = a.([]types.DeliveryAttempt)
	}
	return resp, attempts, args.Error(2)
}

func gitlabTask(status string) Task {
	return Task{
		EventID: "evt-gitlab",
		Event: types.PipelineEvent{
			Provider:    types.ProviderGitLab,
			ID:          "42",
			ProjectID:   "7",
			ProjectName: "app",
			ProjectPath: "group/app",
			Ref:         "main",
			SHA:         "abc123",
			TriggeredBy: "alice",
			Status:      status,
		},
		ReceivedAt: time.Now(),
	}
}

func threeJobs() []gitlab.Job {
	return []gitlab.Job{
		{ID: 1, Name: "build", Stage: "build", Status: "success"},
		{ID: 2, Name: "unit", Stage: "test", Status: "failed"},
		{ID: 3, Name: "lint", Stage: "test", Status: "failed"},
	}
}

// newMockGitLab expects the metadata read of pipeline 42 every GitLab run makes
func newMockGitLab() *MockGitLabSource {
	source := new(MockGitLabSource)
	source.On("GetPipeline", mock.Anything, "7", "42").
		Return(&gitlab.Pipeline{ID: 42, Status: "failed", Ref: "main", SHA: "abc123"}, nil)
	return source
}

func okAttempt(sink, stage string) types.DeliveryAttempt {
	return types.DeliveryAttempt{Sink: sink, Stage: stage, Outcome: types.OutcomeSuccess, At: time.Now()}
}

// newGitLabServer serves three jobs; the trace of job 2 always fails with 502
func newGitLabServer(t *testing.T) (*gitlab.Service, *int32) {
	var job2Calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/projects/7/pipelines/42", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 42, "status": "failed", "ref": "main", "sha": "abc123"}`)
	})
	mux.HandleFunc("/api/v4/projects/7/pipelines/42/jobs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(threeJobs())
	})
	mux.HandleFunc("/api/v4/projects/7/jobs/1/trace", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "compiling\nbuild ok\n")
	})
	mux.HandleFunc("/api/v4/projects/7/jobs/2/trace", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&job2Calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("/api/v4/projects/7/jobs/3/trace", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "$ golangci-lint run\nmain.go:3: ERROR: unused import\nexit code 1\n")
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	api := fetch.NewClient(fetch.Config{
		Service: "gitlab",
		BaseURL: server.URL,
		Retry:   resilience.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond},
	}, server.Client(), nil, fetch.PrivateToken("token"))
	return gitlab.NewService(api), &job2Calls
}

func TestProcess_GitLabJobFailureIsIsolated(t *testing.T) {
	source, job2Calls := newGitLabServer(t)
	files := delivery.NewFileSink(t.TempDir())
	recorder := stats.NewMemoryRecorder()

	service := NewService(Config{SinkMode: config.SinkModeFile}, Dependencies{
		GitLab:   source,
		Files:    files,
		Recorder: recorder,
	})

	task := gitlabTask("failed")
	require.NoError(t, service.Accept(context.Background(), task))
	outcome := service.Process(context.Background(), task)

	assert.Equal(t, types.EventStatusCompleted, outcome.Status)
	assert.Equal(t, 2, outcome.SuccessCount)
	assert.Equal(t, 1, outcome.ErrorCount)
	assert.Empty(t, outcome.Error)
	assert.Equal(t, int32(3), atomic.LoadInt32(job2Calls))

	dir := files.Dir(task.Event)
	job2, err := os.ReadFile(filepath.Join(dir, "job_2_unit.log"))
	require.NoError(t, err)
	assert.Contains(t, string(job2), "[Error fetching log:")

	job3, err := os.ReadFile(filepath.Join(dir, "job_3_lint.log"))
	require.NoError(t, err)
	assert.Contains(t, string(job3), "unused import")

	recorded, err := recorder.GetOutcome(context.Background(), task.EventID)
	require.NoError(t, err)
	assert.Equal(t, types.EventStatusCompleted, recorded.Status)
	assert.Equal(t, 1, recorded.ErrorCount)
	require.Len(t, recorded.Attempts, 1)
	assert.Equal(t, types.SinkFile, recorded.Attempts[0].Sink)
}

func TestProcess_GitLabRequestPayload(t *testing.T) {
	source := newMockGitLab()
	source.On("ListPipelineJobs", mock.Anything, "7", "42").Return(threeJobs(), nil)
	source.On("Trace", mock.Anything, "7", int64(1)).Return(types.Ok("compiling\n"))
	source.On("Trace", mock.Anything, "7", int64(2)).Return(types.Fatal[string](errors.NewTransientError("gitlab", "bad gateway")))
	source.On("Trace", mock.Anything, "7", int64(3)).Return(types.Ok("step 1\nFATAL: lint failed\nstep 3\n"))

	api := new(MockAPIDelivery)
	var sent *types.AnalysisRequest
	api.On("Deliver", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*types.AnalysisRequest) }).
		Return(&types.AnalysisResponse{Status: "ok"}, []types.DeliveryAttempt{okAttempt(types.SinkAPI, "deliver")}, nil)

	service := NewService(Config{SinkMode: config.SinkModeAPI}, Dependencies{GitLab: source, API: api})
	outcome := service.Process(context.Background(), gitlabTask("failed"))

	assert.Equal(t, types.EventStatusCompleted, outcome.Status)
	require.NotNil(t, sent)
	assert.Equal(t, "group/app", sent.Repo)
	assert.Equal(t, "main", sent.Branch)
	assert.Equal(t, "abc123", sent.Commit)
	assert.Equal(t, "42", sent.PipelineID)
	assert.Equal(t, "alice", sent.TriggeredBy)
	assert.Equal(t, []string{"build", "unit", "lint"}, sent.JobNames)

	require.Len(t, sent.FailedSteps, 2)
	assert.Equal(t, "unit", sent.FailedSteps[0].StepName)
	require.Len(t, sent.FailedSteps[0].ErrorLines, 1)
	assert.Contains(t, sent.FailedSteps[0].ErrorLines[0], "[Error fetching log:")
	assert.Equal(t, "lint", sent.FailedSteps[1].StepName)
	require.Len(t, sent.FailedSteps[1].ErrorLines, 1)
	assert.Contains(t, sent.FailedSteps[1].ErrorLines[0], "FATAL: lint failed")
	assert.NotContains(t, sent.FailedSteps[1].ErrorLines[0], "compiling")

	source.AssertExpectations(t)
	api.AssertExpectations(t)
}

func TestProcess_JobStatusFilter(t *testing.T) {
	source := newMockGitLab()
	source.On("ListPipelineJobs", mock.Anything, "7", "42").Return(threeJobs(), nil)
	source.On("Trace", mock.Anything, "7", int64(2)).Return(types.NotAvailable[string](errors.NewNotFoundError("trace")))
	source.On("Trace", mock.Anything, "7", int64(3)).Return(types.Ok("ok"))

	service := NewService(Config{
		SinkMode: config.SinkModeFile,
		Filters:  config.FilterConfig{JobStatuses: []string{"failed"}},
	}, Dependencies{GitLab: source, Files: delivery.NewFileSink(t.TempDir())})

	outcome := service.Process(context.Background(), gitlabTask("failed"))
	assert.Equal(t, types.EventStatusCompleted, outcome.Status)
	assert.Equal(t, 2, outcome.SuccessCount)
	assert.Equal(t, 0, outcome.ErrorCount)
	source.AssertNotCalled(t, "Trace", mock.Anything, "7", int64(1))
}

func TestProcess_ListJobsFailureFailsEvent(t *testing.T) {
	source := newMockGitLab()
	source.On("ListPipelineJobs", mock.Anything, "7", "42").
		Return(nil, &resilience.RetryExhaustedError{Attempts: 3, LastErr: errors.NewTransientError("gitlab", "down")})

	recorder := stats.NewMemoryRecorder()
	service := NewService(Config{SinkMode: config.SinkModeFile}, Dependencies{
		GitLab:   source,
		Files:    delivery.NewFileSink(t.TempDir()),
		Recorder: recorder,
	})

	outcome := service.Process(context.Background(), gitlabTask("failed"))
	assert.Equal(t, types.EventStatusFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "listing pipeline jobs failed")
	assert.Empty(t, outcome.Attempts)

	recorded, err := recorder.GetOutcome(context.Background(), "evt-gitlab")
	require.NoError(t, err)
	assert.Equal(t, types.EventStatusFailed, recorded.Status)
	assert.NotEmpty(t, recorded.Error)
}

func TestProcess_PipelineMetadataFailureFailsEvent(t *testing.T) {
	var metadataCalls, listCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/projects/7/pipelines/42", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&metadataCalls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("/api/v4/projects/7/pipelines/42/jobs", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&listCalls, 1)
		json.NewEncoder(w).Encode(threeJobs())
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	api := fetch.NewClient(fetch.Config{
		Service: "gitlab",
		BaseURL: server.URL,
		Retry:   resilience.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond},
	}, server.Client(), nil, fetch.PrivateToken("token"))

	recorder := stats.NewMemoryRecorder()
	service := NewService(Config{SinkMode: config.SinkModeFile}, Dependencies{
		GitLab:   gitlab.NewService(api),
		Files:    delivery.NewFileSink(t.TempDir()),
		Recorder: recorder,
	})

	outcome := service.Process(context.Background(), gitlabTask("failed"))

	assert.Equal(t, types.EventStatusFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "reading pipeline metadata failed")
	assert.Equal(t, int32(2), atomic.LoadInt32(&metadataCalls))
	assert.Zero(t, atomic.LoadInt32(&listCalls))
	assert.Empty(t, outcome.Attempts)

	recorded, err := recorder.GetOutcome(context.Background(), "evt-gitlab")
	require.NoError(t, err)
	assert.Equal(t, types.EventStatusFailed, recorded.Status)
}

func TestProcess_PipelineMetadataFillsMissingIdentity(t *testing.T) {
	source := new(MockGitLabSource)
	source.On("GetPipeline", mock.Anything, "7", "42").Return(&gitlab.Pipeline{
		ID:     42,
		Status: "failed",
		Ref:    "release",
		SHA:    "def456",
		User:   gitlab.User{Username: "bob"},
	}, nil)
	source.On("ListPipelineJobs", mock.Anything, "7", "42").Return(threeJobs()[:1], nil)
	source.On("Trace", mock.Anything, "7", int64(1)).Return(types.Ok("ok"))

	api := new(MockAPIDelivery)
	var sent *types.AnalysisRequest
	captureRequest(api, &sent)

	task := gitlabTask("failed")
	task.Event.Ref = ""
	task.Event.SHA = ""
	task.Event.TriggeredBy = ""

	service := NewService(Config{SinkMode: config.SinkModeAPI}, Dependencies{GitLab: source, API: api})
	outcome := service.Process(context.Background(), task)

	assert.Equal(t, types.EventStatusCompleted, outcome.Status)
	require.NotNil(t, sent)
	assert.Equal(t, "release", sent.Branch)
	assert.Equal(t, "def456", sent.Commit)
	assert.Equal(t, "bob", sent.TriggeredBy)
	source.AssertExpectations(t)
}

func TestProcess_FilteredEventIsSkipped(t *testing.T) {
	source := new(MockGitLabSource)
	files := delivery.NewFileSink(t.TempDir())

	service := NewService(Config{
		SinkMode:    config.SinkModeFile,
		Filters:     config.FilterConfig{PipelineStatuses: []string{"failed"}},
		SaveSkipped: true,
	}, Dependencies{GitLab: source, Files: files})

	task := gitlabTask("success")
	outcome := service.Process(context.Background(), task)

	assert.Equal(t, types.EventStatusSkipped, outcome.Status)
	require.Len(t, outcome.Attempts, 1)
	assert.Equal(t, types.OutcomeSuccess, outcome.Attempts[0].Outcome)
	assert.FileExists(t, filepath.Join(files.Dir(task.Event), "metadata.json"))
	source.AssertNotCalled(t, "GetPipeline", mock.Anything, mock.Anything, mock.Anything)
	source.AssertNotCalled(t, "ListPipelineJobs", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_SinkModes(t *testing.T) {
	rejected := errors.NewDeliveryRejectedError("status error")

	tests := []struct {
		name         string
		mode         string
		apiErr       error
		wantStatus   types.EventStatus
		wantFiles    bool
		wantAnalysis bool
	}{
		{"api ok", config.SinkModeAPI, nil, types.EventStatusCompleted, false, false},
		{"api rejected", config.SinkModeAPI, rejected, types.EventStatusFailed, false, false},
		{"fallback not needed", config.SinkModeAPIWithFallback, nil, types.EventStatusCompleted, false, false},
		{"fallback to files", config.SinkModeAPIWithFallback, rejected, types.EventStatusCompleted, true, false},
		{"dual ok", config.SinkModeDual, nil, types.EventStatusCompleted, true, true},
		{"dual api rejected", config.SinkModeDual, rejected, types.EventStatusCompleted, true, false},
		{"file only", config.SinkModeFile, nil, types.EventStatusCompleted, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := newMockGitLab()
			source.On("ListPipelineJobs", mock.Anything, "7", "42").Return(threeJobs()[:1], nil)
			source.On("Trace", mock.Anything, "7", int64(1)).Return(types.Ok("ok"))

			api := new(MockAPIDelivery)
			attempt := okAttempt(types.SinkAPI, "deliver")
			var resp *types.AnalysisResponse
			if tt.apiErr != nil {
				attempt.Outcome = types.OutcomeFailure
				attempt.Error = tt.apiErr.Error()
			} else {
				resp = &types.AnalysisResponse{Status: "ok"}
			}
			api.On("Deliver", mock.Anything, mock.Anything).Return(resp, []types.DeliveryAttempt{attempt}, tt.apiErr)

			files := delivery.NewFileSink(t.TempDir())
			service := NewService(Config{SinkMode: tt.mode}, Dependencies{GitLab: source, API: api, Files: files})

			task := gitlabTask("failed")
			outcome := service.Process(context.Background(), task)
			assert.Equal(t, tt.wantStatus, outcome.Status)

			dir := files.Dir(task.Event)
			if tt.wantFiles {
				assert.FileExists(t, filepath.Join(dir, "metadata.json"))
			} else {
				assert.NoDirExists(t, dir)
			}
			if tt.wantAnalysis {
				assert.FileExists(t, filepath.Join(dir, "analysis.json"))
			} else {
				assert.NoFileExists(t, filepath.Join(dir, "analysis.json"))
			}

			if tt.mode == config.SinkModeFile {
				api.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
			}
		})
	}
}

// analysisServer records the Authorization header of every POST
func analysisServer(t *testing.T) (*httptest.Server, *[]string) {
	var headers []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = append(headers, r.Header.Get("Authorization"))
		w.Write([]byte(`{"status":"ok","results":[]}`))
	}))
	t.Cleanup(server.Close)
	return server, &headers
}

func processWithChain(t *testing.T, chain *auth.Chain) (types.EventOutcome, []string) {
	server, headers := analysisServer(t)
	sink := delivery.NewAPISink(delivery.APIConfig{
		URL:   server.URL,
		Retry: resilience.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond},
	}, server.Client(), nil, chain)

	source := newMockGitLab()
	source.On("ListPipelineJobs", mock.Anything, "7", "42").Return(threeJobs()[:1], nil)
	source.On("Trace", mock.Anything, "7", int64(1)).Return(types.Ok("ok"))

	service := NewService(Config{SinkMode: config.SinkModeAPI}, Dependencies{GitLab: source, API: sink})
	return service.Process(context.Background(), gitlabTask("failed")), *headers
}

func attemptFor(attempts []types.DeliveryAttempt, stage string) (types.DeliveryAttempt, bool) {
	for _, a := range attempts {
		if a.Stage == stage {
			return a, true
		}
	}
	return types.DeliveryAttempt{}, false
}

func TestProcess_AuthFallsBackToRawSecret(t *testing.T) {
	outcome, headers := processWithChain(t, auth.NewChain(nil, nil, "s3cret"))

	assert.Equal(t, types.EventStatusCompleted, outcome.Status)
	assert.Equal(t, []string{"Bearer s3cret"}, headers)

	secret, ok := attemptFor(outcome.Attempts, auth.StageSecret)
	require.True(t, ok)
	assert.Equal(t, types.OutcomeSuccess, secret.Outcome)
	assert.NotEmpty(t, secret.Warning)

	jwtStage, ok := attemptFor(outcome.Attempts, auth.StageJWT)
	require.True(t, ok)
	assert.Equal(t, types.OutcomeSkipped, jwtStage.Outcome)
}

func TestProcess_AuthUnauthenticated(t *testing.T) {
	outcome, headers := processWithChain(t, auth.NewChain(nil, nil, ""))

	assert.Equal(t, types.EventStatusCompleted, outcome.Status)
	assert.Equal(t, []string{""}, headers)

	none, ok := attemptFor(outcome.Attempts, auth.StageNone)
	require.True(t, ok)
	assert.NotEmpty(t, none.Warning)

	deliver, ok := attemptFor(outcome.Attempts, delivery.StageDeliver)
	require.True(t, ok)
	assert.Equal(t, types.OutcomeSuccess, deliver.Outcome)
}

func TestProcess_RecoversPanic(t *testing.T) {
	source := newMockGitLab()
	source.On("ListPipelineJobs", mock.Anything, "7", "42").Return(threeJobs()[:1], nil)
	source.On("Trace", mock.Anything, "7", int64(1)).Run(func(mock.Arguments) { panic("unexpected nil") })

	recorder := stats.NewMemoryRecorder()
	service := NewService(Config{SinkMode: config.SinkModeFile}, Dependencies{GitLab: source, Recorder: recorder})

	outcome := service.Process(context.Background(), gitlabTask("failed"))
	assert.Equal(t, types.EventStatusFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "unexpected nil")

	recorded, err := recorder.GetOutcome(context.Background(), "evt-gitlab")
	require.NoError(t, err)
	assert.Equal(t, types.EventStatusFailed, recorded.Status)
}

func TestService_HandleAndReject(t *testing.T) {
	recorder := stats.NewMemoryRecorder()
	service := NewService(Config{SinkMode: config.SinkModeFile}, Dependencies{Recorder: recorder})

	err := service.Handle(context.Background(), queue.NewJob(JobType, "not a task"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	// no GitLab source configured
	err = service.Handle(context.Background(), queue.NewJobWithID("evt-gitlab", JobType, gitlabTask("failed")))
	assert.Error(t, err)

	task := gitlabTask("failed")
	task.EventID = "evt-rejected"
	require.NoError(t, service.Accept(context.Background(), task))
	service.Reject(context.Background(), task, queue.ErrQueueFull)

	recorded, err := recorder.GetOutcome(context.Background(), "evt-rejected")
	require.NoError(t, err)
	assert.Equal(t, types.EventStatusFailed, recorded.Status)
	assert.Equal(t, queue.ErrQueueFull.Error(), recorded.Error)
}

var _ JenkinsSource = (*jenkins.Service)(nil)
var _ GitLabSource = (*gitlab.Service)(nil)
