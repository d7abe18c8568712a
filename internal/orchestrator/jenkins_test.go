package orchestrator

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/jenkins"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/config"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/logging"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/types"
)

// MockJenkinsSource is a mock implementation of JenkinsSource
type MockJenkinsSource struct {
	mock.Mock
}

func (m *MockJenkinsSource) GetBuild(ctx context.Context, jobName string, build int64) (*jenkins.Build, error) {
	args := m.Called(ctx, jobName, build)
	if b := args.Get(0); b != nil {
		return b.(*jenkins.Build), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJenkinsSource) ConsoleText(ctx context.Context, jobName string, build int64) types.Fetched[string] {
	args := m.Called(ctx, jobName, build)
	return args.Get(0).(types.Fetched[string])
}

func (m *MockJenkinsSource) Describe(ctx context.Context, jobName string, build int64) types.Fetched[*jenkins.Describe] {
	args := m.Called(ctx, jobName, build)
	return args.Get(0).(types.Fetched[*jenkins.Describe])
}

func (m *MockJenkinsSource) NodeLog(ctx context.Context, jobName string, build int64, nodeID string) types.Fetched[string] {
	args := m.Called(ctx, jobName, build, nodeID)
	return args.Get(0).(types.Fetched[string])
}

var parallelConsole = strings.Join([]string{
	"Started by user admin",
	"[Pipeline] stage",
	"[Pipeline] { (Build)",
	"compiling",
	"[Pipeline] }",
	"[Pipeline] // stage",
	"[Pipeline] stage",
	"[Pipeline] { (Test)",
	"[Pipeline] parallel",
	"[Pipeline] { (Branch: Unit)",
	"unit ok",
	"[Pipeline] }",
	"[Pipeline] { (Branch: Lint)",
	"running lint",
	"lint error: bad import",
	"[Pipeline] }",
	"[Pipeline] // parallel",
	"[Pipeline] }",
	"[Pipeline] // stage",
	"Finished: FAILURE",
}, "\n")

var parallelDescribe = &jenkins.Describe{
	Stages: []jenkins.DescribeStage{
		{ID: "6", Name: "Build", Status: "SUCCESS", FlowNodes: []jenkins.DescribeNode{{ID: "7", Name: "Shell Script"}}},
		{ID: "10", Name: "Test", Status: "FAILED", FlowNodes: []jenkins.DescribeNode{
			{ID: "14", Name: "Unit", Status: "SUCCESS"},
			{ID: "15", Name: "Lint", Status: "FAILED"},
		}},
	},
}

func jenkinsTask() Task {
	return NewJenkinsTask(&jenkins.Notification{
		Shape:       jenkins.ShapeCustom,
		JobName:     "team/app",
		BuildNumber: 12,
		Status:      "FAILURE",
		BuildURL:    "https://jenkins.example.com/job/team/job/app/12/",
	})
}

func failedBuild() *jenkins.Build {
	return &jenkins.Build{Number: 12, Result: "FAILURE", DurationMs: 60000, TimestampMs: time.Now().UnixMilli()}
}

func captureRequest(api *MockAPIDelivery, sent **types.AnalysisRequest) {
	api.On("Deliver", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { *sent = args.Get(1).(*types.AnalysisRequest) }).
		Return(&types.AnalysisResponse{Status: "ok"}, []types.DeliveryAttempt{okAttempt(types.SinkAPI, "deliver")}, nil)
}

func TestProcess_JenkinsParallelBranchFailure(t *testing.T) {
	source := new(MockJenkinsSource)
	source.On("GetBuild", mock.Anything, "team/app", int64(12)).Return(failedBuild(), nil)
	source.On("ConsoleText", mock.Anything, "team/app", int64(12)).Return(types.Ok(parallelConsole))
	source.On("Describe", mock.Anything, "team/app", int64(12)).Return(types.Ok(parallelDescribe))

	api := new(MockAPIDelivery)
	var sent *types.AnalysisRequest
	captureRequest(api, &sent)

	service := NewService(Config{SinkMode: config.SinkModeAPI}, Dependencies{Jenkins: source, API: api})
	outcome := service.Process(context.Background(), jenkinsTask())

	assert.Equal(t, types.EventStatusCompleted, outcome.Status)
	assert.Equal(t, types.ProviderJenkins, outcome.Provider)
	assert.Equal(t, 1, outcome.SuccessCount)

	require.NotNil(t, sent)
	assert.Equal(t, "team/app", sent.Repo)
	assert.Equal(t, []string{"team/app"}, sent.JobNames)
	assert.Equal(t, "12", sent.PipelineID)
	require.Len(t, sent.FailedSteps, 1)
	assert.Equal(t, "Test / Lint", sent.FailedSteps[0].StepName)
	require.Len(t, sent.FailedSteps[0].ErrorLines, 1)
	assert.Contains(t, sent.FailedSteps[0].ErrorLines[0], "lint error: bad import")
	assert.NotContains(t, sent.FailedSteps[0].ErrorLines[0], "unit ok")

	source.AssertNotCalled(t, "NodeLog", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_JenkinsConsoleFallback(t *testing.T) {
	console := "Started by user admin\n+ make\nError: module not found\nFinished: FAILURE"

	source := new(MockJenkinsSource)
	source.On("GetBuild", mock.Anything, "team/app", int64(12)).Return(failedBuild(), nil)
	source.On("ConsoleText", mock.Anything, "team/app", int64(12)).Return(types.Ok(console))
	source.On("Describe", mock.Anything, "team/app", int64(12)).Return(types.NotAvailable[*jenkins.Describe](errors.NewNotFoundError("describe")))

	api := new(MockAPIDelivery)
	var sent *types.AnalysisRequest
	captureRequest(api, &sent)

	service := NewService(Config{SinkMode: config.SinkModeAPI}, Dependencies{Jenkins: source, API: api})
	outcome := service.Process(context.Background(), jenkinsTask())

	assert.Equal(t, types.EventStatusCompleted, outcome.Status)
	require.NotNil(t, sent)
	require.Len(t, sent.FailedSteps, 1)
	assert.Equal(t, consoleStep, sent.FailedSteps[0].StepName)
	assert.Contains(t, sent.FailedSteps[0].ErrorLines[0], "Error: module not found")
}

func TestProcess_JenkinsDescribeErrorFallsBackToScan(t *testing.T) {
	source := new(MockJenkinsSource)
	source.On("GetBuild", mock.Anything, "team/app", int64(12)).Return(failedBuild(), nil)
	source.On("ConsoleText", mock.Anything, "team/app", int64(12)).Return(types.Ok(parallelConsole))
	source.On("Describe", mock.Anything, "team/app", int64(12)).
		Return(types.Fatal[*jenkins.Describe](errors.NewTransientError("jenkins", "500 Internal Server Error")))

	api := new(MockAPIDelivery)
	var sent *types.AnalysisRequest
	captureRequest(api, &sent)

	logger, err := logging.NewLogger(&logging.Config{Level: "warn", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	service := NewService(Config{SinkMode: config.SinkModeAPI}, Dependencies{Jenkins: source, API: api})
	service.logger = logger
	outcome := service.Process(context.Background(), jenkinsTask())

	assert.Equal(t, types.EventStatusCompleted, outcome.Status)
	require.NotNil(t, sent)
	var lines []string
	for _, step := range sent.FailedSteps {
		lines = append(lines, step.ErrorLines...)
	}
	assert.Contains(t, strings.Join(lines, "\n"), "lint error: bad import")

	assert.Contains(t, buf.String(), "Stage metadata unreadable")
	assert.Contains(t, buf.String(), `"job":"team/app"`)
	assert.Contains(t, buf.String(), "500 Internal Server Error")
	source.AssertNotCalled(t, "NodeLog", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_JenkinsFillsEmptyStageFromNodeLog(t *testing.T) {
	console := "Started by user admin\nFinished: FAILURE"
	describe := &jenkins.Describe{Stages: []jenkins.DescribeStage{
		{ID: "20", Name: "Deploy", Status: "FAILED"},
	}}

	source := new(MockJenkinsSource)
	source.On("GetBuild", mock.Anything, "team/app", int64(12)).Return(failedBuild(), nil)
	source.On("ConsoleText", mock.Anything, "team/app", int64(12)).Return(types.Ok(console))
	source.On("Describe", mock.Anything, "team/app", int64(12)).Return(types.Ok(describe))
	source.On("NodeLog", mock.Anything, "team/app", int64(12), "20").Return(types.Ok("deploying\ndeploy failed: connection refused"))

	api := new(MockAPIDelivery)
	var sent *types.AnalysisRequest
	captureRequest(api, &sent)

	service := NewService(Config{SinkMode: config.SinkModeAPI}, Dependencies{Jenkins: source, API: api})
	outcome := service.Process(context.Background(), jenkinsTask())

	assert.Equal(t, types.EventStatusCompleted, outcome.Status)
	assert.Equal(t, 2, outcome.SuccessCount)
	require.NotNil(t, sent)
	require.Len(t, sent.FailedSteps, 1)
	assert.Equal(t, "Deploy", sent.FailedSteps[0].StepName)
	assert.Contains(t, sent.FailedSteps[0].ErrorLines[0], "connection refused")
	source.AssertExpectations(t)
}

func TestProcess_JenkinsMissingConsole(t *testing.T) {
	source := new(MockJenkinsSource)
	source.On("GetBuild", mock.Anything, "team/app", int64(12)).Return(failedBuild(), nil)
	source.On("ConsoleText", mock.Anything, "team/app", int64(12)).Return(types.NotAvailable[string](errors.NewNotFoundError("console")))
	source.On("Describe", mock.Anything, "team/app", int64(12)).Return(types.NotAvailable[*jenkins.Describe](errors.NewNotFoundError("describe")))

	api := new(MockAPIDelivery)
	var sent *types.AnalysisRequest
	captureRequest(api, &sent)

	service := NewService(Config{SinkMode: config.SinkModeAPI}, Dependencies{Jenkins: source, API: api})
	outcome := service.Process(context.Background(), jenkinsTask())

	assert.Equal(t, types.EventStatusCompleted, outcome.Status)
	assert.Equal(t, 1, outcome.SuccessCount)
	require.NotNil(t, sent)
	assert.Empty(t, sent.FailedSteps)
}

func TestProcess_JenkinsBuildUnreadable(t *testing.T) {
	source := new(MockJenkinsSource)
	source.On("GetBuild", mock.Anything, "team/app", int64(12)).Return(nil, errors.NewTransientError("jenkins", "unavailable"))

	service := NewService(Config{SinkMode: config.SinkModeFile}, Dependencies{Jenkins: source})
	outcome := service.Process(context.Background(), jenkinsTask())

	assert.Equal(t, types.EventStatusFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "reading build metadata failed")
	source.AssertNotCalled(t, "ConsoleText", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_JenkinsConsoleFetchErrorFailsEvent(t *testing.T) {
	source := new(MockJenkinsSource)
	source.On("GetBuild", mock.Anything, "team/app", int64(12)).Return(failedBuild(), nil)
	source.On("ConsoleText", mock.Anything, "team/app", int64(12)).Return(types.Fatal[string](errors.NewTransientError("jenkins", "bad gateway")))

	service := NewService(Config{SinkMode: config.SinkModeFile}, Dependencies{Jenkins: source})
	outcome := service.Process(context.Background(), jenkinsTask())

	assert.Equal(t, types.EventStatusFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "reading console text failed")
}
