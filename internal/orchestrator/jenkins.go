package orchestrator

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/consolelog"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/delivery"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/jenkins"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/types"
)

const (
	consoleStep = "console"

	placeholderConsoleMissing = "[Log not available: console text not found]"
)

// collectJenkins reads the build, its console text and, when available, the
// structured stage description, then splits the console into stages
func (s *Service) collectJenkins(ctx context.Context, r *run) (*collected, error) {
	if s.jenkins == nil {
		return nil, errors.NewValidationError("Jenkins is not configured")
	}
	n := r.task.Notification
	if n == nil {
		return nil, errors.NewValidationError("Jenkins task has no build notification")
	}

	r.transition(ctx, types.EventStatusFetching)
	build, err := s.jenkins.GetBuild(ctx, n.JobName, n.BuildNumber)
	if err != nil {
		return nil, errors.NewInternalError("reading build metadata failed").WithCause(err)
	}
	r.event = n.ToEvent(build)

	console := s.jenkins.ConsoleText(ctx, n.JobName, n.BuildNumber)
	var text string
	switch {
	case console.IsOk():
		text, _ = console.Get()
		r.successCount++
		s.metrics.RecordJobFetch(string(types.ProviderJenkins), "success")
	case console.IsNotAvailable():
		text = placeholderConsoleMissing
		r.successCount++
		s.metrics.RecordJobFetch(string(types.ProviderJenkins), "not_available")
	default:
		s.metrics.RecordJobFetch(string(types.ProviderJenkins), "error")
		return nil, errors.NewInternalError("reading console text failed").WithCause(console.Err)
	}

	var info []consolelog.StageInfo
	describe := s.jenkins.Describe(ctx, n.JobName, n.BuildNumber)
	if d, ok := describe.Get(); ok && d != nil {
		info = d.StageInfo()
	} else if describe.IsFatal() {
		s.metrics.RecordJobFetch(string(types.ProviderJenkins), "describe_error")
		s.logger.WithContext(ctx).WithFields(logrus.Fields{
			"job":   n.JobName,
			"build": n.BuildNumber,
		}).WithError(describe.Err).Warn("Stage metadata unreadable, parsing console text only")
	}

	r.transition(ctx, types.EventStatusExtracting)
	stages := s.fillEmptyStages(ctx, r, consolelog.Parse(text, info))

	request := &types.AnalysisRequest{
		Repo:        n.JobName,
		Branch:      r.event.Ref,
		Commit:      r.event.SHA,
		JobNames:    []string{n.JobName},
		PipelineID:  r.event.ID,
		TriggeredBy: r.event.TriggeredBy,
		FailedSteps: s.failedSteps(r.event, text, stages),
	}

	return &collected{
		bundle:  delivery.Bundle{Console: text, Stages: stages},
		request: request,
	}, nil
}

// fillEmptyStages replaces empty stage and branch slices with the node log
// from the pipeline API. Lookups are best-effort.
func (s *Service) fillEmptyStages(ctx context.Context, r *run, stages []types.Stage) []types.Stage {
	n := r.task.Notification
	nodeLog := func(id string) string {
		if id == "" {
			return ""
		}
		fetched := s.jenkins.NodeLog(ctx, n.JobName, n.BuildNumber, id)
		if fetched.IsOk() {
			r.successCount++
		}
		return fetched.OrElse("")
	}

	filled := make([]types.Stage, 0, len(stages))
	for _, stage := range stages {
		if !stage.IsParallel && stage.Log == "" {
			stage.Log = nodeLog(stage.ID)
		}
		if len(stage.Branches) > 0 {
			branches := make([]types.ParallelBranch, len(stage.Branches))
			copy(branches, stage.Branches)
			for i := range branches {
				if branches[i].Log == "" {
					branches[i].Log = nodeLog(branches[i].ID)
				}
			}
			stage.Branches = branches
		}
		filled = append(filled, stage)
	}
	return filled
}

// failedSteps picks failed stages and branches by status. Stages recovered
// without a status are judged by their content when the build failed, and the
// whole console is used when nothing else yields context.
func (s *Service) failedSteps(event types.PipelineEvent, console string, stages []types.Stage) []types.FailedStep {
	steps := []types.FailedStep{}
	add := func(name, log string) {
		if lines := s.extractor.ErrorLines(log); len(lines) > 0 {
			steps = append(steps, types.FailedStep{StepName: name, ErrorLines: lines})
		}
	}

	for _, stage := range stages {
		if !stage.IsParallel {
			if jenkins.IsFailedStatus(stage.Status) {
				add(stage.Name, stage.Log)
			}
			continue
		}
		for _, branch := range stage.Branches {
			if jenkins.IsFailedStatus(branch.Status) {
				add(stage.Name+" / "+branch.Name, branch.Log)
			}
		}
	}
	if len(steps) > 0 || !buildFailed(event.Status) {
		return steps
	}

	for _, stage := range stages {
		if stage.Status != "" {
			continue
		}
		add(stage.Name, stage.Log)
		for _, branch := range stage.Branches {
			add(stage.Name+" / "+branch.Name, branch.Log)
		}
	}
	if len(steps) == 0 {
		add(consoleStep, console)
	}
	return steps
}

func buildFailed(status string) bool {
	return status == "failed" || status == "unstable"
}
