package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/logging"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/types"
)

const (
	metadataFile = "metadata.json"
	analysisFile = "analysis.json"
	consoleFile  = "console.log"
	jenkinsRoot  = "jenkins-builds"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeName makes a string safe to use as a single path element
func SanitizeName(name string) string {
	cleaned := strings.Trim(unsafeName.ReplaceAllString(name, "_"), "._")
	if cleaned == "" {
		return "unnamed"
	}
	return cleaned
}

// JobLog is the raw log of one GitLab job, or the placeholder written in its place
type JobLog struct {
	Job   types.JobRecord
	Log   string
	Error string
}

// Bundle is everything the file sink persists for one event
type Bundle struct {
	EventID      string
	Event        types.PipelineEvent
	Status       types.EventStatus
	Jobs         []JobLog
	Console      string
	Stages       []types.Stage
	SuccessCount int
	ErrorCount   int
	// MetadataOnly persists metadata.json without any log files
	MetadataOnly bool
}

type jobMetadata struct {
	types.JobRecord
	LogFile string `json:"log_file,omitempty"`
	Error   string `json:"error,omitempty"`
}

type stageMetadata struct {
	Name       string   `json:"stage_name"`
	Status     string   `json:"status,omitempty"`
	DurationMs int64    `json:"duration_ms,omitempty"`
	IsParallel bool     `json:"is_parallel"`
	LogFile    string   `json:"log_file,omitempty"`
	Branches   []string `json:"parallel_blocks,omitempty"`
}

type metadata struct {
	EventID      string              `json:"event_id"`
	Status       types.EventStatus   `json:"status"`
	SavedAt      time.Time           `json:"saved_at"`
	Event        types.PipelineEvent `json:"event"`
	SuccessCount int                 `json:"success_count"`
	ErrorCount   int                 `json:"error_count"`
	Jobs         []jobMetadata       `json:"jobs,omitempty"`
	Stages       []stageMetadata     `json:"stages,omitempty"`
}

// FileSink writes event results under a root directory
type FileSink struct {
	root   string
	logger *logging.Logger
	now    func() time.Time
}

// NewFileSink creates a file sink rooted at dir
func NewFileSink(dir string) *FileSink {
	return &FileSink{
		root:   dir,
		logger: logging.GetLogger(),
		now:    time.Now,
	}
}

// Root returns the output directory
func (s *FileSink) Root() string {
	return s.root
}

// Dir returns the directory an event is written to
func (s *FileSink) Dir(event types.PipelineEvent) string {
	if event.Provider == types.ProviderJenkins {
		return filepath.Join(s.root, jenkinsRoot, SanitizeName(event.ProjectName), SanitizeName(event.ID))
	}

	path := event.ProjectPath
	if path == "" {
		path = event.ProjectName
	}
	return filepath.Join(s.root,
		fmt.Sprintf("%s_%s", SanitizeName(path), SanitizeName(event.ProjectID)),
		"pipeline_"+SanitizeName(event.ID))
}

// Save writes the bundle and returns one attempt describing the write
func (s *FileSink) Save(ctx context.Context, bundle Bundle) (string, types.DeliveryAttempt) {
	start := s.now()
	dir := s.Dir(bundle.Event)

	err := s.save(dir, bundle)
	attempt := types.DeliveryAttempt{
		Sink:     types.SinkFile,
		Stage:    StageWrite,
		Outcome:  types.OutcomeSuccess,
		Duration: s.now().Sub(start),
		At:       start,
	}
	if err != nil {
		attempt.Outcome = types.OutcomeFailure
		attempt.Error = err.Error()
	}
	s.logger.LogDeliveryAttempt(ctx, attempt.Sink, attempt.Stage, attempt.Outcome, 0, attempt.Duration, attempt.Error)

	return dir, attempt
}

func (s *FileSink) save(dir string, bundle Bundle) error {
	meta := metadata{
		EventID:      bundle.EventID,
		Status:       bundle.Status,
		SavedAt:      s.now().UTC(),
		Event:        bundle.Event,
		SuccessCount: bundle.SuccessCount,
		ErrorCount:   bundle.ErrorCount,
	}

	for _, job := range bundle.Jobs {
		entry := jobMetadata{JobRecord: job.Job, Error: job.Error}
		if !bundle.MetadataOnly {
			entry.LogFile = fmt.Sprintf("job_%d_%s.log", job.Job.ID, SanitizeName(job.Job.Name))
			if err := WriteFileAtomic(filepath.Join(dir, entry.LogFile), []byte(job.Log)); err != nil {
				return err
			}
		}
		meta.Jobs = append(meta.Jobs, entry)
	}

	if bundle.Event.Provider == types.ProviderJenkins && !bundle.MetadataOnly {
		if err := WriteFileAtomic(filepath.Join(dir, consoleFile), []byte(bundle.Console)); err != nil {
			return err
		}
	}

	for _, stage := range bundle.Stages {
		entry := stageMetadata{
			Name:       stage.Name,
			Status:     stage.Status,
			DurationMs: stage.DurationMs,
			IsParallel: stage.IsParallel,
		}
		if !bundle.MetadataOnly {
			entry.LogFile = "stage_" + SanitizeName(stage.Name) + ".log"
			if err := WriteFileAtomic(filepath.Join(dir, entry.LogFile), []byte(stage.Log)); err != nil {
				return err
			}
		}
		for _, branch := range stage.Branches {
			entry.Branches = append(entry.Branches, branch.Name)
			if bundle.MetadataOnly {
				continue
			}
			name := fmt.Sprintf("stage_%s__%s.log", SanitizeName(stage.Name), SanitizeName(branch.Name))
			if err := WriteFileAtomic(filepath.Join(dir, name), []byte(branch.Log)); err != nil {
				return err
			}
		}
		meta.Stages = append(meta.Stages, entry)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return apperrors.NewInternalError("encoding metadata").WithCause(err)
	}
	return WriteFileAtomic(filepath.Join(dir, metadataFile), data)
}

// SaveAnalysis stores the analysis API response next to the event's logs
func (s *FileSink) SaveAnalysis(event types.PipelineEvent, resp *types.AnalysisResponse) error {
	if resp == nil {
		return nil
	}
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return apperrors.NewInternalError("encoding analysis response").WithCause(err)
	}
	return WriteFileAtomic(filepath.Join(s.Dir(event), analysisFile), data)
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it into place, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.NewInternalError("creating output directory").WithCause(err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return apperrors.NewInternalError("creating temp file").WithCause(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.NewInternalError("writing temp file").WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.NewInternalError("closing temp file").WithCause(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return apperrors.NewInternalError("renaming temp file").WithCause(err)
	}
	return nil
}
