package api

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/gitlab"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/jenkins"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/orchestrator"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/queue"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/logging"
)

// JenkinsTokenHeader carries the optional Jenkins webhook secret
const JenkinsTokenHeader = "X-Jenkins-Token"

// maxWebhookBody bounds how much of a webhook body is read
const maxWebhookBody = 10 << 20

// Intake records accepted and rejected events
type Intake interface {
	Accept(ctx context.Context, task orchestrator.Task) error
	Reject(ctx context.Context, task orchestrator.Task, reason error)
}

// Submitter hands jobs to the background workers without blocking
type Submitter interface {
	Submit(job *queue.Job) error
}

// WebhookHandler validates and classifies webhooks, then queues them
type WebhookHandler struct {
	intake Intake
	queue  Submitter
	logger *logging.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(intake Intake, queue Submitter) *WebhookHandler {
	return &WebhookHandler{
		intake: intake,
		queue:  queue,
		logger: logging.GetLogger(),
	}
}

// GitLab handles POST /webhook/gitlab
func (h *WebhookHandler) GitLab(c *gin.Context) {
	eventHeader := c.GetHeader(gitlab.EventHeader)
	if eventHeader == "" {
		BadRequestResponse(c, "Missing "+gitlab.EventHeader+" header")
		return
	}

	body, ok := readBody(c)
	if !ok {
		return
	}

	if !gitlab.IsPipelineHook(eventHeader, body) {
		h.logger.WithContext(c.Request.Context()).WithField("event", eventHeader).Debug("Ignoring non-pipeline GitLab webhook")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	hook, err := gitlab.ParsePipelineHook(body)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	h.enqueue(c, orchestrator.NewGitLabTask(hook))
}

// Jenkins handles POST /webhook/jenkins
func (h *WebhookHandler) Jenkins(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	notification, err := jenkins.DecodeNotification(body)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	h.enqueue(c, orchestrator.NewJenkinsTask(notification))
}

func (h *WebhookHandler) enqueue(c *gin.Context, task orchestrator.Task) {
	ctx := logging.WithEventID(c.Request.Context(), task.EventID)
	entry := h.logger.WithContext(ctx).WithFields(logrus.Fields{
		"provider":    task.Event.Provider,
		"project":     task.Event.ProjectPath,
		"pipeline_id": task.Event.ID,
	})

	if err := h.intake.Accept(ctx, task); err != nil {
		entry.WithError(err).Warn("Failed to record received event")
	}

	err := h.queue.Submit(queue.NewJobWithID(task.EventID, orchestrator.JobType, task))
	if err != nil {
		h.intake.Reject(ctx, task, err)
		entry.WithError(err).Error("Failed to queue event")
		if stderrors.Is(err, queue.ErrQueueFull) {
			ServiceUnavailableResponse(c, "Event queue is full, retry later")
		} else {
			ServiceUnavailableResponse(c, "Event processing is not running")
		}
		return
	}

	entry.Info("Event queued")
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "event_id": task.EventID})
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		BadRequestResponse(c, "Failed to read request body")
		return nil, false
	}
	if len(body) == 0 {
		BadRequestResponse(c, "Empty request body")
		return nil, false
	}
	return body, true
}
