package api

import (
	"github.com/gin-gonic/gin"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/stats"
)

// EventHandler serves recorded event outcomes
type EventHandler struct {
	recorder stats.Recorder
}

// NewEventHandler creates a new event handler
func NewEventHandler(recorder stats.Recorder) *EventHandler {
	return &EventHandler{recorder: recorder}
}

// GetEvent handles GET /api/v1/events/:id
func (h *EventHandler) GetEvent(c *gin.Context) {
	outcome, err := h.recorder.GetOutcome(c.Request.Context(), c.Param("id"))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, outcome)
}
