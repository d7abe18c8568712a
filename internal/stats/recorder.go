// Package stats records what happened to every pipeline event so that the
// outcome can be looked up after the webhook request has returned.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/types"
)

// Recorder receives the lifecycle of each event. Every event that is
// received also receives exactly one terminal outcome.
type Recorder interface {
	RecordReceived(ctx context.Context, eventID string, event types.PipelineEvent, receivedAt time.Time) error
	RecordOutcome(ctx context.Context, outcome types.EventOutcome) error
	GetOutcome(ctx context.Context, eventID string) (*types.EventOutcome, error)
}

// MemoryRecorder keeps outcomes in process memory
type MemoryRecorder struct {
	mu       sync.RWMutex
	outcomes map[string]types.EventOutcome
}

// NewMemoryRecorder creates an empty in-memory recorder
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{outcomes: make(map[string]types.EventOutcome)}
}

// RecordReceived stores the event with status RECEIVED
func (r *MemoryRecorder) RecordReceived(ctx context.Context, eventID string, event types.PipelineEvent, receivedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.outcomes[eventID] = types.EventOutcome{
		EventID:    eventID,
		Provider:   event.Provider,
		Project:    projectOf(event),
		PipelineID: event.ID,
		Status:     types.EventStatusReceived,
		ReceivedAt: receivedAt,
	}
	return nil
}

// RecordOutcome stores the terminal outcome, keeping the original receive time
func (r *MemoryRecorder) RecordOutcome(ctx context.Context, outcome types.EventOutcome) error {
	if outcome.EventID == "" {
		return errors.NewValidationError("event id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.outcomes[outcome.EventID]; ok && outcome.ReceivedAt.IsZero() {
		outcome.ReceivedAt = existing.ReceivedAt
	}
	outcome.Attempts = append([]types.DeliveryAttempt(nil), outcome.Attempts...)
	r.outcomes[outcome.EventID] = outcome
	return nil
}

// GetOutcome returns the latest known state of an event
func (r *MemoryRecorder) GetOutcome(ctx context.Context, eventID string) (*types.EventOutcome, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	outcome, ok := r.outcomes[eventID]
	if !ok {
		return nil, errors.NewNotFoundError("event")
	}
	outcome.Attempts = append([]types.DeliveryAttempt(nil), outcome.Attempts...)
	return &outcome, nil
}

func projectOf(event types.PipelineEvent) string {
	if event.ProjectPath != "" {
		return event.ProjectPath
	}
	return event.ProjectName
}
