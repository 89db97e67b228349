package events

import (
	"context"
	"time"
)

const (
	TypeCaptionCompleted = "caption.completed"
	TypeCaptionFailed    = "caption.failed"
)

// CaptionEvent is emitted once per finished pipeline run.
type CaptionEvent struct {
	Type         string    `json:"type"`
	SessionID    string    `json:"sessionId"`
	RunID        string    `json:"runId"`
	ImageID      string    `json:"imageId,omitempty"`
	FileName     string    `json:"fileName,omitempty"`
	PredictionID string    `json:"predictionId,omitempty"`
	Caption      string    `json:"caption,omitempty"`
	Step         string    `json:"step,omitempty"`
	Error        string    `json:"error,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, ev CaptionEvent) error
	Close() error
}

type nopPublisher struct{}

// NewNopPublisher returns a Publisher that drops every event.
func NewNopPublisher() Publisher { return nopPublisher{} }

func (nopPublisher) Publish(context.Context, CaptionEvent) error { return nil }
func (nopPublisher) Close() error                                 { return nil }
