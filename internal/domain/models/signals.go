package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types published to the event sink.
const (
	EventSignalCreated = "signal.created"
	EventSignalSettled = "signal.settled"
	EventSignalFailed  = "signal.failed"
)

// SignalEvent is a lifecycle notification about one signal.
type SignalEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Signal     Signal    `json:"signal"`
}

// NewSignalEvent stamps a lifecycle event with a fresh id.
func NewSignalEvent(eventType string, s Signal, at time.Time) SignalEvent {
	return SignalEvent{
		EventID:    uuid.NewString(),
		Type:       eventType,
		OccurredAt: at.UTC(),
		Signal:     s,
	}
}
