package models

import "time"

// PendingState is the scheduler-side state of an unsettled signal.
type PendingState string

const (
	PendingExit   PendingState = "pending_exit"
	PendingFailed PendingState = "failed"
)

// PendingEntry tracks one signal awaiting settlement.
type PendingEntry struct {
	SignalID      string       `json:"signal_id"`
	CreatedAt     time.Time    `json:"created_at"`
	DueAt         time.Time    `json:"due_at"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt time.Time    `json:"next_attempt_at"`
	State         PendingState `json:"state"`
	LastError     string       `json:"last_error,omitempty"`
}

// NewPendingEntry registers a signal created at createdAt with the given holding period.
func NewPendingEntry(signalID string, createdAt time.Time, holding time.Duration) PendingEntry {
	due := createdAt.Add(holding)
	return PendingEntry{
		SignalID:      signalID,
		CreatedAt:     createdAt,
		DueAt:         due,
		NextAttemptAt: due,
		State:         PendingExit,
	}
}

// IsDue reports whether the entry should be attempted at now.
func (e PendingEntry) IsDue(now time.Time) bool {
	if e.State != PendingExit {
		return false
	}
	return !now.Before(e.DueAt) && !now.Before(e.NextAttemptAt)
}
