package models

import "time"

// EnrollmentStatus represents the state of a subscriber's progress through
// a funnel.
type EnrollmentStatus string

const (
	EnrollmentStatusActive           EnrollmentStatus = "active"
	EnrollmentStatusWaiting          EnrollmentStatus = "waiting"           // Suspended on a delay or retryable action
	EnrollmentStatusWaitingCondition EnrollmentStatus = "waiting_condition" // Suspended on an external event
	EnrollmentStatusCompleted        EnrollmentStatus = "completed"         // Terminal
)

// HistoryEventKind identifies the kind of an execution history entry.
type HistoryEventKind string

const (
	HistoryEventStepExecuted       HistoryEventKind = "step_executed"
	HistoryEventConditionEvaluated HistoryEventKind = "condition_evaluated"
	HistoryEventActionFailed       HistoryEventKind = "action_failed"
	HistoryEventActionAbandoned    HistoryEventKind = "action_abandoned"
	HistoryEventGoalConverted      HistoryEventKind = "goal_converted"
	HistoryEventCompleted          HistoryEventKind = "completed"
)

// HistoryEntry is one append-only record of enrollment execution.
type HistoryEntry struct {
	Event     HistoryEventKind `json:"event"`
	StepID    string           `json:"step_id"`
	Timestamp time.Time        `json:"timestamp"`
	Data      map[string]any   `json:"data,omitempty"`
}

// Enrollment is one subscriber's progress through one funnel. All suspended
// state is the persisted status + current step + wake time triple; resuming
// is a fresh Advance call, not a kept-alive continuation.
type Enrollment struct {
	ID             string           `json:"id"`
	FunnelID       string           `json:"funnel_id"     validate:"required"`
	SubscriberID   string           `json:"subscriber_id" validate:"required"`
	CurrentStepID  string           `json:"current_step_id"`
	Status         EnrollmentStatus `json:"status"`
	NextActionAt   *time.Time       `json:"next_action_at,omitempty"`
	EnteredAt      time.Time        `json:"entered_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	StepsCompleted int              `json:"steps_completed"`
	History        []HistoryEntry   `json:"history"`

	// ClaimedUntil is the sweep lease: a worker owns the enrollment for
	// one Advance call while the lease is unexpired.
	ClaimedUntil *time.Time `json:"claimed_until,omitempty"`
}

// IsTerminal reports whether the enrollment has reached a terminal status.
func (e *Enrollment) IsTerminal() bool {
	return e.Status == EnrollmentStatusCompleted
}

// AppendHistory records one execution event at the given time.
func (e *Enrollment) AppendHistory(event HistoryEventKind, stepID string, at time.Time, data map[string]any) {
	e.History = append(e.History, HistoryEntry{
		Event:     event,
		StepID:    stepID,
		Timestamp: at,
		Data:      data,
	})
}

// GoalConverted reports whether a conversion was already recorded for the
// goal step, so a replayed pass does not double-count it.
func (e *Enrollment) GoalConverted(stepID string) bool {
	for _, entry := range e.History {
		if entry.Event == HistoryEventGoalConverted && entry.StepID == stepID {
			return true
		}
	}

	return false
}

// StepFailureCount counts recorded action failures for the given step. The
// engine bounds transient retries with it.
func (e *Enrollment) StepFailureCount(stepID string) int {
	count := 0

	for _, entry := range e.History {
		if entry.Event == HistoryEventActionFailed && entry.StepID == stepID {
			count++
		}
	}

	return count
}
