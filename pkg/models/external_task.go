package models

import "time"

// ExternalTask records a completion signal from a third-party system
// (quiz, form, webinar attendance). Condition steps of kind
// external_task_completed consult these records.
type ExternalTask struct {
	ID           string         `json:"id"`
	TaskID       string         `json:"task_id"       validate:"required"`
	FunnelID     string         `json:"funnel_id"     validate:"required"`
	SubscriberID string         `json:"subscriber_id" validate:"required"`
	CompletedAt  time.Time      `json:"completed_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}
