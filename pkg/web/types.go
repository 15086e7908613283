// Package web provides the HTTP surface: the external task gateway consumed
// by third-party systems and the funnel admin API.
package web

import (
	"time"

	"github.com/marketloop/funneld/pkg/models"
)

// GatewayResponse is the envelope every task gateway endpoint answers with.
type GatewayResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// CompleteTaskRequest signals that a subscriber finished an external task.
// The funnel is resolved by id, then slug, then by the subscriber's open
// enrollments when both are absent.
type CompleteTaskRequest struct {
	TaskID          string         `json:"task_id"          validate:"required"`
	SubscriberEmail string         `json:"subscriber_email" validate:"required,email"`
	FunnelID        string         `json:"funnel_id,omitempty"`
	FunnelSlug      string         `json:"funnel_slug,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// CompleteTaskData is the data payload of a successful completion.
type CompleteTaskData struct {
	TaskID          string `json:"task_id"`
	SubscriberEmail string `json:"subscriber_email"`
	FunnelsAffected int    `json:"funnels_affected"`
}

// TaskStatusData is the data payload of a task status lookup.
type TaskStatusData struct {
	Completed   bool           `json:"completed"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// CreateFunnelRequest imports a funnel definition. Funnels are created in
// draft status and activated explicitly.
type CreateFunnelRequest struct {
	Name         string         `json:"name"          validate:"required,min=3"`
	Slug         string         `json:"slug"          validate:"required,lowercase"`
	Description  string         `json:"description"`
	StartStepID  string         `json:"start_step_id" validate:"required"`
	Steps        []*models.Step `json:"steps"         validate:"required,min=1"`
	AllowReentry bool           `json:"allow_reentry"`
}

// EnrollRequest enrolls a subscriber into a funnel by email.
type EnrollRequest struct {
	SubscriberEmail string `json:"subscriber_email" validate:"required,email"`
}
