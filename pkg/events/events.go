// Package events defines event types for enrollment lifecycle notifications.
package events

import (
	"time"
)

type EventType string

// Topic is the event bus topic all funnel lifecycle events are published on.
const Topic = "funneld.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	EnrollmentCreatedEvent   EventType = "enrollment.created"
	EnrollmentWaitingEvent   EventType = "enrollment.waiting"
	EnrollmentCompletedEvent EventType = "enrollment.completed"
	GoalConvertedEvent       EventType = "goal.converted"
	ActionFailedEvent        EventType = "action.failed"
	TaskCompletedEvent       EventType = "task.completed"
)

type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	FunnelID     string         `json:"funnel_id"`
	SubscriberID string         `json:"subscriber_id"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type EnrollmentCreated struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
}

func (e EnrollmentCreated) GetType() EventType {
	return EnrollmentCreatedEvent
}

type EnrollmentWaiting struct {
	BaseEvent

	EnrollmentID string     `json:"enrollment_id"`
	StepID       string     `json:"step_id"`
	NextActionAt *time.Time `json:"next_action_at,omitempty"`
}

func (e EnrollmentWaiting) GetType() EventType {
	return EnrollmentWaitingEvent
}

type EnrollmentCompleted struct {
	BaseEvent

	EnrollmentID   string        `json:"enrollment_id"`
	StepsCompleted int           `json:"steps_completed"`
	Duration       time.Duration `json:"duration"`
}

func (e EnrollmentCompleted) GetType() EventType {
	return EnrollmentCompletedEvent
}

type GoalConverted struct {
	BaseEvent

	EnrollmentID string  `json:"enrollment_id"`
	GoalName     string  `json:"goal_name"`
	GoalKind     string  `json:"goal_kind"`
	Value        float64 `json:"value"`
}

func (e GoalConverted) GetType() EventType {
	return GoalConvertedEvent
}

type ActionFailed struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	StepID       string `json:"step_id"`
	Error        string `json:"error"`
	Attempt      int    `json:"attempt"`
}

func (e ActionFailed) GetType() EventType {
	return ActionFailedEvent
}

type TaskCompleted struct {
	BaseEvent

	TaskID string `json:"task_id"`
}

func (e TaskCompleted) GetType() EventType {
	return TaskCompletedEvent
}
