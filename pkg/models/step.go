package models

import (
	"errors"
	"fmt"
	"time"
)

// StepType discriminates the closed set of step variants.
type StepType string

const (
	StepTypeStart     StepType = "start"
	StepTypeDelay     StepType = "delay"
	StepTypeCondition StepType = "condition"
	StepTypeAction    StepType = "action"
	StepTypeGoal      StepType = "goal"
	StepTypeEnd       StepType = "end"
)

// DelayUnit is the unit of a DELAY step's duration.
type DelayUnit string

const (
	DelayUnitMinutes DelayUnit = "minutes"
	DelayUnitHours   DelayUnit = "hours"
	DelayUnitDays    DelayUnit = "days"
)

// ActionKind discriminates the closed set of ACTION side effects.
type ActionKind string

const (
	ActionKindAddTag      ActionKind = "add_tag"
	ActionKindRemoveTag   ActionKind = "remove_tag"
	ActionKindSendMessage ActionKind = "send_message"
	ActionKindWebhook     ActionKind = "webhook"
)

var ErrInvalidStepConfig = errors.New("invalid step configuration")

// Step is one node in a funnel's graph. Edges are step IDs, never embedded
// pointers, so the graph serializes trivially.
type Step struct {
	ID       string   `json:"id"`
	FunnelID string   `json:"funnel_id"`
	Type     StepType `json:"type" validate:"required,oneof=start delay condition action goal end"`

	// DELAY
	DelayValue int       `json:"delay_value,omitempty"`
	DelayUnit  DelayUnit `json:"delay_unit,omitempty"`

	// CONDITION
	Condition *Condition `json:"condition,omitempty"`

	// ACTION
	ActionKind    ActionKind     `json:"action_kind,omitempty"`
	ActionConfig  map[string]any `json:"action_config,omitempty"`
	FailureStepID string         `json:"failure_step_id,omitempty"`

	// GOAL
	GoalName  string  `json:"goal_name,omitempty"`
	GoalKind  string  `json:"goal_kind,omitempty"`
	GoalValue float64 `json:"goal_value,omitempty"`

	// Outgoing edges. NextStepID for single-successor steps, the yes/no
	// pair for CONDITION. END has none.
	NextStepID string `json:"next_step_id,omitempty"`
	YesStepID  string `json:"yes_step_id,omitempty"`
	NoStepID   string `json:"no_step_id,omitempty"`
}

// Edges returns the step's declared outgoing edge IDs. CONDITION is binary,
// never more-than-two-way.
func (s *Step) Edges() []string {
	switch s.Type {
	case StepTypeEnd:
		return nil
	case StepTypeCondition:
		return []string{s.YesStepID, s.NoStepID}
	default:
		return []string{s.NextStepID}
	}
}

// DelayDuration converts the DELAY configuration into a time.Duration.
func (s *Step) DelayDuration() time.Duration {
	value := time.Duration(s.DelayValue)

	switch s.DelayUnit {
	case DelayUnitMinutes:
		return value * time.Minute
	case DelayUnitHours:
		return value * time.Hour
	case DelayUnitDays:
		return value * 24 * time.Hour
	default:
		return value * time.Minute
	}
}

// ValidateConfig checks the type-specific configuration of the step.
func (s *Step) ValidateConfig() error {
	switch s.Type {
	case StepTypeDelay:
		if s.DelayValue <= 0 {
			return fmt.Errorf("%w: delay step %q requires a positive duration", ErrInvalidStepConfig, s.ID)
		}

		switch s.DelayUnit {
		case DelayUnitMinutes, DelayUnitHours, DelayUnitDays:
		default:
			return fmt.Errorf("%w: delay step %q has unknown unit %q", ErrInvalidStepConfig, s.ID, s.DelayUnit)
		}
	case StepTypeCondition:
		if s.Condition == nil {
			return fmt.Errorf("%w: condition step %q has no condition", ErrInvalidStepConfig, s.ID)
		}
	case StepTypeAction:
		switch s.ActionKind {
		case ActionKindAddTag, ActionKindRemoveTag, ActionKindSendMessage, ActionKindWebhook:
		default:
			return fmt.Errorf("%w: action step %q has unknown kind %q", ErrInvalidStepConfig, s.ID, s.ActionKind)
		}
	case StepTypeGoal:
		if s.GoalName == "" {
			return fmt.Errorf("%w: goal step %q requires a goal name", ErrInvalidStepConfig, s.ID)
		}
	case StepTypeStart, StepTypeEnd:
	default:
		return fmt.Errorf("%w: step %q has unknown type %q", ErrInvalidStepConfig, s.ID, s.Type)
	}

	return nil
}
