// Package testutil provides test data builders and in-memory collaborator
// fakes for testing.
package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/marketloop/funneld/pkg/models"
)

// CreateTestFunnel creates an active two-step (start -> end) funnel with
// default values that can be overridden.
func CreateTestFunnel(overrides ...func(*models.Funnel)) *models.Funnel {
	id := uuid.New().String()
	funnel := &models.Funnel{
		ID:          id,
		Name:        "Test Funnel",
		Slug:        "test-funnel",
		Status:      models.FunnelStatusActive,
		StartStepID: "start",
		Steps: []*models.Step{
			{ID: "start", FunnelID: id, Type: models.StepTypeStart, NextStepID: "end"},
			{ID: "end", FunnelID: id, Type: models.StepTypeEnd},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	for _, override := range overrides {
		override(funnel)
	}

	return funnel
}

// WithStatus sets the funnel status.
func WithStatus(status models.FunnelStatus) func(*models.Funnel) {
	return func(f *models.Funnel) {
		f.Status = status
	}
}

// WithSlug sets the funnel slug.
func WithSlug(slug string) func(*models.Funnel) {
	return func(f *models.Funnel) {
		f.Slug = slug
	}
}

// WithAllowReentry lets completed subscribers enroll again.
func WithAllowReentry() func(*models.Funnel) {
	return func(f *models.Funnel) {
		f.AllowReentry = true
	}
}

// WithSteps replaces the step graph. The first step becomes the start step.
func WithSteps(steps ...*models.Step) func(*models.Funnel) {
	return func(f *models.Funnel) {
		for _, step := range steps {
			step.FunnelID = f.ID
		}

		f.Steps = steps
		f.StartStepID = steps[0].ID
	}
}

// StartStep builds a START step.
func StartStep(id, next string) *models.Step {
	return &models.Step{ID: id, Type: models.StepTypeStart, NextStepID: next}
}

// DelayStep builds a DELAY step.
func DelayStep(id string, value int, unit models.DelayUnit, next string) *models.Step {
	return &models.Step{ID: id, Type: models.StepTypeDelay, DelayValue: value, DelayUnit: unit, NextStepID: next}
}

// ConditionStep builds a CONDITION step.
func ConditionStep(id string, condition *models.Condition, yes, no string) *models.Step {
	return &models.Step{ID: id, Type: models.StepTypeCondition, Condition: condition, YesStepID: yes, NoStepID: no}
}

// ActionStep builds an ACTION step.
func ActionStep(id string, kind models.ActionKind, config map[string]any, next string) *models.Step {
	return &models.Step{ID: id, Type: models.StepTypeAction, ActionKind: kind, ActionConfig: config, NextStepID: next}
}

// GoalStep builds a GOAL step.
func GoalStep(id, name, kind string, value float64, next string) *models.Step {
	return &models.Step{ID: id, Type: models.StepTypeGoal, GoalName: name, GoalKind: kind, GoalValue: value, NextStepID: next}
}

// EndStep builds an END step.
func EndStep(id string) *models.Step {
	return &models.Step{ID: id, Type: models.StepTypeEnd}
}

// CreateTestSubscriber creates a subscriber snapshot with default values
// that can be overridden.
func CreateTestSubscriber(overrides ...func(*models.Subscriber)) *models.Subscriber {
	subscriber := &models.Subscriber{
		ID:        uuid.New().String(),
		Email:     "jane@example.com",
		FirstName: "Jane",
		LastName:  "Doe",
		Fields:    map[string]any{},
	}

	for _, override := range overrides {
		override(subscriber)
	}

	return subscriber
}

// WithTags sets the subscriber's tags.
func WithTags(tags ...string) func(*models.Subscriber) {
	return func(s *models.Subscriber) {
		s.Tags = tags
	}
}

// WithFields sets the subscriber's custom fields.
func WithFields(fields map[string]any) func(*models.Subscriber) {
	return func(s *models.Subscriber) {
		s.Fields = fields
	}
}
