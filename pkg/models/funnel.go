// Package models defines the core domain models for funnel automation.
package models

import (
	"errors"
	"fmt"
	"time"
)

// FunnelStatus represents the lifecycle state of a funnel.
type FunnelStatus string

const (
	FunnelStatusDraft  FunnelStatus = "draft"  // Editable, does not accept enrollments
	FunnelStatusActive FunnelStatus = "active" // Accepts enrollments, swept by the scheduler
	FunnelStatusPaused FunnelStatus = "paused" // No new enrollments, in-flight enrollments frozen
)

var ErrInvalidFunnelGraph = errors.New("invalid funnel step graph")

// Funnel is an automation workflow definition: a directed graph of typed
// steps reachable from StartStepID. The step set is immutable while the
// funnel is active.
type Funnel struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"          validate:"required,min=3"`
	Slug         string       `json:"slug"          validate:"required,lowercase"`
	Description  string       `json:"description"`
	Status       FunnelStatus `json:"status"        validate:"required,oneof=draft active paused"`
	StartStepID  string       `json:"start_step_id" validate:"required"`
	Steps        []*Step      `json:"steps"         validate:"required,min=1"`
	AllowReentry bool         `json:"allow_reentry"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// IsActive reports whether the funnel accepts new enrollments.
func (f *Funnel) IsActive() bool {
	return f.Status == FunnelStatusActive
}

// StepByID looks a step up in the funnel's step arena.
func (f *Funnel) StepByID(stepID string) (*Step, bool) {
	for _, step := range f.Steps {
		if step.ID == stepID {
			return step, true
		}
	}

	return nil, false
}

// Validate checks the structural invariants of the step graph: the start
// step exists, every non-END step has all of its declared outgoing edges
// populated, and every edge references a step within this funnel.
func (f *Funnel) Validate() error {
	if _, ok := f.StepByID(f.StartStepID); !ok {
		return fmt.Errorf("%w: start step %q not found", ErrInvalidFunnelGraph, f.StartStepID)
	}

	for _, step := range f.Steps {
		if step.FunnelID != "" && step.FunnelID != f.ID {
			return fmt.Errorf("%w: step %q belongs to funnel %q", ErrInvalidFunnelGraph, step.ID, step.FunnelID)
		}

		for _, edge := range step.Edges() {
			if edge == "" {
				return fmt.Errorf("%w: step %q (%s) has an unpopulated edge", ErrInvalidFunnelGraph, step.ID, step.Type)
			}

			if _, ok := f.StepByID(edge); !ok {
				return fmt.Errorf("%w: step %q references unknown step %q", ErrInvalidFunnelGraph, step.ID, edge)
			}
		}

		if err := step.ValidateConfig(); err != nil {
			return err
		}
	}

	return nil
}
