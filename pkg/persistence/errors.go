// Package persistence provides standardized error types for persistence
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFunnelNotFound indicates a funnel was not found by the given identifier.
	ErrFunnelNotFound = errors.New("funnel not found")

	// ErrEnrollmentNotFound indicates an enrollment was not found.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrEnrollmentExists indicates a non-terminal enrollment already exists
	// for the (funnel, subscriber) pair.
	ErrEnrollmentExists = errors.New("enrollment already exists")

	// ErrExternalTaskNotFound indicates no completion record exists for the task.
	ErrExternalTaskNotFound = errors.New("external task not found")

	// ErrSubscriberNotFound indicates the contact store has no subscriber
	// for the given identifier.
	ErrSubscriberNotFound = errors.New("subscriber not found")
)

// FunnelError wraps funnel-related errors with additional context.
type FunnelError struct {
	Op       string // Operation being performed (e.g., "FunnelByID", "SaveFunnel")
	FunnelID string
	Err      error
}

func (e *FunnelError) Error() string {
	return fmt.Sprintf("%s operation failed for funnel %s: %v", e.Op, e.FunnelID, e.Err)
}

func (e *FunnelError) Unwrap() error {
	return e.Err
}

func (e *FunnelError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// EnrollmentError wraps enrollment-related errors with additional context.
type EnrollmentError struct {
	Op           string
	EnrollmentID string
	Err          error
}

func (e *EnrollmentError) Error() string {
	return fmt.Sprintf("%s operation failed for enrollment %s: %v", e.Op, e.EnrollmentID, e.Err)
}

func (e *EnrollmentError) Unwrap() error {
	return e.Err
}

func (e *EnrollmentError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsFunnelNotFound checks if an error indicates a funnel was not found.
func IsFunnelNotFound(err error) bool {
	return errors.Is(err, ErrFunnelNotFound)
}

// IsEnrollmentNotFound checks if an error indicates an enrollment was not found.
func IsEnrollmentNotFound(err error) bool {
	return errors.Is(err, ErrEnrollmentNotFound)
}

// IsEnrollmentExists checks if an error indicates a duplicate enrollment.
func IsEnrollmentExists(err error) bool {
	return errors.Is(err, ErrEnrollmentExists)
}

// IsExternalTaskNotFound checks if an error indicates a missing task record.
func IsExternalTaskNotFound(err error) bool {
	return errors.Is(err, ErrExternalTaskNotFound)
}

// IsSubscriberNotFound checks if an error indicates a missing subscriber.
func IsSubscriberNotFound(err error) bool {
	return errors.Is(err, ErrSubscriberNotFound)
}
