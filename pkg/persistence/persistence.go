// Package persistence provides the data storage abstraction for funnels,
// enrollments, goal conversions and external task records.
package persistence

import (
	"context"
	"time"

	"github.com/marketloop/funneld/pkg/models"
)

type Persistence interface {
	Funnels(ctx context.Context) ([]*models.Funnel, error)
	FunnelByID(ctx context.Context, id string) (*models.Funnel, error)
	FunnelBySlug(ctx context.Context, slug string) (*models.Funnel, error)
	SaveFunnel(ctx context.Context, funnel *models.Funnel) error
	DeleteFunnel(ctx context.Context, id string) error

	SaveEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	EnrollmentByID(ctx context.Context, id string) (*models.Enrollment, error)

	// ActiveEnrollment returns the single non-terminal enrollment for the
	// (funnel, subscriber) pair, or ErrEnrollmentNotFound.
	ActiveEnrollment(ctx context.Context, funnelID, subscriberID string) (*models.Enrollment, error)

	// EnrollmentsBySubscriber returns the subscriber's non-terminal
	// enrollments across all funnels.
	EnrollmentsBySubscriber(ctx context.Context, subscriberID string) ([]*models.Enrollment, error)

	// HasCompletedEnrollment reports whether the pair has a terminal
	// enrollment on record; the engine's re-entry policy consults it.
	HasCompletedEnrollment(ctx context.Context, funnelID, subscriberID string) (bool, error)

	// DueEnrollments returns suspended enrollments whose wake time has
	// passed, ordered by wake time.
	DueEnrollments(ctx context.Context, before time.Time) ([]*models.Enrollment, error)

	// ClaimEnrollment atomically acquires a sweep lease on a suspended
	// enrollment. It returns false when another worker holds the lease or
	// the enrollment is no longer claimable; a failed claim is skipped by
	// the caller, never treated as an error.
	ClaimEnrollment(ctx context.Context, id string, until time.Time) (bool, error)

	// ReleaseEnrollment drops the sweep lease after an Advance pass.
	ReleaseEnrollment(ctx context.Context, id string) error

	SaveGoalConversion(ctx context.Context, conversion *models.GoalConversion) error
	GoalConversionsByFunnel(ctx context.Context, funnelID string) ([]*models.GoalConversion, error)

	SaveExternalTask(ctx context.Context, task *models.ExternalTask) error
	ExternalTask(ctx context.Context, funnelID, subscriberID, taskID string) (*models.ExternalTask, error)
	ExternalTasks(ctx context.Context, funnelID, subscriberID string) ([]models.ExternalTask, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
