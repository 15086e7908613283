package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/marketloop/funneld/pkg/models"
	"github.com/marketloop/funneld/pkg/persistence"
)

const enrollmentColumns = "id, funnel_id, subscriber_id, current_step_id, status, next_action_at, entered_at, completed_at, steps_completed, history, claimed_until"

const uniqueViolationCode = "23505"

// SaveEnrollment inserts or updates an enrollment. A unique-violation on the
// active-pair index surfaces as ErrEnrollmentExists.
func (p *Persistence) SaveEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	history, err := json.Marshal(enrollment.History)
	if err != nil {
		return fmt.Errorf("failed to marshal enrollment history: %w", err)
	}

	query := `
		INSERT INTO enrollments (` + enrollmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id)
		DO UPDATE SET
			current_step_id = EXCLUDED.current_step_id,
			status = EXCLUDED.status,
			next_action_at = EXCLUDED.next_action_at,
			completed_at = EXCLUDED.completed_at,
			steps_completed = EXCLUDED.steps_completed,
			history = EXCLUDED.history,
			claimed_until = EXCLUDED.claimed_until
	`

	_, err = p.db.ExecContext(ctx, query,
		enrollment.ID,
		enrollment.FunnelID,
		enrollment.SubscriberID,
		enrollment.CurrentStepID,
		enrollment.Status,
		enrollment.NextActionAt,
		enrollment.EnteredAt,
		enrollment.CompletedAt,
		enrollment.StepsCompleted,
		history,
		enrollment.ClaimedUntil,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode {
			return &persistence.EnrollmentError{Op: "SaveEnrollment", EnrollmentID: enrollment.ID, Err: persistence.ErrEnrollmentExists}
		}

		p.logger.ErrorContext(ctx, "Failed to save enrollment", "enrollment_id", enrollment.ID, "error", err)

		return &persistence.EnrollmentError{Op: "SaveEnrollment", EnrollmentID: enrollment.ID, Err: err}
	}

	return nil
}

// EnrollmentByID retrieves an enrollment by its ID.
func (p *Persistence) EnrollmentByID(ctx context.Context, id string) (*models.Enrollment, error) {
	row := p.db.QueryRowContext(ctx, "SELECT "+enrollmentColumns+" FROM enrollments WHERE id = $1", id)

	enrollment, err := scanEnrollment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.EnrollmentError{Op: "EnrollmentByID", EnrollmentID: id, Err: persistence.ErrEnrollmentNotFound}
		}

		return nil, &persistence.EnrollmentError{Op: "EnrollmentByID", EnrollmentID: id, Err: err}
	}

	return enrollment, nil
}

// ActiveEnrollment retrieves the single non-terminal enrollment for the
// (funnel, subscriber) pair.
func (p *Persistence) ActiveEnrollment(ctx context.Context, funnelID, subscriberID string) (*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE funnel_id = $1 AND subscriber_id = $2 AND status != 'completed'
		LIMIT 1
	`

	row := p.db.QueryRowContext(ctx, query, funnelID, subscriberID)

	enrollment, err := scanEnrollment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrEnrollmentNotFound
		}

		return nil, fmt.Errorf("failed to query active enrollment: %w", err)
	}

	return enrollment, nil
}

// EnrollmentsBySubscriber retrieves the subscriber's non-terminal enrollments.
func (p *Persistence) EnrollmentsBySubscriber(ctx context.Context, subscriberID string) ([]*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE subscriber_id = $1 AND status != 'completed'
		ORDER BY entered_at ASC
	`

	return p.queryEnrollments(ctx, query, subscriberID)
}

// HasCompletedEnrollment reports whether the pair has a terminal enrollment.
func (p *Persistence) HasCompletedEnrollment(ctx context.Context, funnelID, subscriberID string) (bool, error) {
	var count int

	query := `
		SELECT COUNT(*)
		FROM enrollments
		WHERE funnel_id = $1 AND subscriber_id = $2 AND status = 'completed'
	`

	err := p.db.QueryRowContext(ctx, query, funnelID, subscriberID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query completed enrollments: %w", err)
	}

	return count > 0, nil
}

// DueEnrollments retrieves suspended enrollments whose wake time has passed
// and whose lease is free. This is the sweep's core query.
func (p *Persistence) DueEnrollments(ctx context.Context, before time.Time) ([]*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE status IN ('waiting', 'waiting_condition')
			AND next_action_at IS NOT NULL
			AND next_action_at <= $1
			AND (claimed_until IS NULL OR claimed_until < NOW())
		ORDER BY next_action_at ASC
	`

	return p.queryEnrollments(ctx, query, before)
}

// ClaimEnrollment acquires the sweep lease with a conditional update so two
// concurrent workers can never both own an enrollment.
func (p *Persistence) ClaimEnrollment(ctx context.Context, id string, until time.Time) (bool, error) {
	query := `
		UPDATE enrollments
		SET claimed_until = $2
		WHERE id = $1
			AND status IN ('waiting', 'waiting_condition')
			AND (claimed_until IS NULL OR claimed_until < NOW())
	`

	result, err := p.db.ExecContext(ctx, query, id, until)
	if err != nil {
		return false, &persistence.EnrollmentError{Op: "ClaimEnrollment", EnrollmentID: id, Err: err}
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

// ReleaseEnrollment drops the sweep lease.
func (p *Persistence) ReleaseEnrollment(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, "UPDATE enrollments SET claimed_until = NULL WHERE id = $1", id)
	if err != nil {
		return &persistence.EnrollmentError{Op: "ReleaseEnrollment", EnrollmentID: id, Err: err}
	}

	return nil
}

func (p *Persistence) queryEnrollments(ctx context.Context, query string, args ...any) ([]*models.Enrollment, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			p.logger.ErrorContext(ctx, "Failed to close rows", "error", closeErr)
		}
	}()

	var enrollments []*models.Enrollment

	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}

		enrollments = append(enrollments, enrollment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enrollment rows: %w", err)
	}

	return enrollments, nil
}

func scanEnrollment(row rowScanner) (*models.Enrollment, error) {
	enrollment := &models.Enrollment{}

	var history []byte

	err := row.Scan(
		&enrollment.ID,
		&enrollment.FunnelID,
		&enrollment.SubscriberID,
		&enrollment.CurrentStepID,
		&enrollment.Status,
		&enrollment.NextActionAt,
		&enrollment.EnteredAt,
		&enrollment.CompletedAt,
		&enrollment.StepsCompleted,
		&history,
		&enrollment.ClaimedUntil,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(history, &enrollment.History)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal enrollment history: %w", err)
	}

	return enrollment, nil
}
