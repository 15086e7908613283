package file

import (
	"context"
	"errors"
	"os"
	"sort"
	"time"

	"github.com/marketloop/funneld/pkg/models"
	"github.com/marketloop/funneld/pkg/persistence"
)

// SaveEnrollment persists an enrollment, enforcing the single non-terminal
// enrollment invariant per (funnel, subscriber) pair.
func (p *Persistence) SaveEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !enrollment.IsTerminal() {
		var conflict bool

		err := readAll(p, "enrollments", func(existing *models.Enrollment) {
			if existing.ID != enrollment.ID &&
				existing.FunnelID == enrollment.FunnelID &&
				existing.SubscriberID == enrollment.SubscriberID &&
				!existing.IsTerminal() {
				conflict = true
			}
		})
		if err != nil {
			return err
		}

		if conflict {
			return &persistence.EnrollmentError{Op: "SaveEnrollment", EnrollmentID: enrollment.ID, Err: persistence.ErrEnrollmentExists}
		}
	}

	return p.write("enrollments", enrollment.ID, enrollment)
}

func (p *Persistence) EnrollmentByID(_ context.Context, id string) (*models.Enrollment, error) {
	enrollment := &models.Enrollment{}

	err := p.read("enrollments", id, enrollment)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &persistence.EnrollmentError{Op: "EnrollmentByID", EnrollmentID: id, Err: persistence.ErrEnrollmentNotFound}
		}

		return nil, &persistence.EnrollmentError{Op: "EnrollmentByID", EnrollmentID: id, Err: err}
	}

	return enrollment, nil
}

func (p *Persistence) ActiveEnrollment(_ context.Context, funnelID, subscriberID string) (*models.Enrollment, error) {
	var found *models.Enrollment

	err := readAll(p, "enrollments", func(enrollment *models.Enrollment) {
		if enrollment.FunnelID == funnelID && enrollment.SubscriberID == subscriberID && !enrollment.IsTerminal() {
			found = enrollment
		}
	})
	if err != nil {
		return nil, err
	}

	if found == nil {
		return nil, persistence.ErrEnrollmentNotFound
	}

	return found, nil
}

func (p *Persistence) EnrollmentsBySubscriber(_ context.Context, subscriberID string) ([]*models.Enrollment, error) {
	var enrollments []*models.Enrollment

	err := readAll(p, "enrollments", func(enrollment *models.Enrollment) {
		if enrollment.SubscriberID == subscriberID && !enrollment.IsTerminal() {
			enrollments = append(enrollments, enrollment)
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(enrollments, func(i, j int) bool {
		return enrollments[i].EnteredAt.Before(enrollments[j].EnteredAt)
	})

	return enrollments, nil
}

func (p *Persistence) HasCompletedEnrollment(_ context.Context, funnelID, subscriberID string) (bool, error) {
	var found bool

	err := readAll(p, "enrollments", func(enrollment *models.Enrollment) {
		if enrollment.FunnelID == funnelID && enrollment.SubscriberID == subscriberID && enrollment.IsTerminal() {
			found = true
		}
	})
	if err != nil {
		return false, err
	}

	return found, nil
}

func (p *Persistence) DueEnrollments(_ context.Context, before time.Time) ([]*models.Enrollment, error) {
	now := time.Now().UTC()

	var due []*models.Enrollment

	err := readAll(p, "enrollments", func(enrollment *models.Enrollment) {
		if enrollment.Status != models.EnrollmentStatusWaiting &&
			enrollment.Status != models.EnrollmentStatusWaitingCondition {
			return
		}

		if enrollment.NextActionAt == nil || enrollment.NextActionAt.After(before) {
			return
		}

		if enrollment.ClaimedUntil != nil && enrollment.ClaimedUntil.After(now) {
			return
		}

		due = append(due, enrollment)
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextActionAt.Before(*due[j].NextActionAt)
	})

	return due, nil
}

// ClaimEnrollment acquires the sweep lease under the store mutex.
func (p *Persistence) ClaimEnrollment(ctx context.Context, id string, until time.Time) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	enrollment := &models.Enrollment{}

	err := p.read("enrollments", id, enrollment)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, &persistence.EnrollmentError{Op: "ClaimEnrollment", EnrollmentID: id, Err: err}
	}

	if enrollment.Status != models.EnrollmentStatusWaiting &&
		enrollment.Status != models.EnrollmentStatusWaitingCondition {
		return false, nil
	}

	now := time.Now().UTC()
	if enrollment.ClaimedUntil != nil && enrollment.ClaimedUntil.After(now) {
		return false, nil
	}

	enrollment.ClaimedUntil = &until

	err = p.write("enrollments", id, enrollment)
	if err != nil {
		return false, err
	}

	return true, nil
}

func (p *Persistence) ReleaseEnrollment(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	enrollment := &models.Enrollment{}

	err := p.read("enrollments", id, enrollment)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return &persistence.EnrollmentError{Op: "ReleaseEnrollment", EnrollmentID: id, Err: err}
	}

	enrollment.ClaimedUntil = nil

	return p.write("enrollments", id, enrollment)
}
