// Package mocks provides testify mock implementations of the persistence
// and event bus interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/marketloop/funneld/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) Funnels(ctx context.Context) ([]*models.Funnel, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Funnel), args.Error(1)
}

func (m *MockPersistence) FunnelByID(ctx context.Context, id string) (*models.Funnel, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Funnel), args.Error(1)
}

func (m *MockPersistence) FunnelBySlug(ctx context.Context, slug string) (*models.Funnel, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Funnel), args.Error(1)
}

func (m *MockPersistence) SaveFunnel(ctx context.Context, funnel *models.Funnel) error {
	args := m.Called(ctx, funnel)

	return args.Error(0)
}

func (m *MockPersistence) DeleteFunnel(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockPersistence) SaveEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	args := m.Called(ctx, enrollment)

	return args.Error(0)
}

func (m *MockPersistence) EnrollmentByID(ctx context.Context, id string) (*models.Enrollment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Enrollment), args.Error(1)
}

func (m *MockPersistence) ActiveEnrollment(ctx context.Context, funnelID, subscriberID string) (*models.Enrollment, error) {
	args := m.Called(ctx, funnelID, subscriberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Enrollment), args.Error(1)
}

func (m *MockPersistence) EnrollmentsBySubscriber(ctx context.Context, subscriberID string) ([]*models.Enrollment, error) {
	args := m.Called(ctx, subscriberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Enrollment), args.Error(1)
}

func (m *MockPersistence) HasCompletedEnrollment(ctx context.Context, funnelID, subscriberID string) (bool, error) {
	args := m.Called(ctx, funnelID, subscriberID)

	return args.Bool(0), args.Error(1)
}

func (m *MockPersistence) DueEnrollments(ctx context.Context, before time.Time) ([]*models.Enrollment, error) {
	args := m.Called(ctx, before)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Enrollment), args.Error(1)
}

func (m *MockPersistence) ClaimEnrollment(ctx context.Context, id string, until time.Time) (bool, error) {
	args := m.Called(ctx, id, until)

	return args.Bool(0), args.Error(1)
}

func (m *MockPersistence) ReleaseEnrollment(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockPersistence) SaveGoalConversion(ctx context.Context, conversion *models.GoalConversion) error {
	args := m.Called(ctx, conversion)

	return args.Error(0)
}

func (m *MockPersistence) GoalConversionsByFunnel(ctx context.Context, funnelID string) ([]*models.GoalConversion, error) {
	args := m.Called(ctx, funnelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.GoalConversion), args.Error(1)
}

func (m *MockPersistence) SaveExternalTask(ctx context.Context, task *models.ExternalTask) error {
	args := m.Called(ctx, task)

	return args.Error(0)
}

func (m *MockPersistence) ExternalTask(ctx context.Context, funnelID, subscriberID, taskID string) (*models.ExternalTask, error) {
	args := m.Called(ctx, funnelID, subscriberID, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExternalTask), args.Error(1)
}

func (m *MockPersistence) ExternalTasks(ctx context.Context, funnelID, subscriberID string) ([]models.ExternalTask, error) {
	args := m.Called(ctx, funnelID, subscriberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.ExternalTask), args.Error(1)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
