package scheduler

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/marketloop/funneld/pkg/actions"
	"github.com/marketloop/funneld/pkg/engine"
	"github.com/marketloop/funneld/pkg/mocks"
	"github.com/marketloop/funneld/pkg/models"
	"github.com/marketloop/funneld/pkg/persistence/file"
	"github.com/marketloop/funneld/pkg/testutil"
	"github.com/marketloop/funneld/pkg/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeAdvancer struct {
	advanced []string
	err      error
}

func (f *fakeAdvancer) Advance(_ context.Context, enrollment *models.Enrollment) error {
	f.advanced = append(f.advanced, enrollment.ID)

	return f.err
}

type denyLocker struct{}

func (denyLocker) Acquire(context.Context, string, time.Duration) (bool, error) { return false, nil }
func (denyLocker) Release(context.Context, string) error                        { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestSweeper_ProcessReadyEnrollments_AdvancesDueEnrollment(t *testing.T) {
	ctx := context.Background()
	enrollment := &models.Enrollment{ID: "e1", FunnelID: "f1", Status: models.EnrollmentStatusWaiting}

	store := &mocks.MockPersistence{}
	store.On("DueEnrollments", ctx, mock.AnythingOfType("time.Time")).Return([]*models.Enrollment{enrollment}, nil)
	store.On("ClaimEnrollment", ctx, "e1", mock.AnythingOfType("time.Time")).Return(true, nil)
	store.On("ReleaseEnrollment", ctx, "e1").Return(nil)

	advancer := &fakeAdvancer{}
	sweeper := NewSweeper(store, advancer, testLogger())

	processed, err := sweeper.ProcessReadyEnrollments(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, []string{"e1"}, advancer.advanced)
	store.AssertExpectations(t)
}

func TestSweeper_ProcessReadyEnrollments_NothingDue(t *testing.T) {
	ctx := context.Background()

	store := &mocks.MockPersistence{}
	store.On("DueEnrollments", ctx, mock.AnythingOfType("time.Time")).Return([]*models.Enrollment{}, nil)

	advancer := &fakeAdvancer{}
	sweeper := NewSweeper(store, advancer, testLogger())

	processed, err := sweeper.ProcessReadyEnrollments(ctx)

	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Empty(t, advancer.advanced)
	store.AssertNotCalled(t, "ClaimEnrollment")
}

func TestSweeper_ProcessReadyEnrollments_SkipsLostClaims(t *testing.T) {
	ctx := context.Background()
	enrollment := &models.Enrollment{ID: "e1", FunnelID: "f1", Status: models.EnrollmentStatusWaiting}

	store := &mocks.MockPersistence{}
	store.On("DueEnrollments", ctx, mock.AnythingOfType("time.Time")).Return([]*models.Enrollment{enrollment}, nil)
	store.On("ClaimEnrollment", ctx, "e1", mock.AnythingOfType("time.Time")).Return(false, nil)

	advancer := &fakeAdvancer{}
	sweeper := NewSweeper(store, advancer, testLogger())

	processed, err := sweeper.ProcessReadyEnrollments(ctx)

	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Empty(t, advancer.advanced, "a lost claim must not be advanced")
	store.AssertNotCalled(t, "ReleaseEnrollment")
}

func TestSweeper_ProcessReadyEnrollments_ReleasesAfterAdvanceFailure(t *testing.T) {
	ctx := context.Background()
	enrollment := &models.Enrollment{ID: "e1", FunnelID: "f1", Status: models.EnrollmentStatusWaiting}

	store := &mocks.MockPersistence{}
	store.On("DueEnrollments", ctx, mock.AnythingOfType("time.Time")).Return([]*models.Enrollment{enrollment}, nil)
	store.On("ClaimEnrollment", ctx, "e1", mock.AnythingOfType("time.Time")).Return(true, nil)
	store.On("ReleaseEnrollment", ctx, "e1").Return(nil)

	advancer := &fakeAdvancer{err: assert.AnError}
	sweeper := NewSweeper(store, advancer, testLogger())

	processed, err := sweeper.ProcessReadyEnrollments(ctx)

	require.NoError(t, err, "one failed enrollment must not abort the sweep")
	assert.Equal(t, 0, processed)
	store.AssertCalled(t, "ReleaseEnrollment", ctx, "e1")
}

func TestSweeper_ProcessReadyEnrollments_LockerDeniesClaim(t *testing.T) {
	ctx := context.Background()
	enrollment := &models.Enrollment{ID: "e1", FunnelID: "f1", Status: models.EnrollmentStatusWaiting}

	store := &mocks.MockPersistence{}
	store.On("DueEnrollments", ctx, mock.AnythingOfType("time.Time")).Return([]*models.Enrollment{enrollment}, nil)

	advancer := &fakeAdvancer{}
	sweeper := NewSweeper(store, advancer, testLogger(), WithLocker(denyLocker{}))

	processed, err := sweeper.ProcessReadyEnrollments(ctx)

	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	store.AssertNotCalled(t, "ClaimEnrollment")
}

// End to end against the file store: a waiting enrollment whose wake time
// has passed gets swept to completion.
func TestSweeper_ProcessReadyEnrollments_CompletesWaitingEnrollment(t *testing.T) {
	ctx := context.Background()
	logger := testLogger()

	store := file.NewPersistence(t.TempDir())
	subscriber := testutil.CreateTestSubscriber()
	subscribers := testutil.NewFakeSubscriberService(subscriber)
	executor := actions.NewExecutor(testutil.NewFakeTagService(subscribers), testutil.NewFakeMessageService(), webhook.NewClient(logger), logger)
	funnelEngine := engine.New(store, executor, subscribers, logger)

	funnel := testutil.CreateTestFunnel(testutil.WithSteps(
		testutil.StartStep("start", "wait"),
		testutil.DelayStep("wait", 1, models.DelayUnitMinutes, "end"),
		testutil.EndStep("end"),
	))
	require.NoError(t, store.SaveFunnel(ctx, funnel))

	enrollment, err := funnelEngine.Enroll(ctx, funnel, subscriber)
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusWaiting, enrollment.Status)

	// Backdate the wake time so the sweep picks the enrollment up.
	past := time.Now().UTC().Add(-time.Minute)
	enrollment.NextActionAt = &past
	require.NoError(t, store.SaveEnrollment(ctx, enrollment))

	sweeper := NewSweeper(store, funnelEngine, logger)

	processed, err := sweeper.ProcessReadyEnrollments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	swept, err := store.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, swept.Status)

	// A second sweep finds nothing to do.
	processed, err = sweeper.ProcessReadyEnrollments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
}
