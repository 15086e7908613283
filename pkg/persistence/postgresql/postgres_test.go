package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/marketloop/funneld/pkg/models"
	"github.com/marketloop/funneld/pkg/persistence"
	"github.com/marketloop/funneld/pkg/persistence/postgresql"
	"github.com/marketloop/funneld/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{"external_tasks", "goal_conversions", "enrollments", "funnels", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("funneld_test"),
			postgres.WithUsername("funneld"),
			postgres.WithPassword("funneld"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = store.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return store, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	var exists bool

	for _, table := range []string{"funnels", "enrollments", "goal_conversions", "external_tasks"} {
		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 3, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestNewPersistence_SaveAndRetrieveFunnel(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	funnel := testutil.CreateTestFunnel(testutil.WithSlug("welcome-series"))
	require.NoError(t, p.SaveFunnel(ctx, funnel))

	byID, err := p.FunnelByID(ctx, funnel.ID)
	require.NoError(t, err)
	assert.Equal(t, funnel.Name, byID.Name)
	assert.Equal(t, funnel.StartStepID, byID.StartStepID)
	require.Len(t, byID.Steps, len(funnel.Steps))

	bySlug, err := p.FunnelBySlug(ctx, "welcome-series")
	require.NoError(t, err)
	assert.Equal(t, funnel.ID, bySlug.ID)

	// Saving again with the same ID updates in place.
	funnel.Name = "Welcome Series v2"
	require.NoError(t, p.SaveFunnel(ctx, funnel))

	updated, err := p.FunnelByID(ctx, funnel.ID)
	require.NoError(t, err)
	assert.Equal(t, "Welcome Series v2", updated.Name)

	all, err := p.Funnels(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, p.DeleteFunnel(ctx, funnel.ID))

	_, err = p.FunnelByID(ctx, funnel.ID)
	assert.True(t, persistence.IsFunnelNotFound(err))
}

func TestNewPersistence_FunnelNotFound(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	_, err := p.FunnelByID(ctx, uuid.New().String())
	assert.True(t, persistence.IsFunnelNotFound(err))

	_, err = p.FunnelBySlug(ctx, "no-such-slug")
	assert.True(t, persistence.IsFunnelNotFound(err))
}

func saveTestFunnel(ctx context.Context, t *testing.T, p *postgresql.Persistence) *models.Funnel {
	t.Helper()

	funnel := testutil.CreateTestFunnel()
	require.NoError(t, p.SaveFunnel(ctx, funnel))

	return funnel
}

func TestNewPersistence_EnrollmentLifecycle(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	funnel := saveTestFunnel(ctx, t, p)
	now := time.Now().UTC().Truncate(time.Millisecond)

	enrollment := &models.Enrollment{
		ID:            uuid.New().String(),
		FunnelID:      funnel.ID,
		SubscriberID:  "sub-1",
		CurrentStepID: funnel.StartStepID,
		Status:        models.EnrollmentStatusWaiting,
		NextActionAt:  &now,
		EnteredAt:     now,
		History: []models.HistoryEntry{
			{Event: models.HistoryEventStepExecuted, StepID: funnel.StartStepID, Timestamp: now},
		},
	}
	require.NoError(t, p.SaveEnrollment(ctx, enrollment))

	found, err := p.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusWaiting, found.Status)
	require.NotNil(t, found.NextActionAt)
	assert.WithinDuration(t, now, *found.NextActionAt, time.Second)
	require.Len(t, found.History, 1)
	assert.Equal(t, models.HistoryEventStepExecuted, found.History[0].Event)

	active, err := p.ActiveEnrollment(ctx, funnel.ID, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, enrollment.ID, active.ID)

	// A second open enrollment for the same pair violates the partial
	// unique index.
	duplicate := &models.Enrollment{
		ID:            uuid.New().String(),
		FunnelID:      funnel.ID,
		SubscriberID:  "sub-1",
		CurrentStepID: funnel.StartStepID,
		Status:        models.EnrollmentStatusActive,
		EnteredAt:     now,
	}
	err = p.SaveEnrollment(ctx, duplicate)
	assert.True(t, persistence.IsEnrollmentExists(err))

	// Completing the enrollment frees the pair for re-entry.
	completedAt := now.Add(time.Minute)
	enrollment.Status = models.EnrollmentStatusCompleted
	enrollment.CompletedAt = &completedAt
	enrollment.NextActionAt = nil
	require.NoError(t, p.SaveEnrollment(ctx, enrollment))

	_, err = p.ActiveEnrollment(ctx, funnel.ID, "sub-1")
	assert.True(t, persistence.IsEnrollmentNotFound(err))

	completed, err := p.HasCompletedEnrollment(ctx, funnel.ID, "sub-1")
	require.NoError(t, err)
	assert.True(t, completed)

	require.NoError(t, p.SaveEnrollment(ctx, duplicate))

	bySubscriber, err := p.EnrollmentsBySubscriber(ctx, "sub-1")
	require.NoError(t, err)
	assert.Len(t, bySubscriber, 2)
}

func TestNewPersistence_DueEnrollmentsAndClaims(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	funnel := saveTestFunnel(ctx, t, p)
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	save := func(subscriberID string, status models.EnrollmentStatus, nextActionAt *time.Time) string {
		id := uuid.New().String()
		require.NoError(t, p.SaveEnrollment(ctx, &models.Enrollment{
			ID:            id,
			FunnelID:      funnel.ID,
			SubscriberID:  subscriberID,
			CurrentStepID: funnel.StartStepID,
			Status:        status,
			NextActionAt:  nextActionAt,
			EnteredAt:     now,
		}))

		return id
	}

	dueID := save("sub-due", models.EnrollmentStatusWaiting, &past)
	save("sub-condition", models.EnrollmentStatusWaitingCondition, &past)
	save("sub-future", models.EnrollmentStatusWaiting, &future)
	save("sub-active", models.EnrollmentStatusActive, &past)

	due, err := p.DueEnrollments(ctx, now)
	require.NoError(t, err)
	assert.Len(t, due, 2)

	claimed, err := p.ClaimEnrollment(ctx, dueID, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, claimed)

	// Held claims are denied and hidden from the sweep.
	claimed, err = p.ClaimEnrollment(ctx, dueID, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, claimed)

	due, err = p.DueEnrollments(ctx, now)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	require.NoError(t, p.ReleaseEnrollment(ctx, dueID))

	claimed, err = p.ClaimEnrollment(ctx, dueID, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, claimed)

	// Unknown enrollments are not claimable.
	claimed, err = p.ClaimEnrollment(ctx, uuid.New().String(), now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestNewPersistence_ExpiredClaimIsReclaimable(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	funnel := saveTestFunnel(ctx, t, p)
	now := time.Now().UTC()
	past := now.Add(-time.Minute)

	enrollment := &models.Enrollment{
		ID:            uuid.New().String(),
		FunnelID:      funnel.ID,
		SubscriberID:  "sub-1",
		CurrentStepID: funnel.StartStepID,
		Status:        models.EnrollmentStatusWaiting,
		NextActionAt:  &past,
		EnteredAt:     now,
	}
	require.NoError(t, p.SaveEnrollment(ctx, enrollment))

	// A lease already in the past does not block a new claimant.
	claimed, err := p.ClaimEnrollment(ctx, enrollment.ID, now.Add(-time.Second))
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = p.ClaimEnrollment(ctx, enrollment.ID, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestNewPersistence_ExternalTasks(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	now := time.Now().UTC()

	task := &models.ExternalTask{
		ID:           uuid.New().String(),
		TaskID:       "quiz-1",
		FunnelID:     "funnel-1",
		SubscriberID: "sub-1",
		CompletedAt:  now,
		Metadata:     map[string]any{"score": 87.5},
	}
	require.NoError(t, p.SaveExternalTask(ctx, task))

	found, err := p.ExternalTask(ctx, "funnel-1", "sub-1", "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, "quiz-1", found.TaskID)
	assert.InDelta(t, 87.5, found.Metadata["score"], 0.001)

	// Re-completing the same task overwrites the record.
	task.ID = uuid.New().String()
	task.Metadata = map[string]any{"score": 95.0}
	require.NoError(t, p.SaveExternalTask(ctx, task))

	tasks, err := p.ExternalTasks(ctx, "funnel-1", "sub-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.InDelta(t, 95.0, tasks[0].Metadata["score"], 0.001)

	_, err = p.ExternalTask(ctx, "funnel-1", "sub-1", "quiz-2")
	assert.True(t, persistence.IsExternalTaskNotFound(err))
}

func TestNewPersistence_GoalConversions(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	now := time.Now().UTC()

	first := &models.GoalConversion{
		ID:           uuid.New().String(),
		FunnelID:     "funnel-1",
		SubscriberID: "sub-1",
		GoalName:     "Purchased",
		GoalKind:     "purchase",
		Value:        49.90,
		ConvertedAt:  now.Add(-time.Hour),
	}
	second := &models.GoalConversion{
		ID:           uuid.New().String(),
		FunnelID:     "funnel-1",
		SubscriberID: "sub-2",
		GoalName:     "Purchased",
		GoalKind:     "purchase",
		Value:        19.90,
		ConvertedAt:  now,
	}
	require.NoError(t, p.SaveGoalConversion(ctx, second))
	require.NoError(t, p.SaveGoalConversion(ctx, first))
	require.NoError(t, p.SaveGoalConversion(ctx, &models.GoalConversion{
		ID:           uuid.New().String(),
		FunnelID:     "funnel-2",
		SubscriberID: "sub-1",
		GoalKind:     "signup",
		ConvertedAt:  now,
	}))

	conversions, err := p.GoalConversionsByFunnel(ctx, "funnel-1")
	require.NoError(t, err)
	require.Len(t, conversions, 2)

	// Ordered by conversion time, oldest first.
	assert.Equal(t, first.ID, conversions[0].ID)
	assert.Equal(t, second.ID, conversions[1].ID)
	assert.InDelta(t, 49.90, conversions[0].Value, 0.001)
}
