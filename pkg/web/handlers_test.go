package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/marketloop/funneld/pkg/actions"
	"github.com/marketloop/funneld/pkg/engine"
	"github.com/marketloop/funneld/pkg/models"
	"github.com/marketloop/funneld/pkg/persistence/file"
	"github.com/marketloop/funneld/pkg/testutil"
	"github.com/marketloop/funneld/pkg/web"
	"github.com/marketloop/funneld/pkg/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	app         *fiber.App
	persistence *file.Persistence
	subscribers *testutil.FakeSubscriberService
}

func setupTestApp(t *testing.T, subscribers ...*models.Subscriber) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	store := file.NewPersistence(t.TempDir())
	subscriberService := testutil.NewFakeSubscriberService(subscribers...)
	executor := actions.NewExecutor(testutil.NewFakeTagService(subscriberService), testutil.NewFakeMessageService(), webhook.NewClient(logger), logger)
	funnelEngine := engine.New(store, executor, subscriberService, logger)

	handlers := web.NewAPIHandlers(store, funnelEngine, subscriberService, nil, validator.New(validator.WithRequiredStructEnabled()), logger)

	app := fiber.New()

	task := app.Group("/funnel/task")
	task.Post("/complete", handlers.CompleteTask)
	task.Get("/status", handlers.TaskStatus)

	funnels := app.Group("/funnels")
	funnels.Post("/", handlers.CreateFunnel)
	funnels.Get("/", handlers.GetFunnels)
	funnels.Get("/:id", handlers.GetFunnel)
	funnels.Post("/:id/activate", handlers.ActivateFunnel)
	funnels.Post("/:id/pause", handlers.PauseFunnel)
	funnels.Post("/:id/enroll", handlers.EnrollSubscriber)
	funnels.Get("/:id/conversions", handlers.GetConversions)

	return &testEnv{app: app, persistence: store, subscribers: subscriberService}
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) *http.Response {
	t.Helper()

	encoded, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(encoded))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeGateway(t *testing.T, resp *http.Response) web.GatewayResponse {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded web.GatewayResponse
	require.NoError(t, json.Unmarshal(body, &decoded))

	return decoded
}

func TestCompleteTask_UnknownSubscriber(t *testing.T) {
	env := setupTestApp(t)

	resp := postJSON(t, env.app, "/funnel/task/complete", web.CompleteTaskRequest{
		TaskID:          "quiz-1",
		SubscriberEmail: "ghost@example.com",
	})

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	decoded := decodeGateway(t, resp)
	assert.False(t, decoded.Success)
	assert.Equal(t, web.ErrCodeSubscriberNotFound, decoded.Error)
}

func TestCompleteTask_NoMatchingFunnels(t *testing.T) {
	subscriber := testutil.CreateTestSubscriber()
	env := setupTestApp(t, subscriber)

	resp := postJSON(t, env.app, "/funnel/task/complete", web.CompleteTaskRequest{
		TaskID:          "quiz-1",
		SubscriberEmail: subscriber.Email,
	})

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	decoded := decodeGateway(t, resp)
	assert.Equal(t, web.ErrCodeNoActiveFunnels, decoded.Error)
}

func TestCompleteTask_RecordsTaskForOpenEnrollments(t *testing.T) {
	ctx := context.Background()
	subscriber := testutil.CreateTestSubscriber()
	env := setupTestApp(t, subscriber)

	funnel := testutil.CreateTestFunnel()
	require.NoError(t, env.persistence.SaveFunnel(ctx, funnel))

	enrollment := &models.Enrollment{
		ID:            "e1",
		FunnelID:      funnel.ID,
		SubscriberID:  subscriber.ID,
		CurrentStepID: "start",
		Status:        models.EnrollmentStatusWaitingCondition,
		EnteredAt:     time.Now().UTC(),
	}
	require.NoError(t, env.persistence.SaveEnrollment(ctx, enrollment))

	resp := postJSON(t, env.app, "/funnel/task/complete", web.CompleteTaskRequest{
		TaskID:          "quiz-1",
		SubscriberEmail: subscriber.Email,
		Metadata:        map[string]any{"score": 87},
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)

	decoded := decodeGateway(t, resp)
	assert.True(t, decoded.Success)

	data := decoded.Data.(map[string]any)
	assert.Equal(t, "quiz-1", data["task_id"])
	assert.Equal(t, float64(1), data["funnels_affected"])

	task, err := env.persistence.ExternalTask(ctx, funnel.ID, subscriber.ID, "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, float64(87), task.Metadata["score"])
}

func TestCompleteTask_ResolvesFunnelBySlug(t *testing.T) {
	ctx := context.Background()
	subscriber := testutil.CreateTestSubscriber()
	env := setupTestApp(t, subscriber)

	funnel := testutil.CreateTestFunnel(testutil.WithSlug("webinar"))
	require.NoError(t, env.persistence.SaveFunnel(ctx, funnel))

	resp := postJSON(t, env.app, "/funnel/task/complete", web.CompleteTaskRequest{
		TaskID:          "attended",
		SubscriberEmail: subscriber.Email,
		FunnelSlug:      "webinar",
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err := env.persistence.ExternalTask(ctx, funnel.ID, subscriber.ID, "attended")
	require.NoError(t, err)
}

func TestTaskStatus(t *testing.T) {
	ctx := context.Background()
	subscriber := testutil.CreateTestSubscriber()
	env := setupTestApp(t, subscriber)

	funnel := testutil.CreateTestFunnel()
	require.NoError(t, env.persistence.SaveFunnel(ctx, funnel))

	completedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, env.persistence.SaveExternalTask(ctx, &models.ExternalTask{
		ID:           "t1",
		TaskID:       "quiz-1",
		FunnelID:     funnel.ID,
		SubscriberID: subscriber.ID,
		CompletedAt:  completedAt,
	}))

	t.Run("completed task", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/funnel/task/status?task_id=quiz-1&subscriber_email="+subscriber.Email, nil)
		resp, err := env.app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		decoded := decodeGateway(t, resp)
		data := decoded.Data.(map[string]any)
		assert.Equal(t, true, data["completed"])
		assert.NotEmpty(t, data["completed_at"])
	})

	t.Run("pending task answers completed false", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/funnel/task/status?task_id=quiz-9&subscriber_email="+subscriber.Email, nil)
		resp, err := env.app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		decoded := decodeGateway(t, resp)
		data := decoded.Data.(map[string]any)
		assert.Equal(t, false, data["completed"])
	})

	t.Run("missing parameters", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/funnel/task/status?task_id=quiz-1", nil)
		resp, err := env.app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestCreateFunnel(t *testing.T) {
	env := setupTestApp(t)

	t.Run("valid definition", func(t *testing.T) {
		resp := postJSON(t, env.app, "/funnels/", web.CreateFunnelRequest{
			Name:        "Onboarding",
			Slug:        "onboarding",
			StartStepID: "start",
			Steps: []*models.Step{
				{ID: "start", Type: models.StepTypeStart, NextStepID: "end"},
				{ID: "end", Type: models.StepTypeEnd},
			},
		})

		require.Equal(t, http.StatusCreated, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		var funnel models.Funnel
		require.NoError(t, json.Unmarshal(body, &funnel))
		assert.NotEmpty(t, funnel.ID)
		assert.Equal(t, models.FunnelStatusDraft, funnel.Status)
		assert.Equal(t, funnel.ID, funnel.Steps[0].FunnelID)
	})

	t.Run("schema rejects unknown step type", func(t *testing.T) {
		resp := postJSON(t, env.app, "/funnels/", map[string]any{
			"name":          "Broken",
			"slug":          "broken",
			"start_step_id": "start",
			"steps":         []map[string]any{{"id": "start", "type": "teleport"}},
		})

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("graph validation rejects dangling edge", func(t *testing.T) {
		resp := postJSON(t, env.app, "/funnels/", web.CreateFunnelRequest{
			Name:        "Dangling",
			Slug:        "dangling",
			StartStepID: "start",
			Steps: []*models.Step{
				{ID: "start", Type: models.StepTypeStart, NextStepID: "missing"},
			},
		})

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestFunnelLifecycle(t *testing.T) {
	ctx := context.Background()
	subscriber := testutil.CreateTestSubscriber()
	env := setupTestApp(t, subscriber)

	funnel := testutil.CreateTestFunnel(testutil.WithStatus(models.FunnelStatusDraft))
	require.NoError(t, env.persistence.SaveFunnel(ctx, funnel))

	// A draft funnel declines enrollments.
	resp := postJSON(t, env.app, "/funnels/"+funnel.ID+"/enroll", web.EnrollRequest{SubscriberEmail: subscriber.Email})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Activate, then the same enrollment goes through.
	resp = postJSON(t, env.app, "/funnels/"+funnel.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, env.app, "/funnels/"+funnel.ID+"/enroll", web.EnrollRequest{SubscriberEmail: subscriber.Email})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var enrollment models.Enrollment
	require.NoError(t, json.Unmarshal(body, &enrollment))
	assert.Equal(t, models.EnrollmentStatusCompleted, enrollment.Status)

	// Pause is reflected on the stored funnel.
	resp = postJSON(t, env.app, "/funnels/"+funnel.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := env.persistence.FunnelByID(ctx, funnel.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FunnelStatusPaused, stored.Status)
}

func TestEnrollSubscriber_UnknownSubscriber(t *testing.T) {
	ctx := context.Background()
	env := setupTestApp(t)

	funnel := testutil.CreateTestFunnel()
	require.NoError(t, env.persistence.SaveFunnel(ctx, funnel))

	resp := postJSON(t, env.app, "/funnels/"+funnel.ID+"/enroll", web.EnrollRequest{SubscriberEmail: "ghost@example.com"})

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetConversions(t *testing.T) {
	ctx := context.Background()
	subscriber := testutil.CreateTestSubscriber()
	env := setupTestApp(t, subscriber)

	funnel := testutil.CreateTestFunnel(testutil.WithSteps(
		testutil.StartStep("start", "purchase"),
		testutil.GoalStep("purchase", "Bought course", "purchase", 49.0, "end"),
		testutil.EndStep("end"),
	))
	require.NoError(t, env.persistence.SaveFunnel(ctx, funnel))

	resp := postJSON(t, env.app, "/funnels/"+funnel.ID+"/enroll", web.EnrollRequest{SubscriberEmail: subscriber.Email})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/funnels/"+funnel.ID+"/conversions", nil)
	listResp, err := env.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	body, err := io.ReadAll(listResp.Body)
	require.NoError(t, err)

	var decoded struct {
		Conversions []models.GoalConversion `json:"conversions"`
		TotalCount  int                     `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, 1, decoded.TotalCount)
	assert.Equal(t, "purchase", decoded.Conversions[0].GoalKind)
}

func TestGetFunnel_NotFound(t *testing.T) {
	env := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/funnels/missing", nil)
	resp, err := env.app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
