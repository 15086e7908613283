package actions

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/marketloop/funneld/pkg/models"
	"github.com/marketloop/funneld/pkg/testutil"
	"github.com/marketloop/funneld/pkg/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type executorHarness struct {
	executor    *Executor
	subscribers *testutil.FakeSubscriberService
	tags        *testutil.FakeTagService
	messages    *testutil.FakeMessageService
}

func newExecutorHarness(subscribers ...*models.Subscriber) *executorHarness {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	subscriberService := testutil.NewFakeSubscriberService(subscribers...)
	tagService := testutil.NewFakeTagService(subscriberService)
	messageService := testutil.NewFakeMessageService()

	return &executorHarness{
		executor:    NewExecutor(tagService, messageService, webhook.NewClient(logger), logger),
		subscribers: subscriberService,
		tags:        tagService,
		messages:    messageService,
	}
}

func TestExecutor_Execute_AddTag(t *testing.T) {
	subscriber := testutil.CreateTestSubscriber()
	h := newExecutorHarness(subscriber)

	step := testutil.ActionStep("a1", models.ActionKindAddTag, map[string]any{"tag": "vip"}, "end")

	result := h.executor.Execute(context.Background(), step, testutil.CreateTestFunnel(), subscriber)

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.False(t, result.Failed())
	assert.True(t, subscriber.HasTag("vip"))
}

func TestExecutor_Execute_RemoveTag(t *testing.T) {
	subscriber := testutil.CreateTestSubscriber(testutil.WithTags("vip", "customer"))
	h := newExecutorHarness(subscriber)

	step := testutil.ActionStep("a1", models.ActionKindRemoveTag, map[string]any{"tag": "vip"}, "end")

	result := h.executor.Execute(context.Background(), step, testutil.CreateTestFunnel(), subscriber)

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.False(t, subscriber.HasTag("vip"))
	assert.True(t, subscriber.HasTag("customer"))
}

func TestExecutor_Execute_TagServiceFailureIsTransient(t *testing.T) {
	subscriber := testutil.CreateTestSubscriber()
	h := newExecutorHarness(subscriber)
	h.tags.Err = assert.AnError

	step := testutil.ActionStep("a1", models.ActionKindAddTag, map[string]any{"tag": "vip"}, "end")

	result := h.executor.Execute(context.Background(), step, testutil.CreateTestFunnel(), subscriber)

	assert.Equal(t, OutcomeTransient, result.Outcome)
	require.Error(t, result.Err)
}

func TestExecutor_Execute_MissingConfigIsPermanent(t *testing.T) {
	subscriber := testutil.CreateTestSubscriber()
	h := newExecutorHarness(subscriber)

	tests := []struct {
		name string
		step *models.Step
	}{
		{"tag action without tag", testutil.ActionStep("a1", models.ActionKindAddTag, map[string]any{}, "end")},
		{"message action without message_id", testutil.ActionStep("a2", models.ActionKindSendMessage, map[string]any{}, "end")},
		{"webhook action without url", testutil.ActionStep("a3", models.ActionKindWebhook, map[string]any{}, "end")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := h.executor.Execute(context.Background(), tt.step, testutil.CreateTestFunnel(), subscriber)

			assert.Equal(t, OutcomePermanent, result.Outcome)
			require.ErrorIs(t, result.Err, models.ErrInvalidStepConfig)
		})
	}
}

func TestExecutor_Execute_SendMessage(t *testing.T) {
	subscriber := testutil.CreateTestSubscriber()
	h := newExecutorHarness(subscriber)

	step := testutil.ActionStep("a1", models.ActionKindSendMessage, map[string]any{"message_id": "welcome-1"}, "end")

	result := h.executor.Execute(context.Background(), step, testutil.CreateTestFunnel(), subscriber)

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, []string{"welcome-1"}, h.messages.Sent[subscriber.ID])
}

func TestExecutor_Execute_WebhookClassification(t *testing.T) {
	subscriber := testutil.CreateTestSubscriber()
	h := newExecutorHarness(subscriber)

	tests := []struct {
		name        string
		statusCode  int
		wantOutcome Outcome
	}{
		{"2xx succeeds", http.StatusOK, OutcomeSuccess},
		{"4xx is permanent", http.StatusUnprocessableEntity, OutcomePermanent},
		{"5xx is transient", http.StatusBadGateway, OutcomeTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			step := testutil.ActionStep("a1", models.ActionKindWebhook, map[string]any{"url": server.URL}, "end")

			result := h.executor.Execute(context.Background(), step, testutil.CreateTestFunnel(), subscriber)

			assert.Equal(t, tt.wantOutcome, result.Outcome)
			assert.Equal(t, tt.statusCode, result.Output["status_code"])
		})
	}
}

func TestExecutor_Execute_UnknownKindIsPermanent(t *testing.T) {
	subscriber := testutil.CreateTestSubscriber()
	h := newExecutorHarness(subscriber)

	step := &models.Step{ID: "a1", Type: models.StepTypeAction, ActionKind: "launch_rocket"}

	result := h.executor.Execute(context.Background(), step, testutil.CreateTestFunnel(), subscriber)

	assert.Equal(t, OutcomePermanent, result.Outcome)
	require.ErrorIs(t, result.Err, models.ErrInvalidStepConfig)
}
