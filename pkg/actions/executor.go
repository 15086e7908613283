// Package actions dispatches ACTION step side effects against external
// collaborators. The action vocabulary is a closed set; dispatch is a switch
// on the action kind, not open-ended dynamic dispatch.
package actions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marketloop/funneld/pkg/models"
	"github.com/marketloop/funneld/pkg/protocol"
	"github.com/marketloop/funneld/pkg/template"
	"github.com/marketloop/funneld/pkg/webhook"
)

// Outcome classifies an action result. The engine decides retry policy from
// the classification; the executor never silently swallows errors.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient_failure"
	OutcomePermanent Outcome = "permanent_failure"
)

// Result is the outcome of one action dispatch.
type Result struct {
	Outcome Outcome
	Output  map[string]any
	Err     error
}

// Failed reports whether the action did not succeed.
func (r Result) Failed() bool {
	return r.Outcome != OutcomeSuccess
}

// Executor maps action kinds to side effects.
type Executor struct {
	tags     protocol.TagService
	messages protocol.MessageService
	webhooks *webhook.Client
	logger   *slog.Logger
}

// NewExecutor creates an action executor over the given collaborators.
func NewExecutor(tags protocol.TagService, messages protocol.MessageService, webhooks *webhook.Client, logger *slog.Logger) *Executor {
	return &Executor{
		tags:     tags,
		messages: messages,
		webhooks: webhooks,
		logger:   logger.With("component", "action_executor"),
	}
}

// Execute dispatches one ACTION step for the given enrollment context.
func (e *Executor) Execute(ctx context.Context, step *models.Step, funnel *models.Funnel, subscriber *models.Subscriber) Result {
	logger := e.logger.With("step_id", step.ID, "action_kind", step.ActionKind)

	switch step.ActionKind {
	case models.ActionKindAddTag:
		return e.executeTag(ctx, logger, step, subscriber, e.tags.AddTag)
	case models.ActionKindRemoveTag:
		return e.executeTag(ctx, logger, step, subscriber, e.tags.RemoveTag)
	case models.ActionKindSendMessage:
		return e.executeSendMessage(ctx, logger, step, subscriber)
	case models.ActionKindWebhook:
		return e.executeWebhook(ctx, logger, step, funnel, subscriber)
	default:
		return Result{
			Outcome: OutcomePermanent,
			Err:     fmt.Errorf("%w: unknown action kind %q", models.ErrInvalidStepConfig, step.ActionKind),
		}
	}
}

func (e *Executor) executeTag(ctx context.Context, logger *slog.Logger, step *models.Step, subscriber *models.Subscriber, apply func(context.Context, string, string) error) Result {
	tag, _ := step.ActionConfig["tag"].(string)
	if tag == "" {
		return Result{
			Outcome: OutcomePermanent,
			Err:     fmt.Errorf("%w: action step %q requires a tag", models.ErrInvalidStepConfig, step.ID),
		}
	}

	err := apply(ctx, subscriber.ID, tag)
	if err != nil {
		logger.ErrorContext(ctx, "Tag action failed", "tag", tag, "error", err)

		// The tag service is assumed reachable again later; classify as
		// transient so the sweep retries.
		return Result{Outcome: OutcomeTransient, Err: fmt.Errorf("tag action failed: %w", err)}
	}

	return Result{Outcome: OutcomeSuccess, Output: map[string]any{"tag": tag}}
}

func (e *Executor) executeSendMessage(ctx context.Context, logger *slog.Logger, step *models.Step, subscriber *models.Subscriber) Result {
	messageID, _ := step.ActionConfig["message_id"].(string)
	if messageID == "" {
		return Result{
			Outcome: OutcomePermanent,
			Err:     fmt.Errorf("%w: action step %q requires a message_id", models.ErrInvalidStepConfig, step.ID),
		}
	}

	err := e.messages.Send(ctx, subscriber.ID, messageID)
	if err != nil {
		logger.ErrorContext(ctx, "Message dispatch failed", "message_id", messageID, "error", err)

		return Result{Outcome: OutcomeTransient, Err: fmt.Errorf("message dispatch failed: %w", err)}
	}

	return Result{Outcome: OutcomeSuccess, Output: map[string]any{"message_id": messageID}}
}

func (e *Executor) executeWebhook(ctx context.Context, logger *slog.Logger, step *models.Step, funnel *models.Funnel, subscriber *models.Subscriber) Result {
	config, err := webhookConfig(step)
	if err != nil {
		return Result{Outcome: OutcomePermanent, Err: err}
	}

	result := e.webhooks.Send(ctx, config, template.Context(funnel, subscriber))

	output := map[string]any{
		"status_code": result.StatusCode,
		"attempts":    result.Attempts,
	}

	if result.Success {
		return Result{Outcome: OutcomeSuccess, Output: output}
	}

	logger.ErrorContext(ctx, "Webhook delivery failed",
		"url", config.URL, "status_code", result.StatusCode, "attempts", result.Attempts, "error", result.Err)

	outcome := OutcomePermanent
	if result.Transient() {
		outcome = OutcomeTransient
	}

	return Result{Outcome: outcome, Output: output, Err: result.Err}
}

// webhookConfig extracts the delivery configuration from the action's
// configuration map.
func webhookConfig(step *models.Step) (webhook.Config, error) {
	url, _ := step.ActionConfig["url"].(string)
	if url == "" {
		return webhook.Config{}, fmt.Errorf("%w: action step %q requires a url", models.ErrInvalidStepConfig, step.ID)
	}

	config := webhook.Config{URL: url}

	config.Method, _ = step.ActionConfig["method"].(string)
	config.APIKey, _ = step.ActionConfig["api_key"].(string)
	config.BasicAuth, _ = step.ActionConfig["basic_auth"].(string)

	if payload, ok := step.ActionConfig["payload"].(map[string]any); ok {
		config.Payload = payload
	}

	if headers, ok := step.ActionConfig["headers"].(map[string]any); ok {
		config.Headers = make(map[string]string, len(headers))

		for key, value := range headers {
			if str, ok := value.(string); ok {
				config.Headers[key] = str
			}
		}
	}

	return config, nil
}
