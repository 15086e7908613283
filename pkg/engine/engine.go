// Package engine implements the funnel execution engine: a per-subscriber
// state machine that walks the step graph until it must suspend or
// terminate. All suspended state is persisted; resumption is a fresh
// Advance call driven by the scheduler, never a kept-alive goroutine.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/marketloop/funneld/pkg/actions"
	"github.com/marketloop/funneld/pkg/eventbus"
	"github.com/marketloop/funneld/pkg/events"
	"github.com/marketloop/funneld/pkg/models"
	"github.com/marketloop/funneld/pkg/otelhelper"
	"github.com/marketloop/funneld/pkg/persistence"
	"github.com/marketloop/funneld/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// maxStepsPerPass bounds one Advance call so a cyclic graph cannot spin
	// forever; the pass suspends and the next sweep resumes it.
	maxStepsPerPass = 1000

	// maxActionRetries bounds transient action retries per step, counted
	// from action_failed history entries.
	maxActionRetries = 3
)

type Engine struct {
	persistence persistence.Persistence
	actions     *actions.Executor
	subscribers protocol.SubscriberService
	eventBus    eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger

	now func() time.Time
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithEventBus wires lifecycle event publication.
func WithEventBus(bus eventbus.EventPublisher) Option {
	return func(e *Engine) { e.eventBus = bus }
}

// WithTracer wires execution tracing.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithClock replaces the engine clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(store persistence.Persistence, executor *actions.Executor, subscribers protocol.SubscriberService, logger *slog.Logger, opts ...Option) *Engine {
	engine := &Engine{
		persistence: store,
		actions:     executor,
		subscribers: subscribers,
		tracer:      noop.NewTracerProvider().Tracer("funneld"),
		logger:      logger.With("component", "engine"),
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Enroll creates an enrollment for the subscriber and immediately advances
// it. A nil enrollment with a nil error is a declined enrollment, not a
// failure: the funnel is not active, the pair already has a non-terminal
// enrollment, or a completed enrollment blocks re-entry.
func (e *Engine) Enroll(ctx context.Context, funnel *models.Funnel, subscriber *models.Subscriber) (*models.Enrollment, error) {
	logger := e.logger.With("funnel_id", funnel.ID, "subscriber_id", subscriber.ID)

	if !funnel.IsActive() {
		logger.InfoContext(ctx, "Enrollment declined, funnel is not active", "status", funnel.Status)

		return nil, nil
	}

	_, err := e.persistence.ActiveEnrollment(ctx, funnel.ID, subscriber.ID)
	if err == nil {
		logger.InfoContext(ctx, "Enrollment declined, subscriber already enrolled")

		return nil, nil
	}

	if !persistence.IsEnrollmentNotFound(err) {
		return nil, fmt.Errorf("failed to check existing enrollment: %w", err)
	}

	if !funnel.AllowReentry {
		completed, err := e.persistence.HasCompletedEnrollment(ctx, funnel.ID, subscriber.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check completed enrollments: %w", err)
		}

		if completed {
			logger.InfoContext(ctx, "Enrollment declined, funnel does not allow re-entry")

			return nil, nil
		}
	}

	enrollment := &models.Enrollment{
		ID:            uuid.New().String(),
		FunnelID:      funnel.ID,
		SubscriberID:  subscriber.ID,
		CurrentStepID: funnel.StartStepID,
		Status:        models.EnrollmentStatusActive,
		EnteredAt:     e.now(),
	}

	err = e.persistence.SaveEnrollment(ctx, enrollment)
	if err != nil {
		if persistence.IsEnrollmentExists(err) {
			// Lost a concurrent enrollment race; treat as declined.
			return nil, nil
		}

		return nil, fmt.Errorf("failed to save enrollment: %w", err)
	}

	logger.InfoContext(ctx, "Enrollment created", "enrollment_id", enrollment.ID)

	e.publish(ctx, events.EnrollmentCreated{
		BaseEvent:    e.baseEvent(events.EnrollmentCreatedEvent, enrollment),
		EnrollmentID: enrollment.ID,
	})

	err = e.Advance(ctx, enrollment)
	if err != nil {
		return nil, err
	}

	return enrollment, nil
}

// Advance executes steps from the enrollment's current position until it
// suspends or terminates. A step failure never corrupts the current step
// pointer: the enrollment always points at the step that must run next, so
// retries redo exactly one step.
func (e *Engine) Advance(ctx context.Context, enrollment *models.Enrollment) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.advance",
		attribute.String(otelhelper.EnrollmentIDKey, enrollment.ID),
		attribute.String(otelhelper.FunnelIDKey, enrollment.FunnelID),
		attribute.String(otelhelper.SubscriberIDKey, enrollment.SubscriberID),
	)
	defer span.End()

	logger := e.logger.With("enrollment_id", enrollment.ID, "funnel_id", enrollment.FunnelID)

	funnel, err := e.persistence.FunnelByID(ctx, enrollment.FunnelID)
	if err != nil {
		otelhelper.SetError(span, err)
		e.parkForRetry(ctx, logger, enrollment)

		return fmt.Errorf("failed to fetch funnel %s: %w", enrollment.FunnelID, err)
	}

	// Pausing a funnel freezes in-flight enrollments; they stay suspended
	// until the funnel is active again.
	if funnel.Status == models.FunnelStatusPaused {
		logger.InfoContext(ctx, "Funnel is paused, leaving enrollment suspended")

		return nil
	}

	subscriber, err := e.subscribers.FindByID(ctx, enrollment.SubscriberID)
	if err != nil {
		otelhelper.SetError(span, err)
		e.parkForRetry(ctx, logger, enrollment)

		return fmt.Errorf("failed to fetch subscriber %s: %w", enrollment.SubscriberID, err)
	}

	for range maxStepsPerPass {
		step, ok := funnel.StepByID(enrollment.CurrentStepID)
		if !ok {
			err := fmt.Errorf("step %s not found in funnel %s", enrollment.CurrentStepID, funnel.ID)
			otelhelper.SetError(span, err)

			return err
		}

		span.AddEvent("step", trace.WithAttributes(
			attribute.String(otelhelper.StepIDKey, step.ID),
			attribute.String(otelhelper.StepTypeKey, string(step.Type)),
		))

		done, err := e.executeStep(ctx, logger, funnel, subscriber, enrollment, step)
		if err != nil {
			otelhelper.SetError(span, err)
			e.parkForRetry(ctx, logger, enrollment)

			return err
		}

		if done {
			return nil
		}
	}

	// Step budget exhausted; suspend and let the next sweep continue.
	logger.WarnContext(ctx, "Advance pass hit the step budget, suspending", "steps_completed", enrollment.StepsCompleted)

	return e.suspend(ctx, enrollment, models.EnrollmentStatusWaiting, e.now())
}

// executeStep runs one step. It returns done=true when the pass must stop
// (suspension or termination).
func (e *Engine) executeStep(ctx context.Context, logger *slog.Logger, funnel *models.Funnel, subscriber *models.Subscriber, enrollment *models.Enrollment, step *models.Step) (bool, error) {
	switch step.Type {
	case models.StepTypeStart:
		enrollment.AppendHistory(models.HistoryEventStepExecuted, step.ID, e.now(), nil)
		enrollment.StepsCompleted++
		enrollment.CurrentStepID = step.NextStepID

		return false, nil

	case models.StepTypeDelay:
		wakeAt := e.now().Add(step.DelayDuration())

		enrollment.AppendHistory(models.HistoryEventStepExecuted, step.ID, e.now(), map[string]any{
			"wake_at": wakeAt.Format(time.RFC3339),
		})
		enrollment.StepsCompleted++
		// Move past the delay before suspending so resumption does not
		// re-execute it.
		enrollment.CurrentStepID = step.NextStepID

		logger.InfoContext(ctx, "Enrollment suspended on delay", "step_id", step.ID, "wake_at", wakeAt)

		return true, e.suspend(ctx, enrollment, models.EnrollmentStatusWaiting, wakeAt)

	case models.StepTypeCondition:
		return e.executeCondition(ctx, logger, funnel, subscriber, enrollment, step)

	case models.StepTypeAction:
		return e.executeAction(ctx, logger, funnel, subscriber, enrollment, step)

	case models.StepTypeGoal:
		// A goal already in the history means this pass is a replay after a
		// mid-pass failure; move on without a second conversion.
		if !enrollment.GoalConverted(step.ID) {
			conversion := &models.GoalConversion{
				ID:           uuid.New().String(),
				FunnelID:     funnel.ID,
				SubscriberID: subscriber.ID,
				GoalName:     step.GoalName,
				GoalKind:     step.GoalKind,
				Value:        step.GoalValue,
				ConvertedAt:  e.now(),
			}

			err := e.persistence.SaveGoalConversion(ctx, conversion)
			if err != nil {
				return true, fmt.Errorf("failed to save goal conversion: %w", err)
			}

			enrollment.AppendHistory(models.HistoryEventGoalConverted, step.ID, e.now(), map[string]any{
				"goal_name": step.GoalName,
				"goal_kind": step.GoalKind,
				"value":     step.GoalValue,
			})

			e.publish(ctx, events.GoalConverted{
				BaseEvent:    e.baseEvent(events.GoalConvertedEvent, enrollment),
				EnrollmentID: enrollment.ID,
				GoalName:     step.GoalName,
				GoalKind:     step.GoalKind,
				Value:        step.GoalValue,
			})
		}

		enrollment.StepsCompleted++
		enrollment.CurrentStepID = step.NextStepID

		return false, nil

	case models.StepTypeEnd:
		return true, e.complete(ctx, logger, enrollment, step)

	default:
		return true, fmt.Errorf("%w: step %q has unknown type %q", models.ErrInvalidStepConfig, step.ID, step.Type)
	}
}

func (e *Engine) executeCondition(ctx context.Context, logger *slog.Logger, funnel *models.Funnel, subscriber *models.Subscriber, enrollment *models.Enrollment, step *models.Step) (bool, error) {
	var tasks []models.ExternalTask

	if step.Condition.RequiresExternalEvent() {
		var err error

		tasks, err = e.persistence.ExternalTasks(ctx, funnel.ID, subscriber.ID)
		if err != nil {
			return true, fmt.Errorf("failed to fetch external tasks: %w", err)
		}
	}

	result, err := models.EvaluateCondition(step.Condition, models.ConditionInput{
		Subscriber: subscriber,
		Tasks:      tasks,
	})
	if err != nil {
		return true, fmt.Errorf("failed to evaluate condition on step %s: %w", step.ID, err)
	}

	// A false external-event condition means "not yet", not "no": suspend
	// until the gateway records the completion.
	if !result && step.Condition.RequiresExternalEvent() {
		logger.InfoContext(ctx, "Enrollment waiting on external task", "step_id", step.ID, "task_id", step.Condition.TaskID)

		return true, e.suspend(ctx, enrollment, models.EnrollmentStatusWaitingCondition, e.now())
	}

	enrollment.AppendHistory(models.HistoryEventConditionEvaluated, step.ID, e.now(), map[string]any{
		"result": result,
	})
	enrollment.StepsCompleted++

	if result {
		enrollment.CurrentStepID = step.YesStepID
	} else {
		enrollment.CurrentStepID = step.NoStepID
	}

	return false, nil
}

func (e *Engine) executeAction(ctx context.Context, logger *slog.Logger, funnel *models.Funnel, subscriber *models.Subscriber, enrollment *models.Enrollment, step *models.Step) (bool, error) {
	result := e.actions.Execute(ctx, step, funnel, subscriber)

	if !result.Failed() {
		enrollment.AppendHistory(models.HistoryEventStepExecuted, step.ID, e.now(), result.Output)
		enrollment.StepsCompleted++
		enrollment.CurrentStepID = step.NextStepID

		return false, nil
	}

	failures := enrollment.StepFailureCount(step.ID) + 1
	enrollment.AppendHistory(models.HistoryEventActionFailed, step.ID, e.now(), map[string]any{
		"error":   result.Err.Error(),
		"attempt": failures,
	})

	e.publish(ctx, events.ActionFailed{
		BaseEvent:    e.baseEvent(events.ActionFailedEvent, enrollment),
		EnrollmentID: enrollment.ID,
		StepID:       step.ID,
		Error:        result.Err.Error(),
		Attempt:      failures,
	})

	// A transient failure leaves the pointer on the failed step and hands
	// the enrollment back to the sweep, until retries are exhausted.
	if result.Outcome == actions.OutcomeTransient && failures < maxActionRetries {
		logger.WarnContext(ctx, "Action failed, leaving enrollment for retry",
			"step_id", step.ID, "attempt", failures, "error", result.Err)

		return true, e.suspend(ctx, enrollment, models.EnrollmentStatusWaiting, e.now())
	}

	enrollment.AppendHistory(models.HistoryEventActionAbandoned, step.ID, e.now(), map[string]any{
		"error": result.Err.Error(),
	})

	// Permanent failure or exhausted retries: route to the designated
	// failure step when the action has one, terminate otherwise.
	if step.FailureStepID != "" {
		logger.WarnContext(ctx, "Action abandoned, routing to failure step",
			"step_id", step.ID, "failure_step_id", step.FailureStepID, "error", result.Err)

		enrollment.CurrentStepID = step.FailureStepID

		return false, nil
	}

	logger.ErrorContext(ctx, "Action abandoned with no failure step, completing enrollment",
		"step_id", step.ID, "error", result.Err)

	return true, e.complete(ctx, logger, enrollment, step)
}

// parkForRetry persists the enrollment as waiting after a pass failed, so an
// infrastructure blip hands the pair to the next sweep instead of wedging it
// in active status with no wake time. A suspension already in progress keeps
// its status and wake time; only the save is retried.
func (e *Engine) parkForRetry(ctx context.Context, logger *slog.Logger, enrollment *models.Enrollment) {
	if enrollment.IsTerminal() {
		return
	}

	status := models.EnrollmentStatusWaiting
	wakeAt := e.now()

	if enrollment.Status != models.EnrollmentStatusActive && enrollment.NextActionAt != nil {
		status = enrollment.Status
		wakeAt = *enrollment.NextActionAt
	}

	err := e.suspend(ctx, enrollment, status, wakeAt)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to park enrollment for retry", "error", err)
	}
}

func (e *Engine) suspend(ctx context.Context, enrollment *models.Enrollment, status models.EnrollmentStatus, wakeAt time.Time) error {
	enrollment.Status = status
	enrollment.NextActionAt = &wakeAt

	err := e.persistence.SaveEnrollment(ctx, enrollment)
	if err != nil {
		return fmt.Errorf("failed to save suspended enrollment: %w", err)
	}

	e.publish(ctx, events.EnrollmentWaiting{
		BaseEvent:    e.baseEvent(events.EnrollmentWaitingEvent, enrollment),
		EnrollmentID: enrollment.ID,
		StepID:       enrollment.CurrentStepID,
		NextActionAt: enrollment.NextActionAt,
	})

	return nil
}

func (e *Engine) complete(ctx context.Context, logger *slog.Logger, enrollment *models.Enrollment, step *models.Step) error {
	now := e.now()

	enrollment.AppendHistory(models.HistoryEventCompleted, step.ID, now, nil)
	enrollment.StepsCompleted++
	enrollment.Status = models.EnrollmentStatusCompleted
	enrollment.CompletedAt = &now
	enrollment.NextActionAt = nil

	err := e.persistence.SaveEnrollment(ctx, enrollment)
	if err != nil {
		return fmt.Errorf("failed to save completed enrollment: %w", err)
	}

	logger.InfoContext(ctx, "Enrollment completed", "steps_completed", enrollment.StepsCompleted)

	e.publish(ctx, events.EnrollmentCompleted{
		BaseEvent:      e.baseEvent(events.EnrollmentCompletedEvent, enrollment),
		EnrollmentID:   enrollment.ID,
		StepsCompleted: enrollment.StepsCompleted,
		Duration:       now.Sub(enrollment.EnteredAt),
	})

	return nil
}

func (e *Engine) baseEvent(eventType events.EventType, enrollment *models.Enrollment) events.BaseEvent {
	return events.BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Timestamp:    e.now(),
		FunnelID:     enrollment.FunnelID,
		SubscriberID: enrollment.SubscriberID,
	}
}

// publish sends a lifecycle event; publication failures are logged and never
// fail the pass.
func (e *Engine) publish(ctx context.Context, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	err := e.eventBus.Publish(ctx, string(event.GetType()), event)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish lifecycle event", "event_type", event.GetType(), "error", err)
	}
}
