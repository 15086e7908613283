package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/marketloop/funneld/pkg/eventbus"
	"github.com/marketloop/funneld/pkg/events"
	"github.com/marketloop/funneld/pkg/models"
	"github.com/marketloop/funneld/pkg/persistence"
	"github.com/marketloop/funneld/pkg/protocol"
)

// Enroller is the engine entry point the admin API drives.
type Enroller interface {
	Enroll(ctx context.Context, funnel *models.Funnel, subscriber *models.Subscriber) (*models.Enrollment, error)
}

type APIHandlers struct {
	persistence persistence.Persistence
	engine      Enroller
	subscribers protocol.SubscriberService
	eventBus    eventbus.EventPublisher
	validator   *validator.Validate
	logger      *slog.Logger
	now         func() time.Time
}

func NewAPIHandlers(
	store persistence.Persistence,
	enroller Enroller,
	subscribers protocol.SubscriberService,
	eventBus eventbus.EventPublisher,
	validate *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		persistence: store,
		engine:      enroller,
		subscribers: subscribers,
		eventBus:    eventBus,
		validator:   validate,
		logger:      logger.With("component", "web"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CompleteTask records an external task completion for a subscriber across
// the resolved target funnels. Waiting enrollments pick the record up on
// the next sweep.
func (h *APIHandlers) CompleteTask(c fiber.Ctx) error {
	var req CompleteTaskRequest
	if err := c.Bind().JSON(&req); err != nil {
		return gatewayError(c, fiber.StatusBadRequest, ErrCodeValidation, "Invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return gatewayError(c, fiber.StatusBadRequest, ErrCodeValidation, err.Error())
	}

	subscriber, err := h.subscribers.FindByEmail(c.Context(), req.SubscriberEmail)
	if err != nil {
		if persistence.IsSubscriberNotFound(err) {
			return gatewayError(c, fiber.StatusNotFound, ErrCodeSubscriberNotFound, "No subscriber found for "+req.SubscriberEmail)
		}

		return gatewayError(c, fiber.StatusInternalServerError, ErrCodeInternal, "Subscriber lookup failed")
	}

	funnels, err := h.resolveTargetFunnels(c.Context(), &req, subscriber)
	if err != nil {
		h.logger.ErrorContext(c.Context(), "Failed to resolve target funnels", "task_id", req.TaskID, "error", err)

		return gatewayError(c, fiber.StatusInternalServerError, ErrCodeInternal, "Funnel resolution failed")
	}

	if len(funnels) == 0 {
		return gatewayError(c, fiber.StatusNotFound, ErrCodeNoActiveFunnels, "No matching funnels for "+req.SubscriberEmail)
	}

	completedAt := h.now()

	for _, funnel := range funnels {
		task := &models.ExternalTask{
			ID:           uuid.New().String(),
			TaskID:       req.TaskID,
			FunnelID:     funnel.ID,
			SubscriberID: subscriber.ID,
			CompletedAt:  completedAt,
			Metadata:     req.Metadata,
		}

		if err := h.persistence.SaveExternalTask(c.Context(), task); err != nil {
			h.logger.ErrorContext(c.Context(), "Failed to save external task", "task_id", req.TaskID, "funnel_id", funnel.ID, "error", err)

			return gatewayError(c, fiber.StatusInternalServerError, ErrCodeInternal, "Failed to record task completion")
		}

		h.publish(c.Context(), events.TaskCompleted{
			BaseEvent: events.BaseEvent{
				ID:           uuid.New().String(),
				Type:         events.TaskCompletedEvent,
				Timestamp:    completedAt,
				FunnelID:     funnel.ID,
				SubscriberID: subscriber.ID,
			},
			TaskID: req.TaskID,
		})
	}

	return c.JSON(GatewayResponse{
		Success: true,
		Message: "Task completion recorded",
		Data: CompleteTaskData{
			TaskID:          req.TaskID,
			SubscriberEmail: req.SubscriberEmail,
			FunnelsAffected: len(funnels),
		},
	})
}

// resolveTargetFunnels picks the funnels a completion applies to: explicit
// id, else slug, else every funnel the subscriber currently has an open
// enrollment in. An unknown id or slug resolves to the empty set, not an
// error.
func (h *APIHandlers) resolveTargetFunnels(ctx context.Context, req *CompleteTaskRequest, subscriber *models.Subscriber) ([]*models.Funnel, error) {
	if req.FunnelID != "" {
		funnel, err := h.persistence.FunnelByID(ctx, req.FunnelID)
		if err != nil {
			if persistence.IsFunnelNotFound(err) {
				return nil, nil
			}

			return nil, err
		}

		return []*models.Funnel{funnel}, nil
	}

	if req.FunnelSlug != "" {
		funnel, err := h.persistence.FunnelBySlug(ctx, req.FunnelSlug)
		if err != nil {
			if persistence.IsFunnelNotFound(err) {
				return nil, nil
			}

			return nil, err
		}

		return []*models.Funnel{funnel}, nil
	}

	enrollments, err := h.persistence.EnrollmentsBySubscriber(ctx, subscriber.ID)
	if err != nil {
		return nil, err
	}

	funnels := make([]*models.Funnel, 0, len(enrollments))
	seen := make(map[string]bool, len(enrollments))

	for _, enrollment := range enrollments {
		if seen[enrollment.FunnelID] {
			continue
		}

		seen[enrollment.FunnelID] = true

		funnel, err := h.persistence.FunnelByID(ctx, enrollment.FunnelID)
		if err != nil {
			return nil, err
		}

		funnels = append(funnels, funnel)
	}

	return funnels, nil
}

// TaskStatus reports whether and when a task was completed for a
// subscriber. An absent record answers completed=false, not an error.
func (h *APIHandlers) TaskStatus(c fiber.Ctx) error {
	taskID := c.Query("task_id")
	email := c.Query("subscriber_email")

	if taskID == "" || email == "" {
		return gatewayError(c, fiber.StatusBadRequest, ErrCodeValidation, "task_id and subscriber_email are required")
	}

	subscriber, err := h.subscribers.FindByEmail(c.Context(), email)
	if err != nil {
		if persistence.IsSubscriberNotFound(err) {
			return gatewayError(c, fiber.StatusNotFound, ErrCodeSubscriberNotFound, "No subscriber found for "+email)
		}

		return gatewayError(c, fiber.StatusInternalServerError, ErrCodeInternal, "Subscriber lookup failed")
	}

	task, err := h.lookupTask(c.Context(), taskID, subscriber.ID, c.Query("funnel_id"))
	if err != nil {
		return gatewayError(c, fiber.StatusInternalServerError, ErrCodeInternal, "Task lookup failed")
	}

	if task == nil {
		return c.JSON(GatewayResponse{Success: true, Data: TaskStatusData{Completed: false}})
	}

	return c.JSON(GatewayResponse{
		Success: true,
		Data: TaskStatusData{
			Completed:   true,
			CompletedAt: &task.CompletedAt,
			Metadata:    task.Metadata,
		},
	})
}

func (h *APIHandlers) lookupTask(ctx context.Context, taskID, subscriberID, funnelID string) (*models.ExternalTask, error) {
	if funnelID != "" {
		task, err := h.persistence.ExternalTask(ctx, funnelID, subscriberID, taskID)
		if err != nil {
			if persistence.IsExternalTaskNotFound(err) {
				return nil, nil
			}

			return nil, err
		}

		return task, nil
	}

	funnels, err := h.persistence.Funnels(ctx)
	if err != nil {
		return nil, err
	}

	for _, funnel := range funnels {
		task, err := h.persistence.ExternalTask(ctx, funnel.ID, subscriberID, taskID)
		if err != nil {
			if persistence.IsExternalTaskNotFound(err) {
				continue
			}

			return nil, err
		}

		return task, nil
	}

	return nil, nil
}

// CreateFunnel imports a funnel definition. The raw body is gated by the
// JSON schema before binding; funnels are created in draft status.
func (h *APIHandlers) CreateFunnel(c fiber.Ctx) error {
	body := c.Body()

	if err := validateFunnelDefinition(body); err != nil {
		return badRequest(c, err.Error())
	}

	var req CreateFunnelRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	now := h.now()
	funnel := &models.Funnel{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Slug:         req.Slug,
		Description:  req.Description,
		Status:       models.FunnelStatusDraft,
		StartStepID:  req.StartStepID,
		Steps:        req.Steps,
		AllowReentry: req.AllowReentry,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	for _, step := range funnel.Steps {
		step.FunnelID = funnel.ID
	}

	if err := funnel.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.persistence.SaveFunnel(c.Context(), funnel); err != nil {
		return handleAdminError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(funnel)
}

func (h *APIHandlers) GetFunnels(c fiber.Ctx) error {
	funnels, err := h.persistence.Funnels(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"funnels":     funnels,
		"total_count": len(funnels),
	})
}

func (h *APIHandlers) GetFunnel(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Funnel ID is required")
	}

	funnel, err := h.persistence.FunnelByID(c.Context(), id)
	if err != nil {
		return handleAdminError(c, err)
	}

	return c.JSON(funnel)
}

// ActivateFunnel opens a funnel for enrollments. The graph is revalidated
// so a draft edited into an invalid shape can never go live.
func (h *APIHandlers) ActivateFunnel(c fiber.Ctx) error {
	return h.transitionFunnel(c, models.FunnelStatusActive)
}

// PauseFunnel stops new enrollments and freezes in-flight ones; the sweep
// leaves enrollments of paused funnels suspended.
func (h *APIHandlers) PauseFunnel(c fiber.Ctx) error {
	return h.transitionFunnel(c, models.FunnelStatusPaused)
}

func (h *APIHandlers) transitionFunnel(c fiber.Ctx, status models.FunnelStatus) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Funnel ID is required")
	}

	funnel, err := h.persistence.FunnelByID(c.Context(), id)
	if err != nil {
		return handleAdminError(c, err)
	}

	if status == models.FunnelStatusActive {
		if err := funnel.Validate(); err != nil {
			return badRequest(c, err.Error())
		}
	}

	funnel.Status = status
	funnel.UpdatedAt = h.now()

	if err := h.persistence.SaveFunnel(c.Context(), funnel); err != nil {
		return handleAdminError(c, err)
	}

	return c.JSON(funnel)
}

// EnrollSubscriber enrolls a subscriber by email. A declined enrollment is
// a 202, not an error: the funnel was found but did not accept the
// subscriber.
func (h *APIHandlers) EnrollSubscriber(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Funnel ID is required")
	}

	var req EnrollRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	funnel, err := h.persistence.FunnelByID(c.Context(), id)
	if err != nil {
		return handleAdminError(c, err)
	}

	subscriber, err := h.subscribers.FindByEmail(c.Context(), req.SubscriberEmail)
	if err != nil {
		if persistence.IsSubscriberNotFound(err) {
			return notFound(c, "Subscriber not found")
		}

		return internalError(c, err)
	}

	enrollment, err := h.engine.Enroll(c.Context(), funnel, subscriber)
	if err != nil {
		return internalError(c, err)
	}

	if enrollment == nil {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"enrolled": false,
			"reason":   "funnel declined the enrollment",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(enrollment)
}

func (h *APIHandlers) GetConversions(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Funnel ID is required")
	}

	if _, err := h.persistence.FunnelByID(c.Context(), id); err != nil {
		return handleAdminError(c, err)
	}

	conversions, err := h.persistence.GoalConversionsByFunnel(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"conversions": conversions,
		"total_count": len(conversions),
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "funneld API is healthy"
	httpStatus := http.StatusOK

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "funneld API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": h.now(),
	})
}

func (h *APIHandlers) publish(ctx context.Context, event eventbus.Event) {
	if h.eventBus == nil {
		return
	}

	if err := h.eventBus.Publish(ctx, string(event.GetType()), event); err != nil {
		h.logger.ErrorContext(ctx, "Failed to publish gateway event", "event_type", event.GetType(), "error", err)
	}
}
