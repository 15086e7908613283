package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/marketloop/funneld/pkg/persistence"
	"github.com/moogar0880/problems"
)

// Gateway error codes; third-party integrations branch on these.
const (
	ErrCodeSubscriberNotFound = "subscriber_not_found"
	ErrCodeNoActiveFunnels    = "no_active_funnels"
	ErrCodeTaskNotFound       = "task_not_found"
	ErrCodeValidation         = "validation_error"
	ErrCodeInternal           = "internal_error"
)

// gatewayError answers with the gateway's structured error envelope. The
// admin API uses problem documents instead; external integrations get the
// flat code + message shape they were built against.
func gatewayError(c fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(GatewayResponse{
		Success: false,
		Message: message,
		Error:   code,
	})
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleAdminError maps persistence errors onto admin API problem documents.
func handleAdminError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsFunnelNotFound(err):
		return notFound(c, "Funnel not found")
	case persistence.IsEnrollmentNotFound(err):
		return notFound(c, "Enrollment not found")
	case persistence.IsEnrollmentExists(err):
		return conflict(c, "Subscriber already has an open enrollment in this funnel")
	default:
		return internalError(c, err)
	}
}
