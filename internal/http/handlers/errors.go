package handlers

import (
	"errors"
	"strconv"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/http/dto"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/middleware"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/playbook"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/queue"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/repositories"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/services"
	"github.com/gofiber/fiber/v2"
		"go.uber.org/zap"
)

// statusFor maps service and store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrProfileRequired),
		errors.Is(err, playbook.ErrUnknownTemplate):
		return fiber.StatusBadRequest
	case errors.Is(err, repositories.ErrNotFound),
		errors.Is(err, queue.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrProtectedEntity),
		errors.Is(err, playbook.ErrProfileMismatch):
		return fiber.StatusForbidden
	case errors.Is(err, services.ErrRuleRunning),
		errors.Is(err, services.ErrRuleDisabled),
		errors.Is(err, services.ErrAutomationDisabled),
		errors.Is(err, playbook.ErrDisabled),
		errors.Is(err, repositories.ErrAlreadyAcknowledged),
		errors.Is(err, queue.ErrInvalidTransition),
		errors.Is(err, queue.ErrStaleState),
		errors.Is(err, queue.ErrClaimLost):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrGuardrailViolation):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	status := statusFor(err)
	reqID, _ := c.Locals(middleware.CtxRequestID).(string)
	if status == fiber.StatusInternalServerError {
		log.Error("request failed", zap.String("request_id", reqID), zap.String("path", c.Path()), zap.Error(err))
		return c.Status(status).JSON(dto.ErrorResponse{Error: "internal error", RequestID: reqID})
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: err.Error(), RequestID: reqID})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg})
}

// parseBody decodes and validates a JSON request body into req. The error
// text is safe to return to the caller.
func parseBody(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return errors.New("invalid request body")
	}
	return dto.Validate(req)
}

func queryInt(c *fiber.Ctx, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
