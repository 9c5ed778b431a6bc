package handlers

import (
	"context"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/http/dto"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// CacheInvalidator drops cached metric windows of a profile.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, profileID string) error
}

type MetricsHandler struct {
	cache CacheInvalidator
	log   *zap.Logger
}

func NewMetricsHandler(cache CacheInvalidator, log *zap.Logger) *MetricsHandler {
	return &MetricsHandler{cache: cache, log: log}
}

// InvalidateCache is called after a metrics import so the next rule run reads
// fresh aggregates.
func (h *MetricsHandler) InvalidateCache(c *fiber.Ctx) error {
	profileID := c.Params("profileId")
	if profileID == "" {
		return badRequest(c, "profile_id is required")
	}
	if err := h.cache.Invalidate(c.Context(), profileID); err != nil {
		return respondError(c, h.log, err)
	}
	h.log.Info("metrics cache invalidated", zap.String("profile_id", profileID))
	return c.JSON(dto.SuccessResponse{OK: true})
}
