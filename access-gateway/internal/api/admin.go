package api

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/privateness-network/bot-access/pkg/model"
)

// AdminService is the operator surface over the ledger.
type AdminService interface {
	Revoke(ctx context.Context, userID, productKey string) (*model.Entitlement, bool, error)
	Entitlements(ctx context.Context, userID string) ([]model.Entitlement, error)
	Attempts(ctx context.Context, userID string, limit int) ([]model.VerificationAttempt, error)
}

type AdminHandler struct {
	logger  *zap.Logger
	service AdminService
}

func NewAdminHandler(logger *zap.Logger, service AdminService) *AdminHandler {
	return &AdminHandler{logger: logger, service: service}
}

// RequireBearer guards the admin routes with a static token.
func RequireBearer(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		return c.Next()
	}
}

// RevokeEntitlement handles DELETE /admin/entitlements/:telegram_id/:bot_name.
func (h *AdminHandler) RevokeEntitlement(c *fiber.Ctx) error {
	userID, botName := c.Params("telegram_id"), c.Params("bot_name")
	ent, ok, err := h.service.Revoke(c.UserContext(), userID, botName)
	if err != nil {
		h.logger.Error("api.revoke_failed",
			zap.String("user_id", userID),
			zap.String("bot_name", botName),
			zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "storage unavailable"})
	}
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no entitlement"})
	}
	return c.JSON(ent)
}

// ListEntitlements handles GET /admin/entitlements/:telegram_id.
func (h *AdminHandler) ListEntitlements(c *fiber.Ctx) error {
	ents, err := h.service.Entitlements(c.UserContext(), c.Params("telegram_id"))
	if err != nil {
		h.logger.Error("api.list_entitlements_failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "storage unavailable"})
	}
	if ents == nil {
		ents = []model.Entitlement{}
	}
	return c.JSON(fiber.Map{"entitlements": ents})
}

// ListAttempts handles GET /admin/attempts/:telegram_id?limit=N.
func (h *AdminHandler) ListAttempts(c *fiber.Ctx) error {
	attempts, err := h.service.Attempts(c.UserContext(), c.Params("telegram_id"), c.QueryInt("limit", 50))
	if err != nil {
		h.logger.Error("api.list_attempts_failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "storage unavailable"})
	}
	if attempts == nil {
		attempts = []model.VerificationAttempt{}
	}
	return c.JSON(fiber.Map{"attempts": attempts})
}
