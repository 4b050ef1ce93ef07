package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/privateness-network/bot-access/access-gateway/internal/access"
	"github.com/privateness-network/bot-access/internal/metrics"
	"github.com/privateness-network/bot-access/internal/rate"
	"github.com/privateness-network/bot-access/pkg/model"
)

// AccessService defines the gateway operations used by the handler.
type AccessService interface {
	CheckAccess(ctx context.Context, userID, productKey string) access.CheckResult
	VerifyPayment(ctx context.Context, userID, productKey, hash string) access.VerifyResult
}

// ProductLister exposes the product table.
type ProductLister interface {
	All() []model.Product
}

// AccessHandler handles the Web App endpoints.
type AccessHandler struct {
	logger   *zap.Logger
	service  AccessService
	products ProductLister
	throttle *rate.Manager
}

// NewAccessHandler creates a new AccessHandler. A nil throttle disables per-user limits.
func NewAccessHandler(logger *zap.Logger, service AccessService, products ProductLister, throttle *rate.Manager) *AccessHandler {
	return &AccessHandler{
		logger:   logger,
		service:  service,
		products: products,
		throttle: throttle,
	}
}

// CheckBotAccess handles POST /check_bot_access.
func (h *AccessHandler) CheckBotAccess(c *fiber.Ctx) error {
	var req CheckAccessRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err.Error())
	}
	if !signedUserMatches(c, req.TelegramID) {
		return forbidden(c, "telegram_id does not match the signed Web App user")
	}

	res := h.service.CheckAccess(c.UserContext(), req.TelegramID.String(), req.BotName)
	h.logger.Info("api.check_bot_access",
		zap.String("user_id", req.TelegramID.String()),
		zap.String("bot_name", req.BotName),
		zap.Bool("access", res.Access),
		zap.String("reason", string(res.Reason)))
	return c.JSON(res)
}

// VerifyBotPayment handles POST /verify_bot_payment.
func (h *AccessHandler) VerifyBotPayment(c *fiber.Ctx) error {
	var req VerifyPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err.Error())
	}
	if !signedUserMatches(c, req.TelegramID) {
		return forbidden(c, "telegram_id does not match the signed Web App user")
	}

	if h.throttle != nil && !h.throttle.Allow("verify:"+req.TelegramID.String()) {
		metrics.IncThrottled("verify_bot_payment")
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"success": false,
			"message": "Too many verification attempts, please wait a minute",
		})
	}

	res := h.service.VerifyPayment(c.UserContext(), req.TelegramID.String(), req.BotName, req.TxHash)
	return c.JSON(res)
}

// ListProducts handles GET /products.
func (h *AccessHandler) ListProducts(c *fiber.Ctx) error {
	all := h.products.All()
	out := make([]ProductView, 0, len(all))
	for _, p := range all {
		out = append(out, toProductView(p))
	}
	return c.JSON(fiber.Map{"products": out})
}
