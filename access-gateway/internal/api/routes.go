package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker is anything /health should probe.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Routes bundles what RegisterRoutes mounts. Admin is skipped when AdminToken is empty.
type Routes struct {
	Access *AccessHandler
	Admin  *AdminHandler

	AdminToken      string
	RequireInitData bool
	BotToken        string
	InitDataMaxAge  time.Duration

	// Health probes by name; "store" is expected.
	Checks map[string]HealthChecker
}

// RegisterRoutes registers all HTTP routes on the Fiber app.
func RegisterRoutes(app *fiber.App, r Routes) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", func(c *fiber.Ctx) error {
		checks := make(map[string]string, len(r.Checks))
		status := "ok"
		code := fiber.StatusOK

		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for name, hc := range r.Checks {
			if err := hc.HealthCheck(healthCtx); err != nil {
				checks[name] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	})

	app.Get("/products", r.Access.ListProducts)

	var guards []fiber.Handler
	if r.RequireInitData {
		guards = append(guards, RequireInitData(r.BotToken, r.InitDataMaxAge))
	}
	// the Web App has called both prefixes
	for _, prefix := range []string{"", "/telegram"} {
		app.Post(prefix+"/check_bot_access", append(guards, r.Access.CheckBotAccess)...)
		app.Post(prefix+"/verify_bot_payment", append(guards, r.Access.VerifyBotPayment)...)
	}

	if r.Admin != nil && r.AdminToken != "" {
		admin := app.Group("/admin", RequireBearer(r.AdminToken))
		admin.Get("/entitlements/:telegram_id", r.Admin.ListEntitlements)
		admin.Delete("/entitlements/:telegram_id/:bot_name", r.Admin.RevokeEntitlement)
		admin.Get("/attempts/:telegram_id", r.Admin.ListAttempts)
	}
}
