package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/privateness-network/bot-access/access-gateway/internal/access"
	"github.com/privateness-network/bot-access/internal/rate"
	"github.com/privateness-network/bot-access/pkg/model"
)

// ─── Mocks ────────────────────────────────────────────────────────────────────

type mockAccessService struct {
	checkFn  func(ctx context.Context, userID, productKey string) access.CheckResult
	verifyFn func(ctx context.Context, userID, productKey, hash string) access.VerifyResult
}

func (m *mockAccessService) CheckAccess(ctx context.Context, userID, productKey string) access.CheckResult {
	if m.checkFn != nil {
		return m.checkFn(ctx, userID, productKey)
	}
	return access.CheckResult{Reason: model.ReasonNoEntitlement}
}

func (m *mockAccessService) VerifyPayment(ctx context.Context, userID, productKey, hash string) access.VerifyResult {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, userID, productKey, hash)
	}
	return access.VerifyResult{Message: "not implemented"}
}

type staticProducts []model.Product

func (s staticProducts) All() []model.Product { return s }

type mockHealth struct{ err error }

func (m mockHealth) HealthCheck(context.Context) error { return m.err }

// ─── Helpers ──────────────────────────────────────────────────────────────────

func newTestApp(svc AccessService, throttle *rate.Manager) *fiber.App {
	app := fiber.New()
	RegisterRoutes(app, Routes{
		Access: NewAccessHandler(zap.NewNop(), svc, staticProducts{
			{
				Key:            "BTC_Spot_Binance",
				DisplayName:    "BTC Spot (Binance)",
				Asset:          "BTC",
				Market:         "Spot",
				Exchange:       "Binance",
				BotUsername:    "BTC_Spot_Binance_bot",
				PaymentAddress: "ADDR1",
				PaymentAsset:   model.AssetNCH,
				RequiredAmount: decimal.NewFromInt(3000),
				BalanceAsset:   model.AssetNESS,
				MinimumBalance: decimal.NewFromInt(4000),
				AccessPeriod:   30 * 24 * time.Hour,
			},
		}, throttle),
		Checks: map[string]HealthChecker{"store": mockHealth{}},
	})
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp, out
}

// ─── CheckBotAccess ───────────────────────────────────────────────────────────

func TestCheckBotAccess_NumericTelegramID(t *testing.T) {
	svc := &mockAccessService{
		checkFn: func(_ context.Context, userID, productKey string) access.CheckResult {
			assert.Equal(t, "123456789", userID)
			assert.Equal(t, "BTC_Spot_Binance", productKey)
			return access.CheckResult{Access: true, BotUsername: "BTC_Spot_Binance_bot"}
		},
	}
	resp, body := postJSON(t, newTestApp(svc, nil), "/check_bot_access",
		`{"bot_name":"BTC_Spot_Binance","telegram_id":123456789}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["access"])
	assert.Equal(t, "BTC_Spot_Binance_bot", body["bot_username"])
}

func TestCheckBotAccess_StringTelegramIDOnTelegramPrefix(t *testing.T) {
	svc := &mockAccessService{
		checkFn: func(_ context.Context, userID, _ string) access.CheckResult {
			assert.Equal(t, "42", userID)
			return access.CheckResult{Reason: model.ReasonNoEntitlement, Message: "No active subscription"}
		},
	}
	resp, body := postJSON(t, newTestApp(svc, nil), "/telegram/check_bot_access",
		`{"bot_name":"BTC_Spot_Binance","telegram_id":"42"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["access"])
	assert.Equal(t, "NoEntitlement", body["reason"])
}

func TestCheckBotAccess_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed json", `{"bot_name":`, "invalid request body"},
		{"missing bot", `{"telegram_id":1}`, "bot_name is required"},
		{"missing user", `{"bot_name":"x"}`, "telegram_id is required"},
		{"fractional id", `{"bot_name":"x","telegram_id":1.5}`, "invalid request body"},
		{"object id", `{"bot_name":"x","telegram_id":{}}`, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postJSON(t, newTestApp(&mockAccessService{}, nil), "/check_bot_access", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, false, body["success"])
			assert.Contains(t, body["message"], tt.want)
		})
	}
}

// ─── VerifyBotPayment ─────────────────────────────────────────────────────────

func TestVerifyBotPayment_Success(t *testing.T) {
	svc := &mockAccessService{
		verifyFn: func(_ context.Context, userID, productKey, hash string) access.VerifyResult {
			assert.Equal(t, "42", userID)
			assert.Equal(t, "ETH_Spot_Binance", productKey)
			assert.Equal(t, "abc", hash)
			return access.VerifyResult{Success: true, Message: "Bot access granted", BotUsername: "ETH_Spot_Binance_bot", PaymentAddress: "ADDR1"}
		},
	}
	resp, body := postJSON(t, newTestApp(svc, nil), "/verify_bot_payment",
		`{"bot_name":"ETH_Spot_Binance","tx_hash":"abc","telegram_id":42}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "ETH_Spot_Binance_bot", body["bot_username"])
	assert.Equal(t, "ADDR1", body["payment_address"])
}

func TestVerifyBotPayment_DomainFailuresAre200(t *testing.T) {
	svc := &mockAccessService{
		verifyFn: func(context.Context, string, string, string) access.VerifyResult {
			return access.VerifyResult{
				Message: "Explorer unreachable, please try again in a minute",
				Reason:  model.ReasonExplorerUnreachable,
			}
		},
	}
	resp, body := postJSON(t, newTestApp(svc, nil), "/telegram/verify_bot_payment",
		`{"bot_name":"ETH_Spot_Binance","tx_hash":"abc","telegram_id":"42"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["message"], "Explorer unreachable")
	assert.Equal(t, "ExplorerUnreachable", body["reason"])
}

func TestVerifyBotPayment_MissingHash(t *testing.T) {
	resp, body := postJSON(t, newTestApp(&mockAccessService{}, nil), "/verify_bot_payment",
		`{"bot_name":"ETH_Spot_Binance","telegram_id":"42"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "tx_hash is required", body["message"])
}

func TestVerifyBotPayment_Throttled(t *testing.T) {
	calls := 0
	svc := &mockAccessService{
		verifyFn: func(context.Context, string, string, string) access.VerifyResult {
			calls++
			return access.VerifyResult{Success: true}
		},
	}
	app := newTestApp(svc, rate.NewManager(rate.PerMinute(2)))
	payload := `{"bot_name":"ETH_Spot_Binance","tx_hash":"abc","telegram_id":"42"}`

	for i := 0; i < 2; i++ {
		resp, _ := postJSON(t, app, "/verify_bot_payment", payload)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := postJSON(t, app, "/verify_bot_payment", payload)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, 2, calls)

	resp, _ = postJSON(t, app, "/verify_bot_payment", `{"bot_name":"ETH_Spot_Binance","tx_hash":"abc","telegram_id":"43"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "limits are per user")
}

// ─── Products and health ──────────────────────────────────────────────────────

func TestListProducts(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/products", nil)
	resp, err := newTestApp(&mockAccessService{}, nil).Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Products []ProductView `json:"products"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Products, 1)
	p := out.Products[0]
	assert.Equal(t, "BTC_Spot_Binance", p.Key)
	assert.Equal(t, "BTC Spot (Binance)", p.Name)
	assert.Equal(t, "3000", p.RequiredAmount)
	assert.Equal(t, "4000", p.MinimumBalance)
	assert.Equal(t, "NCH", p.PaymentAsset)
	assert.Equal(t, 30, p.AccessDays)
}

func TestHealth(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app, Routes{
		Access: NewAccessHandler(zap.NewNop(), &mockAccessService{}, staticProducts{}, nil),
		Checks: map[string]HealthChecker{
			"store": mockHealth{},
			"redis": mockHealth{err: assert.AnError},
		},
	})

	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var out struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "degraded", out.Status)
	assert.Equal(t, "ok", out.Checks["store"])
	assert.Equal(t, assert.AnError.Error(), out.Checks["redis"])
}

func TestMetricsEndpoint(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := newTestApp(&mockAccessService{}, nil).Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
