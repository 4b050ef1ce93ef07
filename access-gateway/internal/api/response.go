package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/privateness-network/bot-access/pkg/model"
)

// ProductView is one row of the public product table.
type ProductView struct {
	Key            string `json:"key"`
	Name           string `json:"name"`
	Asset          string `json:"asset"`
	Market         string `json:"market"`
	Exchange       string `json:"exchange"`
	BotUsername    string `json:"bot_username"`
	PaymentAddress string `json:"payment_address"`
	PaymentAsset   string `json:"payment_asset"`
	RequiredAmount string `json:"required_amount"`
	BalanceAsset   string `json:"balance_asset"`
	MinimumBalance string `json:"minimum_balance"`
	AccessDays     int    `json:"access_days"`
}

func toProductView(p model.Product) ProductView {
	return ProductView{
		Key:            p.Key,
		Name:           p.DisplayName,
		Asset:          p.Asset,
		Market:         p.Market,
		Exchange:       p.Exchange,
		BotUsername:    p.BotUsername,
		PaymentAddress: p.PaymentAddress,
		PaymentAsset:   string(p.PaymentAsset),
		RequiredAmount: p.RequiredAmount.String(),
		BalanceAsset:   string(p.BalanceAsset),
		MinimumBalance: p.MinimumBalance.String(),
		AccessDays:     int(p.AccessPeriod / (24 * time.Hour)),
	}
}

// badRequest keeps the {success:false,message} shape the frontend already handles.
func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": msg})
}

func forbidden(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"success": false, "message": msg})
}
