package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset names a unit the Privateness chain can transfer.
type Asset string

const (
	// AssetNCH is coin hours, carried in the "hours" field of an output.
	AssetNCH Asset = "NCH"
	// AssetNESS is the coin itself, carried in the "coins" field.
	AssetNESS Asset = "NESS"
)

// Valid reports whether a is a known asset.
func (a Asset) Valid() bool {
	return a == AssetNCH || a == AssetNESS
}

// Product is one purchasable access unit: a bot for an (asset, market, exchange) triple.
// Products are loaded once from the catalog file and never mutated.
type Product struct {
	Key            string          `json:"key"`
	Asset          string          `json:"asset"`
	Market         string          `json:"market"`
	Exchange       string          `json:"exchange"`
	DisplayName    string          `json:"name"`
	BotUsername    string          `json:"bot_username"`
	PaymentAddress string          `json:"payment_address"`
	PaymentAsset   Asset           `json:"payment_asset"`
	RequiredAmount decimal.Decimal `json:"required_amount"`
	BalanceAsset   Asset           `json:"balance_asset"`
	MinimumBalance decimal.Decimal `json:"minimum_balance"`
	ActivatedAt    time.Time       `json:"activated_at"`
	// AccessPeriod is how long one payment unlocks the bot; zero means permanently.
	AccessPeriod time.Duration `json:"-"`
}

// RequiresBalance reports whether access depends on a live secondary balance.
func (p Product) RequiresBalance() bool {
	return p.MinimumBalance.IsPositive()
}

// BotURL is the Telegram deep link the frontend redirects to once access is granted.
func (p Product) BotURL() string {
	return "https://t.me/" + p.BotUsername
}
