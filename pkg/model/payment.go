package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// VerificationRequest is a user's claim of having paid for a product.
type VerificationRequest struct {
	UserID      string    `json:"user_id"`
	ProductKey  string    `json:"product_key"`
	TxHash      string    `json:"tx_hash"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Output is a single transaction output as reported by the node.
type Output struct {
	Address string          `json:"address"`
	Coins   decimal.Decimal `json:"coins"`
	Hours   decimal.Decimal `json:"hours"`
}

// Amount returns the output value denominated in asset.
func (o Output) Amount(asset Asset) decimal.Decimal {
	if asset == AssetNESS {
		return o.Coins
	}
	return o.Hours
}

// TransactionRecord holds the raw on-chain facts for one transaction hash.
type TransactionRecord struct {
	Hash          string    `json:"hash"`
	Sender        string    `json:"sender"`
	Outputs       []Output  `json:"outputs"`
	Confirmed     bool      `json:"confirmed"`
	Confirmations int       `json:"confirmations"`
	BlockTime     time.Time `json:"block_time"`
}

// PaidTo sums every output sent to address, in asset. The bool is false when
// no output names the address at all.
func (t TransactionRecord) PaidTo(address string, asset Asset) (decimal.Decimal, bool) {
	total := decimal.Zero
	found := false
	for _, o := range t.Outputs {
		if o.Address != address {
			continue
		}
		found = true
		total = total.Add(o.Amount(asset))
	}
	return total, found
}

// Balance is the confirmed holding of one address.
type Balance struct {
	Address string          `json:"address"`
	Coins   decimal.Decimal `json:"coins"`
	Hours   decimal.Decimal `json:"hours"`
}

// Of returns the balance in asset.
func (b Balance) Of(asset Asset) decimal.Decimal {
	if asset == AssetNESS {
		return b.Coins
	}
	return b.Hours
}
