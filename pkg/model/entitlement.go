package model

import (
	"time"

	"github.com/google/uuid"
)

// Entitlement is the durable grant of access to a product for a user.
// At most one exists per (UserID, ProductKey); renewals update it in place.
type Entitlement struct {
	ID           uuid.UUID  `json:"id"`
	UserID       string     `json:"user_id"`
	ProductKey   string     `json:"product_key"`
	BotUsername  string     `json:"bot_username"`
	PayerAddress string     `json:"payer_address"`
	SourceTxHash string     `json:"source_tx_hash"`
	GrantedAt    time.Time  `json:"granted_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Permanent reports whether the entitlement never expires.
func (e Entitlement) Permanent() bool {
	return e.ExpiresAt == nil
}

// ActiveAt reports whether the entitlement grants access at t.
func (e Entitlement) ActiveAt(t time.Time) bool {
	if e.RevokedAt != nil {
		return false
	}
	return e.ExpiresAt == nil || t.Before(*e.ExpiresAt)
}

// NextExpiry is the expiry after one more paid period. It extends from the
// later of now and the current expiry; a permanent grant stays permanent and
// period <= 0 grants permanently.
func NextExpiry(current *Entitlement, period time.Duration, now time.Time) *time.Time {
	if period <= 0 {
		return nil
	}
	base := now
	if current != nil && current.ActiveAt(now) {
		if current.Permanent() {
			return nil
		}
		if current.ExpiresAt.After(base) {
			base = *current.ExpiresAt
		}
	}
	exp := base.Add(period).UTC()
	return &exp
}

// LedgerStatus is the lifecycle of a consumed transaction hash.
type LedgerStatus string

const (
	// LedgerReserved marks a hash claimed by an in-flight verification.
	LedgerReserved LedgerStatus = "reserved"
	// LedgerConsumed marks a hash that produced an entitlement.
	LedgerConsumed LedgerStatus = "consumed"
)

// LedgerEntry binds a transaction hash to the (user, product) that claimed it.
// A hash appears at most once across the whole ledger.
type LedgerEntry struct {
	TxHash        string       `json:"tx_hash"`
	UserID        string       `json:"user_id"`
	ProductKey    string       `json:"product_key"`
	Status        LedgerStatus `json:"status"`
	EntitlementID *uuid.UUID   `json:"entitlement_id,omitempty"`
	ReservedAt    time.Time    `json:"reserved_at"`
	ConsumedAt    *time.Time   `json:"consumed_at,omitempty"`
}

// OwnedBy reports whether the entry was claimed by this exact (user, product).
func (l LedgerEntry) OwnedBy(userID, productKey string) bool {
	return l.UserID == userID && l.ProductKey == productKey
}

// VerificationAttempt is the audit row written for every verification request.
type VerificationAttempt struct {
	ID            uuid.UUID  `json:"id"`
	UserID        string     `json:"user_id"`
	ProductKey    string     `json:"product_key"`
	TxHash        string     `json:"tx_hash"`
	Outcome       Outcome    `json:"outcome"`
	Reason        Reason     `json:"reason,omitempty"`
	EntitlementID *uuid.UUID `json:"entitlement_id,omitempty"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	DecidedAt     time.Time  `json:"decided_at"`
}
