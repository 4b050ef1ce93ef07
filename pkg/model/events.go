package model

import (
	"time"

	"github.com/google/uuid"
)

// AccessEvent is published for every verification decision and revocation.
type AccessEvent struct {
	ID            uuid.UUID  `json:"id"`
	Type          string     `json:"type"`
	UserID        string     `json:"user_id"`
	ProductKey    string     `json:"product_key"`
	TxHash        string     `json:"tx_hash,omitempty"`
	Outcome       Outcome    `json:"outcome,omitempty"`
	Reason        Reason     `json:"reason,omitempty"`
	EntitlementID string     `json:"entitlement_id,omitempty"`
	BotUsername   string     `json:"bot_username,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

const (
	EventVerificationGranted  = "access.verification.granted"
	EventVerificationRejected = "access.verification.rejected"
	EventVerificationPending  = "access.verification.pending"
	EventEntitlementRevoked   = "access.entitlement.revoked"
	EventReservationsSwept    = "access.reservations.swept"
)

// Subject maps the event type onto the NATS/AMQP routing key, e.g.
// "evt.access.verification.granted.v1".
func (e AccessEvent) Subject() string {
	return "evt." + e.Type + ".v1"
}

// EventTypeFor returns the event type for a verification outcome.
func EventTypeFor(o Outcome) string {
	switch o {
	case OutcomeGranted:
		return EventVerificationGranted
	case OutcomePending, OutcomeFailed:
		return EventVerificationPending
	default:
		return EventVerificationRejected
	}
}
