package api

import "fmt"

// Validate checks that CheckAccessRequest has all required fields.
func (r *CheckAccessRequest) Validate() error {
	if r.BotName == "" {
		return fmt.Errorf("bot_name is required")
	}
	if r.TelegramID == "" {
		return fmt.Errorf("telegram_id is required")
	}
	return nil
}

// Validate checks that VerifyPaymentRequest has all required fields.
// The hash format is judged by the verifier so malformed hashes are audited.
func (r *VerifyPaymentRequest) Validate() error {
	if r.BotName == "" {
		return fmt.Errorf("bot_name is required")
	}
	if r.TelegramID == "" {
		return fmt.Errorf("telegram_id is required")
	}
	if r.TxHash == "" {
		return fmt.Errorf("tx_hash is required")
	}
	return nil
}
