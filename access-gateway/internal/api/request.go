package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TelegramID accepts the user id as either a JSON string or a JSON number.
type TelegramID string

func (t *TelegramID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = TelegramID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("telegram_id must be a string or an integer")
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("telegram_id must be an integer, got %s", n)
	}
	*t = TelegramID(n.String())
	return nil
}

func (t TelegramID) String() string { return string(t) }

// CheckAccessRequest is the payload of check_bot_access.
type CheckAccessRequest struct {
	BotName    string     `json:"bot_name"`
	TelegramID TelegramID `json:"telegram_id"`
}

// VerifyPaymentRequest is the payload of verify_bot_payment.
type VerifyPaymentRequest struct {
	BotName    string     `json:"bot_name"`
	TxHash     string     `json:"tx_hash"`
	TelegramID TelegramID `json:"telegram_id"`
}
