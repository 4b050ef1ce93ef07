package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// InitDataHeader carries Telegram.WebApp.initData verbatim.
const InitDataHeader = "X-Telegram-Init-Data"

const localsSignedUser = "signed_telegram_id"

var (
	errInitDataMissing   = errors.New("missing Web App init data")
	errInitDataSignature = errors.New("invalid Web App init data signature")
	errInitDataExpired   = errors.New("Web App init data expired")
	errInitDataUser      = errors.New("Web App init data carries no user")
)

// ValidateInitData checks the Web App signature over raw and returns the signed user id.
// The key is HMAC-SHA256("WebAppData", botToken); the signed string is every field
// except hash, sorted by key, as key=value lines.
func ValidateInitData(raw, botToken string, maxAge time.Duration, now time.Time) (string, error) {
	if raw == "" {
		return "", errInitDataMissing
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return "", errInitDataSignature
	}
	got := vals.Get("hash")
	if got == "" {
		return "", errInitDataSignature
	}

	keys := make([]string, 0, len(vals))
	for k := range vals {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+vals.Get(k))
	}

	secret := hmacSHA256([]byte("WebAppData"), []byte(botToken))
	want := hex.EncodeToString(hmacSHA256(secret, []byte(strings.Join(lines, "\n"))))
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(got))) {
		return "", errInitDataSignature
	}

	if maxAge > 0 {
		authDate, err := strconv.ParseInt(vals.Get("auth_date"), 10, 64)
		if err != nil || now.Sub(time.Unix(authDate, 0)) > maxAge {
			return "", errInitDataExpired
		}
	}

	var user struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(vals.Get("user")), &user); err != nil || user.ID == 0 {
		return "", errInitDataUser
	}
	return strconv.FormatInt(user.ID, 10), nil
}

func hmacSHA256(key, msg []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(msg)
	return m.Sum(nil)
}

// RequireInitData rejects requests without valid Web App init data and stores
// the signed user id for the handlers to compare against the body.
func RequireInitData(botToken string, maxAge time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, err := ValidateInitData(c.Get(InitDataHeader), botToken, maxAge, time.Now())
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "message": err.Error()})
		}
		c.Locals(localsSignedUser, uid)
		return c.Next()
	}
}

// signedUserMatches is true when no init data was required or its user equals id.
func signedUserMatches(c *fiber.Ctx, id TelegramID) bool {
	uid, ok := c.Locals(localsSignedUser).(string)
	if !ok {
		return true
	}
	return uid == id.String()
}
