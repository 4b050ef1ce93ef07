package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/privateness-network/bot-access/internal/httpclient"
	"github.com/privateness-network/bot-access/pkg/utils"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// APIError is a Bot API refusal ({"ok":false}).
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// ErrForbidden is wrapped when the user blocked the bot or never started it.
var ErrForbidden = errors.New("telegram: bot cannot message this chat")

// Client calls the Telegram Bot API through the shared retrying executor.
type Client struct {
	base   string
	exec   *httpclient.Executor
	logger *zap.Logger
}

// NewClient builds a Bot API client. The token is masked in every log line.
func NewClient(apiURL, token string, httpClient *http.Client, retryMax int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	masked := utils.MaskToken(token)
	exec := httpclient.New(logger, nil, httpClient, retryMax, "telegram", decodeAPIError).
		MaskPath(func(p string) string { return strings.Replace(p, token, masked, 1) })
	return &Client{
		base:   strings.TrimRight(apiURL, "/") + "/bot" + token,
		exec:   exec,
		logger: logger,
	}
}

func decodeAPIError(status int, body []byte) error {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Description == "" {
		return &APIError{Code: status, Description: http.StatusText(status)}
	}
	apiErr := &APIError{Code: resp.ErrorCode, Description: resp.Description}
	if resp.ErrorCode == http.StatusForbidden {
		return fmt.Errorf("%w: %w", ErrForbidden, apiErr)
	}
	return apiErr
}

func (c *Client) call(ctx context.Context, method string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp apiResponse
	if err := c.exec.DoJSON(ctx, req, "telegram", &resp); err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	if !resp.OK {
		return &APIError{Code: resp.ErrorCode, Description: resp.Description}
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// GetUpdates long-polls for new messages starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", getUpdatesRequest{
		Offset:         offset,
		Timeout:        int(timeout / time.Second),
		AllowedUpdates: []string{"message", "callback_query"},
	}, &updates)
	return updates, err
}

// SendMessage sends an HTML-formatted message to chatID.
func (c *Client) SendMessage(ctx context.Context, chatID, text string, markup *InlineKeyboardMarkup) error {
	return c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   "HTML",
		ReplyMarkup: markup,
	}, nil)
}

// SetWebAppMenuButton points the bot's default menu button at the Web App.
func (c *Client) SetWebAppMenuButton(ctx context.Context, text, webAppURL string) error {
	return c.call(ctx, "setChatMenuButton", setMenuButtonRequest{
		MenuButton: MenuButton{Type: "web_app", Text: text, WebApp: &WebAppInfo{URL: webAppURL}},
	}, nil)
}
