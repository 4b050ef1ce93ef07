package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"

	"go.uber.org/zap"

	"github.com/privateness-network/bot-access/pkg/model"
	"github.com/privateness-network/bot-access/pkg/utils"
)

// Notifier messages users about granted access. It is attached to the event
// bus like any other sink.
type Notifier struct {
	client      *Client
	products    ProductLookup
	adminChatID string
	logger      *zap.Logger
}

func NewNotifier(client *Client, products ProductLookup, adminChatID string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{client: client, products: products, adminChatID: adminChatID, logger: logger}
}

func (n *Notifier) Name() string { return "telegram" }

// PublishEvent sends the grant notice for granted verifications and ignores everything else.
func (n *Notifier) PublishEvent(ctx context.Context, evt model.AccessEvent) error {
	if evt.Type != model.EventVerificationGranted || evt.BotUsername == "" {
		return nil
	}

	p, ok := n.products.Get(evt.ProductKey)
	if !ok {
		p = model.Product{Key: evt.ProductKey}
	}
	// the entitlement names the bot it was granted for
	p.BotUsername = evt.BotUsername
	name := p.Key
	if p.DisplayName != "" {
		name = p.DisplayName
	}
	text := fmt.Sprintf("✅ Access granted: <b>%s</b>", html.EscapeString(name))
	if evt.ExpiresAt != nil {
		text += "\nValid until " + evt.ExpiresAt.Format("2006-01-02 15:04 MST")
	}
	keyboard := &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{
		{Text: "Open @" + evt.BotUsername, URL: p.BotURL()},
	}}}

	err := n.client.SendMessage(ctx, evt.UserID, text, keyboard)
	if errors.Is(err, ErrForbidden) {
		// the user never opened a chat with the bot
		n.logger.Info("telegram.notify_skipped", zap.String("user_id", evt.UserID))
		err = nil
	}

	if n.adminChatID != "" {
		summary := fmt.Sprintf("Granted %s to %s (tx %s)",
			html.EscapeString(evt.ProductKey), html.EscapeString(evt.UserID), utils.ShortHash(evt.TxHash))
		if adminErr := n.client.SendMessage(ctx, n.adminChatID, summary, nil); adminErr != nil {
			err = errors.Join(err, adminErr)
		}
	}
	return err
}

func (n *Notifier) Close() error { return nil }
