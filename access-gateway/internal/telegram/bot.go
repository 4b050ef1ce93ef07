package telegram

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/privateness-network/bot-access/internal/metrics"
	"github.com/privateness-network/bot-access/pkg/model"
)

// EntitlementLister returns every entitlement a user holds.
type EntitlementLister interface {
	Entitlements(ctx context.Context, userID string) ([]model.Entitlement, error)
}

// ProductLookup resolves product keys to display data.
type ProductLookup interface {
	Get(key string) (model.Product, bool)
}

const pollErrorBackoff = 5 * time.Second

// Bot is the companion chat bot: it answers commands over long polling.
type Bot struct {
	client      *Client
	ents        EntitlementLister
	products    ProductLookup
	webAppURL   string
	pollTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time
	errBackoff  time.Duration
}

func NewBot(client *Client, ents EntitlementLister, products ProductLookup, webAppURL string, pollTimeout time.Duration, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		client:      client,
		ents:        ents,
		products:    products,
		webAppURL:   webAppURL,
		pollTimeout: pollTimeout,
		logger:      logger,
		now:         time.Now,
		errBackoff:  pollErrorBackoff,
	}
}

// Run sets the menu button and polls for updates until ctx is done.
func (b *Bot) Run(ctx context.Context) {
	if b.webAppURL != "" {
		if err := b.client.SetWebAppMenuButton(ctx, "Trading", b.webAppURL); err != nil {
			b.logger.Warn("telegram.menu_button_failed", zap.Error(err))
		} else {
			b.logger.Info("telegram.menu_button_set")
		}
	}

	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}
		updates, err := b.client.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("telegram.poll_failed", zap.Error(err))
			metrics.IncError("telegram", "poll_failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.errBackoff):
			}
			continue
		}
		for _, u := range updates {
			b.handleUpdate(ctx, u)
			offset = u.UpdateID + 1
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, u Update) {
	if u.Message == nil || u.Message.From == nil {
		return
	}
	msg := u.Message
	cmd := command(msg.Text)
	metrics.IncTelegramUpdate(cmd)

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	var err error
	switch cmd {
	case "/start":
		err = b.client.SendMessage(ctx, chatID, welcomeText, b.webAppKeyboard())
	case "/help":
		err = b.client.SendMessage(ctx, chatID, helpText, nil)
	case "/access", "/balance":
		err = b.client.SendMessage(ctx, chatID, b.accessSummary(ctx, strconv.FormatInt(msg.From.ID, 10)), nil)
	default:
		return
	}
	if err != nil {
		b.logger.Warn("telegram.reply_failed",
			zap.String("command", cmd),
			zap.Int64("chat_id", msg.Chat.ID),
			zap.Error(err))
	}
}

// command returns the leading /command of text without any @botname suffix.
func command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "other"
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(cmd)
}

const welcomeText = "🤖 Welcome to PrivateNess Network Trading Automation!\n\n" +
	"Click the button below to access your trading dashboard:"

const helpText = "📚 Available Commands:\n" +
	"/start - Open trading dashboard\n" +
	"/access - List your active bot subscriptions\n" +
	"/balance - Same as /access\n" +
	"/help - Show this help message"

func (b *Bot) webAppKeyboard() *InlineKeyboardMarkup {
	if b.webAppURL == "" {
		return nil
	}
	return &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{
		{Text: "🚀 Open Trading Dashboard", WebApp: &WebAppInfo{URL: b.webAppURL}},
	}}}
}

func (b *Bot) accessSummary(ctx context.Context, userID string) string {
	ents, err := b.ents.Entitlements(ctx, userID)
	if err != nil {
		b.logger.Warn("telegram.list_entitlements_failed", zap.String("user_id", userID), zap.Error(err))
		return "Could not load your subscriptions right now, please try again later."
	}

	now := b.now()
	var lines []string
	for _, e := range ents {
		if !e.ActiveAt(now) {
			continue
		}
		name := e.ProductKey
		if p, ok := b.products.Get(e.ProductKey); ok && p.DisplayName != "" {
			name = p.DisplayName
		}
		until := "no expiry"
		if e.ExpiresAt != nil {
			until = "until " + e.ExpiresAt.Format("2006-01-02")
		}
		lines = append(lines, fmt.Sprintf("• <b>%s</b> (%s) @%s", html.EscapeString(name), until, html.EscapeString(e.BotUsername)))
	}
	if len(lines) == 0 {
		return "You have no active bot subscriptions. Use /start to open the dashboard."
	}
	return "Your active subscriptions:\n" + strings.Join(lines, "\n")
}
