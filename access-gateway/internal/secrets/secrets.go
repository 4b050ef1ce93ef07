package secrets

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/privateness-network/bot-access/access-gateway/pkg/config"
	internalsecrets "github.com/privateness-network/bot-access/internal/secrets"
	pkgsecrets "github.com/privateness-network/bot-access/pkg/secrets"
	"github.com/privateness-network/bot-access/pkg/ttlcache"
	"github.com/privateness-network/bot-access/pkg/utils"
)

// GatewaySecrets are the credentials that may live in AWS Secrets Manager
// instead of the environment. Empty fields leave the environment value in place.
type GatewaySecrets struct {
	TelegramBotToken string
	DatabaseURL      string
	AdminToken       string
	AMQPURL          string
}

func parseGatewaySecrets(m map[string]string) (GatewaySecrets, error) {
	s := GatewaySecrets{
		TelegramBotToken: m["telegram_bot_token"],
		DatabaseURL:      m["database_url"],
		AdminToken:       m["admin_token"],
		AMQPURL:          m["amqp_url"],
	}
	if s == (GatewaySecrets{}) {
		return s, fmt.Errorf("secret has none of telegram_bot_token, database_url, admin_token, amqp_url")
	}
	return s, nil
}

// NewResolver builds a cached resolver for the gateway secret.
func NewResolver(logger *zap.Logger, provider pkgsecrets.Provider, cache *ttlcache.Cache[GatewaySecrets]) *internalsecrets.Resolver[GatewaySecrets] {
	return internalsecrets.NewResolver(logger, provider, cache, parseGatewaySecrets)
}

// Apply resolves cfg.AWSSecretID and overlays the non-empty values onto cfg.
// It is a no-op when no secret id is configured.
func Apply(ctx context.Context, cfg *config.Config, resolver *internalsecrets.Resolver[GatewaySecrets], logger *zap.Logger) error {
	if cfg.AWSSecretID == "" {
		return nil
	}
	s, err := resolver.Resolve(ctx, cfg.AWSSecretID)
	if err != nil {
		return err
	}

	var applied []string
	if s.TelegramBotToken != "" {
		cfg.TelegramBotToken = s.TelegramBotToken
		applied = append(applied, "telegram_bot_token")
	}
	if s.DatabaseURL != "" {
		cfg.DatabaseURL = s.DatabaseURL
		applied = append(applied, "database_url")
	}
	if s.AdminToken != "" {
		cfg.AdminToken = s.AdminToken
		applied = append(applied, "admin_token")
	}
	if s.AMQPURL != "" {
		cfg.AMQPURL = s.AMQPURL
		applied = append(applied, "amqp_url")
	}

	if logger != nil {
		logger.Info("secrets.applied",
			zap.String("secret_id", cfg.AWSSecretID),
			zap.Strings("keys", applied),
			zap.String("bot_token", utils.MaskToken(cfg.TelegramBotToken)),
			zap.String("dsn", utils.MaskDSN(cfg.DatabaseURL)))
	}
	return nil
}
