package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	internalsecrets "github.com/privateness-network/bot-access/access-gateway/internal/secrets"
	"github.com/privateness-network/bot-access/access-gateway/pkg/config"
	"github.com/privateness-network/bot-access/pkg/logger"
	"github.com/privateness-network/bot-access/pkg/secrets"
	"github.com/privateness-network/bot-access/pkg/ttlcache"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "access-gateway",
		Short:         "Payment-gated access to the PrivateNess trading bots",
		Long:          `access-gateway verifies NCH payments on the Privateness chain and grants Telegram users access to trading bots.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newProductsCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment, initialises logging and overlays secrets.
func loadConfig(ctx context.Context) (*config.Config, *zap.Logger, error) {
	cfg := config.Load()
	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	log := logger.L()

	if cfg.AWSSecretID != "" {
		provider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, nil, fmt.Errorf("aws secrets provider: %w", err)
		}
		resolver := internalsecrets.NewResolver(log, provider, ttlcache.New[internalsecrets.GatewaySecrets](cfg.SecretsCacheTTL))
		if err := internalsecrets.Apply(ctx, cfg, resolver, log); err != nil {
			return nil, nil, fmt.Errorf("apply secrets: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
