package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/privateness-network/bot-access/internal/store"
	"github.com/privateness-network/bot-access/pkg/logger"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status|version]",
		Short:     "Database migration tools",
		Long:      `Apply, roll back or inspect the Postgres ledger schema. Only used with STORE_DRIVER=postgres; the sqlite driver migrates itself.`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
			}
			return store.Migrate(cmd.Context(), cfg.DatabaseURL, args[0], log)
		},
	}
}
