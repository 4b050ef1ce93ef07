package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/privateness-network/bot-access/pkg/utils"
)

// Options selects and configures a Store backend.
type Options struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
	Pool        PGPoolConfig
	// AutoMigrate applies pending goose migrations before opening a postgres store.
	AutoMigrate bool
}

// Open builds the Store named by opts.Driver.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch opts.Driver {
	case DriverPostgres:
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
		if opts.AutoMigrate {
			if err := Migrate(ctx, opts.DatabaseURL, "up", logger); err != nil {
				return nil, err
			}
		}
		s, err := NewPostgres(ctx, opts.DatabaseURL, opts.Pool, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("store.opened", zap.String("driver", opts.Driver), zap.String("dsn", utils.MaskDSN(opts.DatabaseURL)))
		return s, nil
	case DriverSQLite:
		s, err := NewSQLite(opts.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("store.opened", zap.String("driver", opts.Driver), zap.String("path", opts.SQLitePath))
		return s, nil
	case DriverMemory, "":
		logger.Warn("store.opened", zap.String("driver", DriverMemory), zap.String("note", "ledger is not durable"))
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
