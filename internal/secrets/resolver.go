package secrets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/privateness-network/bot-access/internal/metrics"
	pkgsecrets "github.com/privateness-network/bot-access/pkg/secrets"
	"github.com/privateness-network/bot-access/pkg/ttlcache"
)

// Resolver loads a secret from a Provider, parses it into T and caches the result.
// It is generic over T so each consumer can decode its own shape.
type Resolver[T any] struct {
	logger   *zap.Logger
	provider pkgsecrets.Provider
	cache    *ttlcache.Cache[T]
	parse    func(map[string]string) (T, error)
}

// NewResolver constructs a Resolver. parse extracts T from the raw secret map and
// should validate required fields.
func NewResolver[T any](
	logger *zap.Logger,
	provider pkgsecrets.Provider,
	cache *ttlcache.Cache[T],
	parse func(map[string]string) (T, error),
) *Resolver[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver[T]{
		logger:   logger,
		provider: provider,
		cache:    cache,
		parse:    parse,
	}
}

// Resolve fetches or returns the cached T for secretID.
func (r *Resolver[T]) Resolve(ctx context.Context, secretID string) (T, error) {
	var zero T
	key := strings.ToLower(secretID)

	if cfg, ok := r.cache.Get(key); ok {
		metrics.IncCache("secrets", true)
		return cfg, nil
	}
	metrics.IncCache("secrets", false)

	raw, err := r.provider.GetSecret(ctx, secretID)
	if err != nil {
		r.logger.Warn("secrets.fetch_failed",
			zap.String("secret_id", secretID),
			zap.Error(err))
		return zero, fmt.Errorf("resolve secret %q: %w", secretID, err)
	}

	cfg, err := r.parse(raw)
	if err != nil {
		return zero, fmt.Errorf("parse secret %q: %w", secretID, err)
	}

	r.cache.Put(key, cfg)
	r.logger.Info("secrets.resolved", zap.String("secret_id", secretID), zap.Int("keys", len(raw)))
	return cfg, nil
}

// Invalidate forgets the cached value for secretID, forcing the next Resolve to refetch.
func (r *Resolver[T]) Invalidate(secretID string) {
	r.cache.Bust(strings.ToLower(secretID))
}
