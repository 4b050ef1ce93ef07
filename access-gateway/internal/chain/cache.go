package chain

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/privateness-network/bot-access/internal/metrics"
	"github.com/privateness-network/bot-access/internal/store"
	"github.com/privateness-network/bot-access/pkg/model"
	"github.com/privateness-network/bot-access/pkg/ttlcache"
)

// TxCache holds found transaction records for a short time.
type TxCache interface {
	Get(ctx context.Context, hash string) (*model.TransactionRecord, bool)
	Put(ctx context.Context, rec *model.TransactionRecord)
}

// MemoryTxCache is the in-process cache used when Redis is not configured.
type MemoryTxCache struct {
	cache *ttlcache.Cache[model.TransactionRecord]
}

func NewMemoryTxCache(ttl time.Duration) *MemoryTxCache {
	return &MemoryTxCache{cache: ttlcache.New[model.TransactionRecord](ttl)}
}

func (m *MemoryTxCache) Get(_ context.Context, hash string) (*model.TransactionRecord, bool) {
	rec, ok := m.cache.Get(hash)
	if !ok {
		return nil, false
	}
	return &rec, true
}

func (m *MemoryTxCache) Put(_ context.Context, rec *model.TransactionRecord) {
	m.cache.Put(rec.Hash, *rec)
}

// StartCleaner evicts expired entries every interval until stop is closed.
func (m *MemoryTxCache) StartCleaner(interval time.Duration, stop <-chan struct{}) {
	m.cache.StartCleaner(interval, stop)
}

// RedisTxCache shares cached records across replicas.
type RedisTxCache struct {
	redis  *store.RedisCache
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisTxCache(rc *store.RedisCache, ttl time.Duration, logger *zap.Logger) *RedisTxCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisTxCache{redis: rc, ttl: ttl, logger: logger}
}

func txKey(hash string) string { return "tx:" + hash }

func (r *RedisTxCache) Get(ctx context.Context, hash string) (*model.TransactionRecord, bool) {
	var rec model.TransactionRecord
	found, err := r.redis.GetJSON(ctx, txKey(hash), &rec)
	if err != nil {
		r.logger.Warn("chain.cache_get_failed", zap.String("tx_hash", hash), zap.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}
	return &rec, true
}

func (r *RedisTxCache) Put(ctx context.Context, rec *model.TransactionRecord) {
	if r.ttl <= 0 {
		return
	}
	if err := r.redis.SetJSON(ctx, txKey(rec.Hash), rec, r.ttl); err != nil {
		r.logger.Warn("chain.cache_put_failed", zap.String("tx_hash", rec.Hash), zap.Error(err))
	}
}

// CachedObserver serves repeated transaction lookups from a TxCache.
// Only found records are cached; NotFound and Unreachable always hit the node.
// Balances are never cached.
type CachedObserver struct {
	next  Observer
	cache TxCache
}

func NewCachedObserver(next Observer, cache TxCache) *CachedObserver {
	return &CachedObserver{next: next, cache: cache}
}

func (c *CachedObserver) FetchTransaction(ctx context.Context, hash string) (*model.TransactionRecord, error) {
	if rec, ok := c.cache.Get(ctx, hash); ok {
		metrics.IncCache("transaction", true)
		return rec, nil
	}
	metrics.IncCache("transaction", false)

	rec, err := c.next.FetchTransaction(ctx, hash)
	if err != nil {
		return nil, err
	}
	// unconfirmed records change as blocks arrive
	if rec.Confirmed {
		c.cache.Put(ctx, rec)
	}
	return rec, nil
}

func (c *CachedObserver) Balance(ctx context.Context, address string) (*model.Balance, error) {
	return c.next.Balance(ctx, address)
}
