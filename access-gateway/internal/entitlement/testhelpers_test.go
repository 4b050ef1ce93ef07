package entitlement

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/privateness-network/bot-access/access-gateway/internal/catalog"
	"github.com/privateness-network/bot-access/access-gateway/internal/chain"
	"github.com/privateness-network/bot-access/internal/store"
	"github.com/privateness-network/bot-access/pkg/eventbus"
	"github.com/privateness-network/bot-access/pkg/model"
)

const (
	addr1  = "2kGY2fECeGbaQWnq2QvZ9L7ng7QkerUraMn"
	payer  = "2PayerAddrAAAAAAAAAAAAAAAAAAAAAAAAA"
	hashA  = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	hashB  = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	btcKey = "BTC_Spot_Binance"
	ethKey = "ETH_Spot_Binance"
)

var (
	activatedAt = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	t0          = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	period      = 30 * 24 * time.Hour
)

func product(key, bot string) model.Product {
	parts := strings.Split(key, "_")
	return model.Product{
		Key:            key,
		Asset:          parts[0],
		Market:         parts[1],
		Exchange:       parts[2],
		BotUsername:    bot,
		PaymentAddress: addr1,
		PaymentAsset:   model.AssetNCH,
		RequiredAmount: decimal.NewFromInt(3000),
		BalanceAsset:   model.AssetNESS,
		MinimumBalance: decimal.NewFromInt(4000),
		ActivatedAt:    activatedAt,
		AccessPeriod:   period,
	}
}

func testCatalog() *catalog.Catalog {
	return catalog.New(
		product(btcKey, "BTC_Spot_Binance_bot"),
		product(ethKey, "ETH_Spot_Binance_bot"),
	)
}

// fakeObserver serves canned records. unreachable flips every lookup to ExplorerUnreachable.
type fakeObserver struct {
	mu          sync.Mutex
	records     map[string]*model.TransactionRecord
	unreachable bool
	calls       atomic.Int32
	// beforeReply, when set, runs on every lookup before the record is returned.
	beforeReply func()
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{records: make(map[string]*model.TransactionRecord)}
}

func (f *fakeObserver) add(rec *model.TransactionRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.Hash] = rec
}

func (f *fakeObserver) setUnreachable(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreachable = v
}

func (f *fakeObserver) FetchTransaction(_ context.Context, hash string) (*model.TransactionRecord, error) {
	f.calls.Add(1)
	if f.beforeReply != nil {
		f.beforeReply()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unreachable {
		return nil, chain.ErrExplorerUnreachable
	}
	rec, ok := f.records[hash]
	if !ok {
		return nil, chain.ErrTransactionNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeObserver) Balance(context.Context, string) (*model.Balance, error) {
	return nil, chain.ErrExplorerUnreachable
}

// payment builds a confirmed NCH payment of hours to addr1.
func payment(hash string, hours int64) *model.TransactionRecord {
	return &model.TransactionRecord{
		Hash:   hash,
		Sender: payer,
		Outputs: []model.Output{
			{Address: addr1, Coins: decimal.NewFromInt(1), Hours: decimal.NewFromInt(hours)},
			{Address: payer, Coins: decimal.NewFromInt(9), Hours: decimal.NewFromInt(10)},
		},
		Confirmed:     true,
		Confirmations: 2,
		BlockTime:     t0.Add(-time.Hour),
	}
}

type fixture struct {
	engine   *Engine
	store    *store.MemoryStore
	observer *fakeObserver
	bus      *eventbus.EventBus[model.AccessEvent]
	clock    *clock
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	if opts.MinConfirmations == 0 {
		opts.MinConfirmations = 1
	}
	st := store.NewMemory()
	obs := newFakeObserver()
	bus := eventbus.New[model.AccessEvent]()
	clk := &clock{now: t0}
	eng := NewEngine(zap.NewNop(), testCatalog(), st, obs, bus, opts)
	eng.now = clk.Now
	return &fixture{engine: eng, store: st, observer: obs, bus: bus, clock: clk}
}

func (f *fixture) verify(t *testing.T, user, productKey, hash string) Decision {
	t.Helper()
	d, err := f.engine.Verify(context.Background(), model.VerificationRequest{
		UserID:     user,
		ProductKey: productKey,
		TxHash:     hash,
	})
	if d.Outcome != model.OutcomeFailed && err != nil {
		t.Fatalf("unexpected error with outcome %s: %v", d.Outcome, err)
	}
	return d
}

// failingStore breaks RecordEntitlement to exercise the release path.
type failingStore struct {
	*store.MemoryStore
	recordErr error
}

func (s *failingStore) RecordEntitlement(context.Context, model.Entitlement, string, time.Duration) (*model.Entitlement, error) {
	return nil, s.recordErr
}

// catalogWith returns the default test products plus extra.
func catalogWith(extra ...model.Product) *catalog.Catalog {
	return catalog.New(append(testCatalog().All(), extra...)...)
}
