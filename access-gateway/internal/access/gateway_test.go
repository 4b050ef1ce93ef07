package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/privateness-network/bot-access/access-gateway/internal/catalog"
	"github.com/privateness-network/bot-access/access-gateway/internal/chain"
	"github.com/privateness-network/bot-access/access-gateway/internal/entitlement"
	"github.com/privateness-network/bot-access/internal/metrics"
	"github.com/privateness-network/bot-access/internal/store"
	"github.com/privateness-network/bot-access/pkg/model"
)

const (
	addr1  = "2kGY2fECeGbaQWnq2QvZ9L7ng7QkerUraMn"
	payer  = "2PayerAddrAAAAAAAAAAAAAAAAAAAAAAAAA"
	hashA  = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	btcKey = "BTC_Spot_Binance"
	ethKey = "ETH_Spot_Binance"
)

var now = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func product(key, bot string, minBalance int64) model.Product {
	return model.Product{
		Key:            key,
		BotUsername:    bot,
		PaymentAddress: addr1,
		PaymentAsset:   model.AssetNCH,
		RequiredAmount: decimal.NewFromInt(3000),
		BalanceAsset:   model.AssetNESS,
		MinimumBalance: decimal.NewFromInt(minBalance),
		ActivatedAt:    time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		AccessPeriod:   30 * 24 * time.Hour,
	}
}

// fakeChain serves one transaction and a configurable payer balance.
type fakeChain struct {
	mu           sync.Mutex
	txUnreach    bool
	balance      decimal.Decimal
	balanceErr   error
	balanceDelay time.Duration
	txCalls      int
}

func (f *fakeChain) FetchTransaction(_ context.Context, hash string) (*model.TransactionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCalls++
	if f.txUnreach {
		return nil, chain.ErrExplorerUnreachable
	}
	if hash != hashA {
		return nil, chain.ErrTransactionNotFound
	}
	return &model.TransactionRecord{
		Hash:          hashA,
		Sender:        payer,
		Outputs:       []model.Output{{Address: addr1, Hours: decimal.NewFromInt(3000)}},
		Confirmed:     true,
		Confirmations: 2,
		BlockTime:     now.Add(-time.Hour),
	}, nil
}

func (f *fakeChain) Balance(ctx context.Context, address string) (*model.Balance, error) {
	f.mu.Lock()
	delay, bal, err := f.balanceDelay, f.balance, f.balanceErr
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, chain.ErrExplorerUnreachable
		}
	}
	if err != nil {
		return nil, err
	}
	return &model.Balance{Address: address, Coins: bal}, nil
}

type harness struct {
	gw    *Gateway
	chain *fakeChain
	store *store.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cat := catalog.New(
		product(btcKey, "BTC_Spot_Binance_bot", 4000),
		product(ethKey, "ETH_Spot_Binance_bot", 0),
	)
	st := store.NewMemory()
	fc := &fakeChain{balance: decimal.NewFromInt(5000)}
	eng := entitlement.NewEngine(zap.NewNop(), cat, st, fc, nil, entitlement.Options{MinConfirmations: 1})
	gw := NewGateway(zap.NewNop(), cat, eng, st, fc, 50*time.Millisecond)
	return &harness{gw: gw, chain: fc, store: st}
}

// ─── CheckAccess ─────────────────────────────────────────────────────────────

func TestCheckAccess_UnknownProduct(t *testing.T) {
	h := newHarness(t)
	res := h.gw.CheckAccess(context.Background(), "42", "NOPE")
	assert.False(t, res.Access)
	assert.Equal(t, model.ReasonUnknownProduct, res.Reason)
	assert.Equal(t, "Invalid bot: NOPE", res.Message)
}

func TestCheckAccess_NoEntitlement(t *testing.T) {
	h := newHarness(t)
	for _, key := range []string{btcKey, ethKey} {
		res := h.gw.CheckAccess(context.Background(), "42", key)
		assert.False(t, res.Access)
		assert.Equal(t, model.ReasonNoEntitlement, res.Reason)
		assert.Equal(t, "No active subscription", res.Message)
	}
}

func TestCheckAccess_GrantedWithBalance(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.gw.VerifyPayment(context.Background(), "42", btcKey, hashA).Success)
	calls := h.chain.txCalls

	res := h.gw.CheckAccess(context.Background(), "42", btcKey)
	assert.True(t, res.Access)
	assert.Equal(t, "BTC_Spot_Binance_bot", res.BotUsername)
	assert.NotNil(t, res.ExpiresAt)
	assert.Equal(t, calls, h.chain.txCalls, "access checks never fetch transactions")

	assert.False(t, h.gw.CheckAccess(context.Background(), "43", btcKey).Access, "entitlements are per user")
}

func TestCheckAccess_InsufficientBalance(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.gw.VerifyPayment(context.Background(), "42", btcKey, hashA).Success)

	h.chain.mu.Lock()
	h.chain.balance = decimal.RequireFromString("3999.999999")
	h.chain.mu.Unlock()

	res := h.gw.CheckAccess(context.Background(), "42", btcKey)
	assert.False(t, res.Access)
	assert.Equal(t, model.ReasonInsufficientBalance, res.Reason)
	assert.Equal(t, "Insufficient NESS balance", res.Message)
}

func TestCheckAccess_BalanceUnavailableFailsClosed(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.gw.VerifyPayment(context.Background(), "42", btcKey, hashA).Success)

	h.chain.mu.Lock()
	h.chain.balanceErr = chain.ErrExplorerUnreachable
	h.chain.mu.Unlock()

	res := h.gw.CheckAccess(context.Background(), "42", btcKey)
	assert.False(t, res.Access)
	assert.Equal(t, model.ReasonBalanceUnavailable, res.Reason)
	assert.Contains(t, res.Message, "Explorer unreachable")
}

func TestCheckAccess_BalanceQueryIsBounded(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.gw.VerifyPayment(context.Background(), "42", btcKey, hashA).Success)

	h.chain.mu.Lock()
	h.chain.balanceDelay = 5 * time.Second
	h.chain.mu.Unlock()

	start := time.Now()
	res := h.gw.CheckAccess(context.Background(), "42", btcKey)
	assert.False(t, res.Access)
	assert.Equal(t, model.ReasonBalanceUnavailable, res.Reason)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCheckAccess_NoBalanceRequirement(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.gw.VerifyPayment(context.Background(), "42", ethKey, hashA).Success)

	h.chain.mu.Lock()
	h.chain.balanceErr = errors.New("must not be called")
	h.chain.mu.Unlock()

	assert.True(t, h.gw.CheckAccess(context.Background(), "42", ethKey).Access)
}

func TestCheckAccess_Expired(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.gw.VerifyPayment(context.Background(), "42", btcKey, hashA).Success)

	h.gw.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	res := h.gw.CheckAccess(context.Background(), "42", btcKey)
	assert.False(t, res.Access)
	assert.Equal(t, model.ReasonEntitlementExpired, res.Reason)
}

func TestCheckAccess_Revoked(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.gw.VerifyPayment(context.Background(), "42", btcKey, hashA).Success)
	_, err := h.store.RevokeEntitlement(context.Background(), "42", btcKey, time.Now())
	require.NoError(t, err)

	assert.Equal(t, model.ReasonEntitlementExpired, h.gw.CheckAccess(context.Background(), "42", btcKey).Reason)
}

type brokenLedger struct{}

func (brokenLedger) GetEntitlement(context.Context, string, string) (*model.Entitlement, error) {
	return nil, errors.New("connection reset")
}

func TestCheckAccess_StorageFailure(t *testing.T) {
	h := newHarness(t)
	h.gw.ledger = brokenLedger{}

	res := h.gw.CheckAccess(context.Background(), "42", btcKey)
	assert.False(t, res.Access)
	assert.Equal(t, model.ReasonStorageUnavailable, res.Reason)
}

// ─── VerifyPayment ───────────────────────────────────────────────────────────

func TestVerifyPayment_Granted(t *testing.T) {
	h := newHarness(t)
	res := h.gw.VerifyPayment(context.Background(), "42", btcKey, hashA)
	assert.True(t, res.Success)
	assert.Equal(t, "Bot access granted", res.Message)
	assert.Equal(t, "BTC_Spot_Binance_bot", res.BotUsername)
	assert.Equal(t, addr1, res.PaymentAddress)
	assert.Empty(t, res.Reason)
}

func TestVerifyPayment_ExplorerUnreachableContract(t *testing.T) {
	h := newHarness(t)
	h.chain.mu.Lock()
	h.chain.txUnreach = true
	h.chain.mu.Unlock()

	res := h.gw.VerifyPayment(context.Background(), "42", btcKey, hashA)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "Explorer unreachable")
	assert.Equal(t, model.ReasonExplorerUnreachable, res.Reason)

	h.chain.mu.Lock()
	h.chain.txUnreach = false
	h.chain.mu.Unlock()
	assert.True(t, h.gw.VerifyPayment(context.Background(), "42", btcKey, hashA).Success)
}

func TestVerifyPayment_ReplayAcrossProducts(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.gw.VerifyPayment(context.Background(), "42", btcKey, hashA).Success)

	res := h.gw.VerifyPayment(context.Background(), "42", ethKey, hashA)
	assert.False(t, res.Success)
	assert.Equal(t, model.ReasonReplayedTransaction, res.Reason)
	assert.Contains(t, res.Message, "ReplayedTransaction")
	assert.NotContains(t, res.Message, "Explorer unreachable")
}

func TestVerifyPayment_RejectionMessages(t *testing.T) {
	h := newHarness(t)

	res := h.gw.VerifyPayment(context.Background(), "42", "NOPE", hashA)
	assert.Equal(t, model.ReasonUnknownProduct, res.Reason)
	assert.Equal(t, "UnknownProduct: invalid bot: NOPE", res.Message)
	assert.Empty(t, res.PaymentAddress)

	res = h.gw.VerifyPayment(context.Background(), "42", btcKey, "xyz")
	assert.Equal(t, model.ReasonInvalidTransactionHash, res.Reason)
	assert.Equal(t, addr1, res.PaymentAddress)

	res = h.gw.VerifyPayment(context.Background(), "42", btcKey, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	assert.Equal(t, model.ReasonTransactionNotFound, res.Reason)
	assert.True(t, len(res.Message) > len("TransactionNotFound"))
}

type stubVerifier struct {
	d   entitlement.Decision
	err error
}

func (s stubVerifier) Verify(context.Context, model.VerificationRequest) (entitlement.Decision, error) {
	return s.d, s.err
}

func TestVerifyPayment_StorageFailureIsGeneric(t *testing.T) {
	h := newHarness(t)
	h.gw.verifier = stubVerifier{
		d:   entitlement.Decision{Outcome: model.OutcomeFailed, Reason: model.ReasonStorageUnavailable},
		err: entitlement.ErrStorageUnavailable,
	}

	res := h.gw.VerifyPayment(context.Background(), "42", btcKey, hashA)
	assert.False(t, res.Success)
	assert.Equal(t, model.ReasonStorageUnavailable, res.Reason)
	assert.Equal(t, "Verification failed, please try again later", res.Message)
}

func TestRejectionMessage_InsufficientAmount(t *testing.T) {
	p := product(btcKey, "b", 0)
	msg := rejectionMessage(model.ReasonInsufficientAmount, &p, btcKey)
	assert.Equal(t, "InsufficientAmount: send at least 3000 NCH to "+addr1, msg)
}

// productLabels returns the product label values currently exported for family.
func productLabels(t *testing.T, family string) map[string]bool {
	t.Helper()
	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	out := make(map[string]bool)
	for _, mf := range mfs {
		if mf.GetName() != family {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "product" {
					out[lp.GetValue()] = true
				}
			}
		}
	}
	return out
}

func TestCheckAccess_UnknownBotNamesShareOneSeries(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 200; i++ {
		res := h.gw.CheckAccess(context.Background(), "42", fmt.Sprintf("junk-%d", i))
		require.Equal(t, model.ReasonUnknownProduct, res.Reason)
	}
	h.gw.VerifyPayment(context.Background(), "42", "junk-verify", hashA)
	h.gw.CheckAccess(context.Background(), "42", "btc_spot_binance")

	for _, family := range []string{"access_checks_total", "access_verifications_total"} {
		labels := productLabels(t, family)
		assert.True(t, labels[metrics.UnknownProduct], family)
		for v := range labels {
			assert.False(t, strings.HasPrefix(v, "junk-"), "%s carries client input %q", family, v)
		}
	}
	labels := productLabels(t, "access_checks_total")
	assert.True(t, labels[btcKey], "known products use the canonical key")
	assert.False(t, labels["btc_spot_binance"])
}
