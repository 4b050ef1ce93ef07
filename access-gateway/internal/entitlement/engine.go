package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/privateness-network/bot-access/access-gateway/internal/catalog"
	"github.com/privateness-network/bot-access/access-gateway/internal/chain"
	"github.com/privateness-network/bot-access/access-gateway/pkg/config"
	"github.com/privateness-network/bot-access/internal/metrics"
	"github.com/privateness-network/bot-access/internal/store"
	"github.com/privateness-network/bot-access/pkg/eventbus"
	"github.com/privateness-network/bot-access/pkg/model"
)

// maxAuditHashLen caps what is written to the audit trail for garbage input.
const maxAuditHashLen = 128

// ErrStorageUnavailable wraps ledger failures surfaced by Verify and Revoke.
var ErrStorageUnavailable = errors.New("storage unavailable")

// Decision is the verdict for one verification request. Entitlement is set on Granted.
type Decision struct {
	Outcome     model.Outcome
	Reason      model.Reason
	Product     *model.Product
	Entitlement *model.Entitlement
}

func (d Decision) Granted() bool { return d.Outcome == model.OutcomeGranted }

// Options tune the verification policy.
type Options struct {
	MinConfirmations int
	// RenewalPolicy is config.RenewalExtend (default) or config.RenewalReject.
	RenewalPolicy string
}

// Engine decides whether a submitted payment unlocks a product, and records the result.
type Engine struct {
	logger   *zap.Logger
	catalog  *catalog.Catalog
	store    store.Store
	observer chain.Observer
	bus      *eventbus.EventBus[model.AccessEvent]
	opts     Options
	now      func() time.Time
}

// NewEngine wires the engine. bus may be nil.
func NewEngine(
	logger *zap.Logger,
	cat *catalog.Catalog,
	st store.Store,
	observer chain.Observer,
	bus *eventbus.EventBus[model.AccessEvent],
	opts Options,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RenewalPolicy == "" {
		opts.RenewalPolicy = config.RenewalExtend
	}
	return &Engine{
		logger:   logger,
		catalog:  cat,
		store:    st,
		observer: observer,
		bus:      bus,
		opts:     opts,
		now:      time.Now,
	}
}

// Verify evaluates req against the chain and the ledger. Domain outcomes are
// returned in the Decision; the error is non-nil only with Outcome failed.
func (e *Engine) Verify(ctx context.Context, req model.VerificationRequest) (Decision, error) {
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = e.now().UTC()
	}
	d, err := e.decide(ctx, &req)

	e.record(ctx, req, d)
	label := metrics.UnknownProduct
	if d.Product != nil {
		label = d.Product.Key
	}
	metrics.IncVerification(label, string(d.Outcome), string(d.Reason))
	if err != nil {
		metrics.IncError("entitlement", string(d.Reason))
	}

	fields := []zap.Field{
		zap.String("user_id", req.UserID),
		zap.String("product", req.ProductKey),
		zap.String("tx_hash", req.TxHash),
		zap.String("outcome", string(d.Outcome)),
		zap.String("reason", string(d.Reason)),
	}
	switch d.Outcome {
	case model.OutcomeGranted:
		e.logger.Info("entitlement.granted", append(fields, zap.String("entitlement_id", d.Entitlement.ID.String()))...)
	case model.OutcomeFailed:
		e.logger.Error("entitlement.verify_failed", append(fields, zap.Error(err))...)
	default:
		e.logger.Info("entitlement.not_granted", fields...)
	}
	return d, err
}

func (e *Engine) decide(ctx context.Context, req *model.VerificationRequest) (Decision, error) {
	product, ok := e.catalog.Get(req.ProductKey)
	if !ok {
		return reject(nil, model.ReasonUnknownProduct), nil
	}
	req.ProductKey = product.Key

	hash, err := chain.NormalizeHash(req.TxHash)
	if err != nil {
		req.TxHash = truncate(strings.TrimSpace(req.TxHash), maxAuditHashLen)
		return reject(&product, model.ReasonInvalidTransactionHash), nil
	}
	req.TxHash = hash

	entry, err := e.store.GetLedgerEntry(ctx, hash)
	if err != nil {
		return failed(&product, fmt.Errorf("get ledger entry: %w: %w", ErrStorageUnavailable, err))
	}
	if entry != nil {
		return e.alreadyLedgered(ctx, &product, req.UserID, *entry)
	}

	current, err := e.store.GetEntitlement(ctx, req.UserID, product.Key)
	if err != nil {
		return failed(&product, fmt.Errorf("get entitlement: %w: %w", ErrStorageUnavailable, err))
	}
	now := e.now().UTC()
	if current != nil && current.ActiveAt(now) && e.opts.RenewalPolicy == config.RenewalReject {
		return reject(&product, model.ReasonRedundantPayment), nil
	}

	rec, err := e.observer.FetchTransaction(ctx, hash)
	switch {
	case errors.Is(err, chain.ErrTransactionNotFound):
		return reject(&product, model.ReasonTransactionNotFound), nil
	case err != nil:
		return Decision{Outcome: model.OutcomePending, Reason: model.ReasonExplorerUnreachable, Product: &product}, nil
	}

	if reason := e.check(product, rec); reason != model.ReasonNone {
		return reject(&product, reason), nil
	}

	err = e.store.ReserveHash(ctx, model.LedgerEntry{
		TxHash:     hash,
		UserID:     req.UserID,
		ProductKey: product.Key,
		ReservedAt: now,
	})
	if errors.Is(err, store.ErrHashAlreadyUsed) {
		e.logger.Info("ledger.reserve_conflict",
			zap.String("tx_hash", hash),
			zap.String("user_id", req.UserID),
			zap.String("product", product.Key))
		return reject(&product, model.ReasonReplayedTransaction), nil
	}
	if err != nil {
		return failed(&product, fmt.Errorf("reserve hash: %w: %w", ErrStorageUnavailable, err))
	}

	ent := model.Entitlement{
		ID:           uuid.New(),
		UserID:       req.UserID,
		ProductKey:   product.Key,
		BotUsername:  product.BotUsername,
		PayerAddress: rec.Sender,
		SourceTxHash: hash,
		GrantedAt:    now,
	}
	stored, err := e.store.RecordEntitlement(ctx, ent, hash, product.AccessPeriod)
	if err != nil {
		if relErr := e.store.ReleaseHash(ctx, hash); relErr != nil {
			// the sweeper removes it once the reservation goes stale
			e.logger.Warn("ledger.release_failed", zap.String("tx_hash", hash), zap.Error(relErr))
		}
		return failed(&product, fmt.Errorf("record entitlement: %w: %w", ErrStorageUnavailable, err))
	}
	return Decision{Outcome: model.OutcomeGranted, Product: &product, Entitlement: stored}, nil
}

// alreadyLedgered resolves a hash that is already in the ledger.
func (e *Engine) alreadyLedgered(ctx context.Context, product *model.Product, userID string, entry model.LedgerEntry) (Decision, error) {
	if !entry.OwnedBy(userID, product.Key) || entry.Status != model.LedgerConsumed {
		return reject(product, model.ReasonReplayedTransaction), nil
	}
	ent, err := e.store.GetEntitlementByHash(ctx, entry.TxHash)
	if err != nil {
		return failed(product, fmt.Errorf("get entitlement by hash: %w: %w", ErrStorageUnavailable, err))
	}
	if ent == nil || !ent.ActiveAt(e.now()) {
		return reject(product, model.ReasonEntitlementExpired), nil
	}
	return Decision{Outcome: model.OutcomeGranted, Product: product, Entitlement: ent}, nil
}

// check applies the payment rules in order and returns the first failing reason.
func (e *Engine) check(p model.Product, rec *model.TransactionRecord) model.Reason {
	paid, found := rec.PaidTo(p.PaymentAddress, p.PaymentAsset)
	if !found {
		return model.ReasonWrongAddress
	}
	if paid.LessThan(p.RequiredAmount) {
		return model.ReasonInsufficientAmount
	}
	if rec.Confirmations < e.opts.MinConfirmations {
		return model.ReasonInsufficientConfirmations
	}
	if !rec.BlockTime.After(p.ActivatedAt) {
		return model.ReasonPaymentPredatesProduct
	}
	return model.ReasonNone
}

// Revoke withdraws a user's entitlement to a product. ok is false when there was none.
func (e *Engine) Revoke(ctx context.Context, userID, productKey string) (*model.Entitlement, bool, error) {
	if p, found := e.catalog.Get(productKey); found {
		productKey = p.Key
	}
	ent, err := e.store.RevokeEntitlement(ctx, userID, productKey, e.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("revoke entitlement: %w: %w", ErrStorageUnavailable, err)
	}

	e.logger.Info("entitlement.revoked",
		zap.String("user_id", userID),
		zap.String("product", productKey),
		zap.String("entitlement_id", ent.ID.String()))
	e.publish(model.AccessEvent{
		Type:          model.EventEntitlementRevoked,
		UserID:        userID,
		ProductKey:    productKey,
		EntitlementID: ent.ID.String(),
		BotUsername:   ent.BotUsername,
	})
	return ent, true, nil
}

// Entitlements lists every entitlement a user holds, active or not.
func (e *Engine) Entitlements(ctx context.Context, userID string) ([]model.Entitlement, error) {
	ents, err := e.store.ListEntitlements(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list entitlements: %w: %w", ErrStorageUnavailable, err)
	}
	return ents, nil
}

// Attempts returns the audit trail for a user, newest first.
func (e *Engine) Attempts(ctx context.Context, userID string, limit int) ([]model.VerificationAttempt, error) {
	out, err := e.store.ListAttempts(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w: %w", ErrStorageUnavailable, err)
	}
	return out, nil
}

// record writes the audit row and emits the decision event. Neither may change the verdict.
func (e *Engine) record(ctx context.Context, req model.VerificationRequest, d Decision) {
	decided := e.now().UTC()
	attempt := model.VerificationAttempt{
		ID:          uuid.New(),
		UserID:      req.UserID,
		ProductKey:  req.ProductKey,
		TxHash:      req.TxHash,
		Outcome:     d.Outcome,
		Reason:      d.Reason,
		SubmittedAt: req.SubmittedAt,
		DecidedAt:   decided,
	}
	evt := model.AccessEvent{
		Type:       model.EventTypeFor(d.Outcome),
		UserID:     req.UserID,
		ProductKey: req.ProductKey,
		TxHash:     req.TxHash,
		Outcome:    d.Outcome,
		Reason:     d.Reason,
		OccurredAt: decided,
	}
	if d.Entitlement != nil {
		id := d.Entitlement.ID
		attempt.EntitlementID = &id
		evt.EntitlementID = id.String()
		evt.BotUsername = d.Entitlement.BotUsername
		evt.ExpiresAt = d.Entitlement.ExpiresAt
	}

	if err := e.store.RecordAttempt(ctx, attempt); err != nil {
		e.logger.Warn("entitlement.audit_failed", zap.String("tx_hash", req.TxHash), zap.Error(err))
		metrics.IncError("entitlement", "audit_failed")
	}
	e.publish(evt)
}

func (e *Engine) publish(evt model.AccessEvent) {
	if e.bus == nil {
		return
	}
	if evt.ID == uuid.Nil {
		evt.ID = uuid.New()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = e.now().UTC()
	}
	e.bus.Publish(evt)
}

func reject(p *model.Product, reason model.Reason) Decision {
	return Decision{Outcome: model.OutcomeRejected, Reason: reason, Product: p}
}

func failed(p *model.Product, err error) (Decision, error) {
	return Decision{Outcome: model.OutcomeFailed, Reason: model.ReasonStorageUnavailable, Product: p}, err
}

// truncate keeps at most n bytes of s, cut on a rune boundary. Invalid UTF-8 is
// replaced first so the audit column always receives valid text.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
