package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/privateness-network/bot-access/access-gateway/internal/catalog"
	"github.com/privateness-network/bot-access/access-gateway/internal/entitlement"
	"github.com/privateness-network/bot-access/internal/metrics"
	"github.com/privateness-network/bot-access/pkg/model"
)

// Verifier decides verification requests.
type Verifier interface {
	Verify(ctx context.Context, req model.VerificationRequest) (entitlement.Decision, error)
}

// EntitlementReader is the read side of the ledger used by access checks.
type EntitlementReader interface {
	GetEntitlement(ctx context.Context, userID, productKey string) (*model.Entitlement, error)
}

// BalanceSource reads live address balances.
type BalanceSource interface {
	Balance(ctx context.Context, address string) (*model.Balance, error)
}

// CheckResult is the body of a check_bot_access response.
type CheckResult struct {
	Access      bool         `json:"access"`
	Reason      model.Reason `json:"reason,omitempty"`
	Message     string       `json:"message,omitempty"`
	BotUsername string       `json:"bot_username,omitempty"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
}

// VerifyResult is the body of a verify_bot_payment response.
type VerifyResult struct {
	Success        bool         `json:"success"`
	Message        string       `json:"message"`
	Reason         model.Reason `json:"reason,omitempty"`
	BotUsername    string       `json:"bot_username,omitempty"`
	PaymentAddress string       `json:"payment_address,omitempty"`
	ExpiresAt      *time.Time   `json:"expires_at,omitempty"`
}

// Gateway answers the two frontend questions: may this user use this bot, and
// does this transaction pay for it.
type Gateway struct {
	logger         *zap.Logger
	catalog        *catalog.Catalog
	verifier       Verifier
	ledger         EntitlementReader
	balances       BalanceSource
	balanceTimeout time.Duration
	now            func() time.Time
}

func NewGateway(
	logger *zap.Logger,
	cat *catalog.Catalog,
	verifier Verifier,
	ledger EntitlementReader,
	balances BalanceSource,
	balanceTimeout time.Duration,
) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		logger:         logger,
		catalog:        cat,
		verifier:       verifier,
		ledger:         ledger,
		balances:       balances,
		balanceTimeout: balanceTimeout,
		now:            time.Now,
	}
}

// CheckAccess reports whether userID currently holds access to productKey.
// It never looks up transactions; the only chain call is the bounded balance query.
func (g *Gateway) CheckAccess(ctx context.Context, userID, productKey string) CheckResult {
	res := g.checkAccess(ctx, userID, productKey)
	label := metrics.UnknownProduct
	if p, ok := g.catalog.Get(productKey); ok {
		label = p.Key
	}
	metrics.IncAccessCheck(label, res.Access, string(res.Reason))
	if res.Message == "" {
		res.Message = accessMessage(res.Reason, productKey)
	}
	return res
}

func (g *Gateway) checkAccess(ctx context.Context, userID, productKey string) CheckResult {
	product, ok := g.catalog.Get(productKey)
	if !ok {
		return CheckResult{Reason: model.ReasonUnknownProduct}
	}

	ent, err := g.ledger.GetEntitlement(ctx, userID, product.Key)
	if err != nil {
		g.logger.Error("access.check_storage_failed",
			zap.String("user_id", userID),
			zap.String("product", product.Key),
			zap.Error(err))
		metrics.IncError("access", string(model.ReasonStorageUnavailable))
		return CheckResult{Reason: model.ReasonStorageUnavailable}
	}
	if ent == nil {
		return CheckResult{Reason: model.ReasonNoEntitlement}
	}
	if !ent.ActiveAt(g.now()) {
		return CheckResult{Reason: model.ReasonEntitlementExpired, ExpiresAt: ent.ExpiresAt}
	}

	if product.RequiresBalance() {
		if reason := g.checkBalance(ctx, product, ent.PayerAddress); reason != model.ReasonNone {
			return CheckResult{Reason: reason, ExpiresAt: ent.ExpiresAt}
		}
	}
	return CheckResult{Access: true, BotUsername: ent.BotUsername, ExpiresAt: ent.ExpiresAt}
}

// checkBalance fails closed: an unanswered balance query denies access.
func (g *Gateway) checkBalance(ctx context.Context, p model.Product, address string) model.Reason {
	if address == "" {
		return model.ReasonInsufficientBalance
	}
	if g.balanceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.balanceTimeout)
		defer cancel()
	}

	bal, err := g.balances.Balance(ctx, address)
	if err != nil {
		g.logger.Warn("access.balance_unavailable",
			zap.String("product", p.Key),
			zap.String("address", address),
			zap.Error(err))
		return model.ReasonBalanceUnavailable
	}
	if bal.Of(p.BalanceAsset).LessThan(p.MinimumBalance) {
		return model.ReasonInsufficientBalance
	}
	return model.ReasonNone
}

// VerifyPayment verifies hash as payment for productKey and maps the decision
// onto the response contract.
func (g *Gateway) VerifyPayment(ctx context.Context, userID, productKey, hash string) VerifyResult {
	d, err := g.verifier.Verify(ctx, model.VerificationRequest{
		UserID:      userID,
		ProductKey:  productKey,
		TxHash:      hash,
		SubmittedAt: g.now().UTC(),
	})
	if err != nil && !errors.Is(err, entitlement.ErrStorageUnavailable) {
		g.logger.Error("access.verify_unexpected_error", zap.Error(err))
	}

	res := VerifyResult{Reason: d.Reason}
	if d.Product != nil {
		res.PaymentAddress = d.Product.PaymentAddress
	}

	switch d.Outcome {
	case model.OutcomeGranted:
		res.Success = true
		res.Message = "Bot access granted"
		res.BotUsername = d.Entitlement.BotUsername
		res.ExpiresAt = d.Entitlement.ExpiresAt
	case model.OutcomePending:
		res.Message = "Explorer unreachable, please try again in a minute"
	case model.OutcomeFailed:
		res.Reason = model.ReasonStorageUnavailable
		res.Message = "Verification failed, please try again later"
	default:
		res.Message = rejectionMessage(d.Reason, d.Product, productKey)
	}
	return res
}

// rejectionMessage keeps the reason code first so clients can match on it.
func rejectionMessage(reason model.Reason, p *model.Product, productKey string) string {
	var hint string
	switch reason {
	case model.ReasonUnknownProduct:
		hint = "invalid bot: " + productKey
	case model.ReasonInvalidTransactionHash:
		hint = "expected a 64 character hex transaction hash"
	case model.ReasonTransactionNotFound:
		hint = "transaction is not known to the network yet"
	case model.ReasonWrongAddress:
		hint = "payment was not sent to " + p.PaymentAddress
	case model.ReasonInsufficientAmount:
		hint = fmt.Sprintf("send at least %s %s to %s", p.RequiredAmount.String(), p.PaymentAsset, p.PaymentAddress)
	case model.ReasonInsufficientConfirmations:
		hint = "wait for the transaction to be confirmed"
	case model.ReasonPaymentPredatesProduct:
		hint = "payment was made before this bot was available"
	case model.ReasonReplayedTransaction:
		hint = "transaction was already used"
	case model.ReasonRedundantPayment:
		hint = "you already have an active subscription"
	case model.ReasonEntitlementExpired:
		hint = "subscription paid by this transaction has ended"
	default:
		return string(reason)
	}
	return string(reason) + ": " + hint
}

func accessMessage(reason model.Reason, productKey string) string {
	switch reason {
	case model.ReasonNone:
		return "Access granted"
	case model.ReasonUnknownProduct:
		return "Invalid bot: " + productKey
	case model.ReasonNoEntitlement:
		return "No active subscription"
	case model.ReasonEntitlementExpired:
		return "Subscription expired"
	case model.ReasonInsufficientBalance:
		return "Insufficient NESS balance"
	case model.ReasonBalanceUnavailable:
		return "Explorer unreachable, balance could not be checked"
	case model.ReasonStorageUnavailable:
		return "Access check failed, please try again later"
	default:
		return string(reason)
	}
}
