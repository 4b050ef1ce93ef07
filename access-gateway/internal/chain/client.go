package chain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/privateness-network/bot-access/internal/httpclient"
	"github.com/privateness-network/bot-access/internal/metrics"
	"github.com/privateness-network/bot-access/pkg/model"
)

var (
	// ErrTransactionNotFound means the node answered and does not know the hash.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrExplorerUnreachable means no usable answer was obtained; the caller may retry.
	ErrExplorerUnreachable = errors.New("explorer unreachable")
)

// dropletsPerCoin is the node's integer coin unit.
const dropletsPerCoin = 6

// Observer reads chain facts. Implementations carry no business rules.
type Observer interface {
	FetchTransaction(ctx context.Context, hash string) (*model.TransactionRecord, error)
	Balance(ctx context.Context, address string) (*model.Balance, error)
}

// Client talks to a node's REST API through the shared retrying executor.
type Client struct {
	baseURL string
	exec    *httpclient.Executor
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient returns a node client. Each call is bounded by timeout, retries included.
func NewClient(baseURL string, exec *httpclient.Executor, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		exec:    exec,
		timeout: timeout,
		logger:  logger,
	}
}

// FetchTransaction looks up a transaction by hash.
func (c *Client) FetchTransaction(ctx context.Context, hash string) (*model.TransactionRecord, error) {
	q := url.Values{"txid": {hash}, "verbose": {"1"}}
	var resp transactionResponse
	if err := c.get(ctx, "/api/v1/transaction", "transaction", q, &resp); err != nil {
		return nil, err
	}
	rec, err := toRecord(hash, resp)
	if err != nil {
		metrics.IncChainRequest("transaction", "error")
		return nil, fmt.Errorf("%w: %v", ErrExplorerUnreachable, err)
	}
	return rec, nil
}

// Balance returns the confirmed balance of address.
func (c *Client) Balance(ctx context.Context, address string) (*model.Balance, error) {
	q := url.Values{"addrs": {address}}
	var resp balanceResponse
	if err := c.get(ctx, "/api/v1/balance", "balance", q, &resp); err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			// the balance endpoint has no not-found case worth distinguishing
			return nil, fmt.Errorf("%w: %v", ErrExplorerUnreachable, err)
		}
		return nil, err
	}
	return &model.Balance{
		Address: address,
		Coins:   decimal.New(int64(resp.Confirmed.Coins), -dropletsPerCoin),
		Hours:   decimal.NewFromInt(int64(resp.Confirmed.Hours)),
	}, nil
}

func (c *Client) get(ctx context.Context, path, endpoint string, q url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	err = c.exec.DoJSON(ctx, req, "node", out)
	metrics.ObserveDuration(metrics.ChainRequestDuration, start, endpoint)

	switch {
	case err == nil:
		metrics.IncChainRequest(endpoint, "ok")
		return nil
	case isNotFound(err):
		metrics.IncChainRequest(endpoint, "not_found")
		return ErrTransactionNotFound
	default:
		metrics.IncChainRequest(endpoint, "unreachable")
		c.logger.Warn("chain.request_failed",
			zap.String("endpoint", endpoint),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrExplorerUnreachable, err)
	}
}

func isNotFound(err error) bool {
	var se *httpclient.StatusError
	if !errors.As(err, &se) {
		return false
	}
	if se.Status == http.StatusNotFound {
		return true
	}
	return se.Status == http.StatusBadRequest && strings.Contains(strings.ToLower(string(se.Body)), "not found")
}

func toRecord(hash string, resp transactionResponse) (*model.TransactionRecord, error) {
	if resp.Txn.TxID != "" && !strings.EqualFold(resp.Txn.TxID, hash) {
		return nil, fmt.Errorf("node returned txid %s for %s", resp.Txn.TxID, hash)
	}

	rec := &model.TransactionRecord{
		Hash:      hash,
		Confirmed: resp.Status.Confirmed,
	}
	if rec.Confirmed {
		rec.Confirmations = resp.Status.Height
	}
	if len(resp.Txn.Inputs) > 0 {
		rec.Sender = resp.Txn.Inputs[0].Owner
	}

	ts := resp.Time
	if ts == 0 {
		ts = resp.Txn.Timestamp
	}
	if ts > 0 {
		rec.BlockTime = time.Unix(ts, 0).UTC()
	}

	for i, o := range resp.Txn.Outputs {
		coins, err := decimal.NewFromString(o.Coins)
		if err != nil {
			return nil, fmt.Errorf("output %d coins %q: %w", i, o.Coins, err)
		}
		rec.Outputs = append(rec.Outputs, model.Output{
			Address: o.Dst,
			Coins:   coins,
			Hours:   decimal.NewFromInt(int64(o.Hours)),
		})
	}
	return rec, nil
}
