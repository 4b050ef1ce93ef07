package store

import (
	"context"
	"errors"
	"time"

	"github.com/privateness-network/bot-access/pkg/model"
)

var (
	// ErrHashAlreadyUsed is returned by ReserveHash when the transaction hash is already in the ledger.
	ErrHashAlreadyUsed = errors.New("transaction hash already used")
	// ErrNotReserved is returned by RecordEntitlement when the hash has no reservation to consume.
	ErrNotReserved = errors.New("transaction hash not reserved")
	// ErrNotFound is returned when a mutation targets a row that does not exist.
	ErrNotFound = errors.New("not found")
)

// Store is the durable ledger: entitlements, consumed transaction hashes and the
// verification audit trail. Lookups return (nil, nil) when nothing matches.
type Store interface {
	// ReserveHash inserts entry with status reserved. The insert is atomic on TxHash.
	ReserveHash(ctx context.Context, entry model.LedgerEntry) error
	// RecordEntitlement consumes the reservation for txHash and upserts ent in one transaction.
	// The expiry is model.NextExpiry of the row as stored inside that transaction, one period
	// on from ent.GrantedAt; ent.ExpiresAt is ignored. The stored entitlement is returned;
	// its ID is the existing one on renewal.
	RecordEntitlement(ctx context.Context, ent model.Entitlement, txHash string, period time.Duration) (*model.Entitlement, error)
	// ReleaseHash deletes the ledger entry for txHash if it is still reserved.
	ReleaseHash(ctx context.Context, txHash string) error
	GetLedgerEntry(ctx context.Context, txHash string) (*model.LedgerEntry, error)

	GetEntitlement(ctx context.Context, userID, productKey string) (*model.Entitlement, error)
	GetEntitlementByHash(ctx context.Context, txHash string) (*model.Entitlement, error)
	ListEntitlements(ctx context.Context, userID string) ([]model.Entitlement, error)
	// RevokeEntitlement marks the entitlement revoked at the given time. ErrNotFound if absent.
	RevokeEntitlement(ctx context.Context, userID, productKey string, at time.Time) (*model.Entitlement, error)

	RecordAttempt(ctx context.Context, a model.VerificationAttempt) error
	// ListAttempts returns the newest attempts for a user, most recent first.
	ListAttempts(ctx context.Context, userID string, limit int) ([]model.VerificationAttempt, error)

	// ReleaseStaleReservations deletes reserved entries created before cutoff.
	ReleaseStaleReservations(ctx context.Context, cutoff time.Time) (int, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

const defaultAttemptLimit = 50

func attemptLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultAttemptLimit
	}
	return limit
}
