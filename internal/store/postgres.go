package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/privateness-network/bot-access/pkg/model"
)

// PostgresStore keeps the ledger in the access schema (see migrations/).
type PostgresStore struct {
	PG     *pgxpool.Pool
	logger *zap.Logger
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewPostgres connects a pgx pool and verifies it with a ping.
func NewPostgres(ctx context.Context, pgURL string, poolCfg PGPoolConfig, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("invalid pg config: %w", err)
	}
	if poolCfg.MaxConns > 0 {
		cfg.MaxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		cfg.MinConns = poolCfg.MinConns
	}
	if poolCfg.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = poolCfg.MaxConnLifetime
	}
	if poolCfg.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = poolCfg.MaxConnIdleTime
	}
	if poolCfg.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = poolCfg.HealthCheckPeriod
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(pingCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return &PostgresStore{PG: pool, logger: logger}, nil
}

const entitlementColumns = `id, user_id, product_key, bot_username, payer_address, source_tx_hash,
	granted_at, expires_at, revoked_at, updated_at`

func scanEntitlement(row pgx.Row) (*model.Entitlement, error) {
	var e model.Entitlement
	if err := row.Scan(&e.ID, &e.UserID, &e.ProductKey, &e.BotUsername, &e.PayerAddress,
		&e.SourceTxHash, &e.GrantedAt, &e.ExpiresAt, &e.RevokedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) ReserveHash(ctx context.Context, entry model.LedgerEntry) error {
	tag, err := s.PG.Exec(ctx, `
		INSERT INTO access.ledger_entry (tx_hash, user_id, product_key, status, reserved_at)
		VALUES ($1, $2, $3, 'reserved', $4)
		ON CONFLICT (tx_hash) DO NOTHING
	`, entry.TxHash, entry.UserID, entry.ProductKey, entry.ReservedAt)
	if err != nil {
		s.logger.Error("store.pg.reserve_failed", zap.String("tx_hash", entry.TxHash), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrHashAlreadyUsed
	}
	return nil
}

func (s *PostgresStore) RecordEntitlement(ctx context.Context, ent model.Entitlement, txHash string, period time.Duration) (*model.Entitlement, error) {
	tx, err := s.PG.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM access.ledger_entry WHERE tx_hash = $1 FOR UPDATE`, txHash).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotReserved
	}
	if err != nil {
		return nil, fmt.Errorf("lock ledger entry: %w", err)
	}
	if status != string(model.LedgerReserved) {
		return nil, ErrNotReserved
	}

	if ent.ID == uuid.Nil {
		ent.ID = uuid.New()
	}
	// The conflict branch extends the row it locked, so concurrent renewals each add a period.
	stored, err := scanEntitlement(tx.QueryRow(ctx, `
		INSERT INTO access.entitlement AS e (
			id, user_id, product_key, bot_username, payer_address, source_tx_hash,
			granted_at, expires_at, revoked_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, NOW())
		ON CONFLICT (user_id, product_key)
		DO UPDATE SET
			bot_username = EXCLUDED.bot_username,
			payer_address = EXCLUDED.payer_address,
			source_tx_hash = EXCLUDED.source_tx_hash,
			expires_at = CASE
				WHEN EXCLUDED.expires_at IS NULL THEN NULL
				WHEN e.revoked_at IS NULL AND e.expires_at IS NULL THEN NULL
				WHEN e.revoked_at IS NULL AND e.expires_at > EXCLUDED.granted_at
					THEN e.expires_at + make_interval(secs => $9::double precision)
				ELSE EXCLUDED.expires_at
			END,
			revoked_at = NULL,
			updated_at = EXCLUDED.updated_at
		RETURNING `+entitlementColumns,
		ent.ID, ent.UserID, ent.ProductKey, ent.BotUsername, ent.PayerAddress, ent.SourceTxHash,
		ent.GrantedAt, model.NextExpiry(nil, period, ent.GrantedAt), period.Seconds()))
	if err != nil {
		s.logger.Error("store.pg.entitlement_upsert_failed", zap.Error(err))
		return nil, fmt.Errorf("upsert entitlement: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE access.ledger_entry
		SET status = 'consumed', entitlement_id = $2, consumed_at = NOW()
		WHERE tx_hash = $1
	`, txHash, stored.ID); err != nil {
		s.logger.Error("store.pg.ledger_consume_failed", zap.Error(err))
		return nil, fmt.Errorf("consume ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) ReleaseHash(ctx context.Context, txHash string) error {
	_, err := s.PG.Exec(ctx,
		`DELETE FROM access.ledger_entry WHERE tx_hash = $1 AND status = 'reserved'`, txHash)
	if err != nil {
		s.logger.Error("store.pg.release_failed", zap.String("tx_hash", txHash), zap.Error(err))
	}
	return err
}

func (s *PostgresStore) GetLedgerEntry(ctx context.Context, txHash string) (*model.LedgerEntry, error) {
	var (
		e      model.LedgerEntry
		status string
	)
	err := s.PG.QueryRow(ctx, `
		SELECT tx_hash, user_id, product_key, status, entitlement_id, reserved_at, consumed_at
		FROM access.ledger_entry
		WHERE tx_hash = $1
	`, txHash).Scan(&e.TxHash, &e.UserID, &e.ProductKey, &status, &e.EntitlementID, &e.ReservedAt, &e.ConsumedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Status = model.LedgerStatus(status)
	return &e, nil
}

func (s *PostgresStore) GetEntitlement(ctx context.Context, userID, productKey string) (*model.Entitlement, error) {
	e, err := scanEntitlement(s.PG.QueryRow(ctx,
		`SELECT `+entitlementColumns+` FROM access.entitlement WHERE user_id = $1 AND product_key = $2`,
		userID, productKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (s *PostgresStore) GetEntitlementByHash(ctx context.Context, txHash string) (*model.Entitlement, error) {
	e, err := scanEntitlement(s.PG.QueryRow(ctx, `
		SELECT e.id, e.user_id, e.product_key, e.bot_username, e.payer_address, e.source_tx_hash,
		       e.granted_at, e.expires_at, e.revoked_at, e.updated_at
		FROM access.ledger_entry l
		JOIN access.entitlement e ON e.id = l.entitlement_id
		WHERE l.tx_hash = $1 AND l.status = 'consumed'
	`, txHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (s *PostgresStore) ListEntitlements(ctx context.Context, userID string) ([]model.Entitlement, error) {
	rows, err := s.PG.Query(ctx,
		`SELECT `+entitlementColumns+` FROM access.entitlement WHERE user_id = $1 ORDER BY product_key`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RevokeEntitlement(ctx context.Context, userID, productKey string, at time.Time) (*model.Entitlement, error) {
	e, err := scanEntitlement(s.PG.QueryRow(ctx, `
		UPDATE access.entitlement
		SET revoked_at = $3, updated_at = $3
		WHERE user_id = $1 AND product_key = $2
		RETURNING `+entitlementColumns, userID, productKey, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.Error("store.pg.revoke_failed", zap.Error(err))
		return nil, err
	}
	return e, nil
}

func (s *PostgresStore) RecordAttempt(ctx context.Context, a model.VerificationAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO access.verification_attempt (
			id, user_id, product_key, tx_hash, outcome, reason, entitlement_id, submitted_at, decided_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.UserID, a.ProductKey, a.TxHash, string(a.Outcome), string(a.Reason), a.EntitlementID,
		a.SubmittedAt, a.DecidedAt)
	if err != nil {
		s.logger.Error("store.pg.insert_attempt_failed", zap.Error(err))
	}
	return err
}

func (s *PostgresStore) ListAttempts(ctx context.Context, userID string, limit int) ([]model.VerificationAttempt, error) {
	rows, err := s.PG.Query(ctx, `
		SELECT id, user_id, product_key, tx_hash, outcome, reason, entitlement_id, submitted_at, decided_at
		FROM access.verification_attempt
		WHERE user_id = $1
		ORDER BY decided_at DESC
		LIMIT $2
	`, userID, attemptLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.VerificationAttempt
	for rows.Next() {
		var (
			a               model.VerificationAttempt
			outcome, reason string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.ProductKey, &a.TxHash, &outcome, &reason,
			&a.EntitlementID, &a.SubmittedAt, &a.DecidedAt); err != nil {
			return nil, err
		}
		a.Outcome = model.Outcome(outcome)
		a.Reason = model.Reason(reason)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ReleaseStaleReservations(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.PG.Exec(ctx,
		`DELETE FROM access.ledger_entry WHERE status = 'reserved' AND reserved_at < $1`, cutoff)
	if err != nil {
		s.logger.Error("store.pg.sweep_failed", zap.Error(err))
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if s.PG == nil {
		return fmt.Errorf("postgres not initialized")
	}
	if err := s.PG.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	return nil
}
