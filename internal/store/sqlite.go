package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/privateness-network/bot-access/pkg/model"
)

type sqliteEntitlement struct {
	ID           string `gorm:"primaryKey;size:36"`
	UserID       string `gorm:"not null;uniqueIndex:idx_entitlement_user_product"`
	ProductKey   string `gorm:"not null;uniqueIndex:idx_entitlement_user_product"`
	BotUsername  string `gorm:"not null"`
	PayerAddress string
	SourceTxHash string `gorm:"not null"`
	GrantedAt    time.Time
	ExpiresAt    *time.Time
	RevokedAt    *time.Time
	UpdatedAt    time.Time
}

func (sqliteEntitlement) TableName() string { return "entitlements" }

type sqliteLedgerEntry struct {
	TxHash        string `gorm:"primaryKey"`
	UserID        string `gorm:"not null"`
	ProductKey    string `gorm:"not null"`
	Status        string `gorm:"not null;index"`
	EntitlementID *string
	ReservedAt    time.Time `gorm:"index"`
	ConsumedAt    *time.Time
}

func (sqliteLedgerEntry) TableName() string { return "ledger_entries" }

type sqliteAttempt struct {
	ID            string `gorm:"primaryKey;size:36"`
	UserID        string `gorm:"not null;index:idx_attempt_user"`
	ProductKey    string
	TxHash        string `gorm:"index"`
	Outcome       string
	Reason        string
	EntitlementID *string
	SubmittedAt   time.Time
	DecidedAt     time.Time `gorm:"index:idx_attempt_user"`
}

func (sqliteAttempt) TableName() string { return "verification_attempts" }

// SQLiteStore keeps the ledger in a single SQLite file, for single-node deployments.
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLite opens (creating if needed) the database at path and migrates the schema.
func NewSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&sqliteEntitlement{}, &sqliteLedgerEntry{}, &sqliteAttempt{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func idPtr(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func parseIDPtr(s *string) *uuid.UUID {
	if s == nil {
		return nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &id
}

func (r sqliteEntitlement) toModel() model.Entitlement {
	id, _ := uuid.Parse(r.ID)
	return model.Entitlement{
		ID:           id,
		UserID:       r.UserID,
		ProductKey:   r.ProductKey,
		BotUsername:  r.BotUsername,
		PayerAddress: r.PayerAddress,
		SourceTxHash: r.SourceTxHash,
		GrantedAt:    r.GrantedAt.UTC(),
		ExpiresAt:    utcPtr(r.ExpiresAt),
		RevokedAt:    utcPtr(r.RevokedAt),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

func (r sqliteLedgerEntry) toModel() model.LedgerEntry {
	return model.LedgerEntry{
		TxHash:        r.TxHash,
		UserID:        r.UserID,
		ProductKey:    r.ProductKey,
		Status:        model.LedgerStatus(r.Status),
		EntitlementID: parseIDPtr(r.EntitlementID),
		ReservedAt:    r.ReservedAt.UTC(),
		ConsumedAt:    utcPtr(r.ConsumedAt),
	}
}

func (s *SQLiteStore) ReserveHash(ctx context.Context, entry model.LedgerEntry) error {
	row := sqliteLedgerEntry{
		TxHash:     entry.TxHash,
		UserID:     entry.UserID,
		ProductKey: entry.ProductKey,
		Status:     string(model.LedgerReserved),
		ReservedAt: entry.ReservedAt.UTC(),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		s.logger.Error("store.sqlite.reserve_failed", zap.String("tx_hash", entry.TxHash), zap.Error(res.Error))
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrHashAlreadyUsed
	}
	return nil
}

func (s *SQLiteStore) RecordEntitlement(ctx context.Context, ent model.Entitlement, txHash string, period time.Duration) (*model.Entitlement, error) {
	var stored sqliteEntitlement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry sqliteLedgerEntry
		if err := tx.First(&entry, "tx_hash = ?", txHash).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotReserved
			}
			return err
		}
		if entry.Status != string(model.LedgerReserved) {
			return ErrNotReserved
		}

		now := time.Now().UTC()
		found := true
		var current *model.Entitlement
		err := tx.First(&stored, "user_id = ? AND product_key = ?", ent.UserID, ent.ProductKey).Error
		switch {
		case err == nil:
			cur := stored.toModel()
			current = &cur
		case errors.Is(err, gorm.ErrRecordNotFound):
			id := ent.ID
			if id == uuid.Nil {
				id = uuid.New()
			}
			stored = sqliteEntitlement{
				ID:         id.String(),
				UserID:     ent.UserID,
				ProductKey: ent.ProductKey,
				GrantedAt:  ent.GrantedAt.UTC(),
			}
			found = false
		case err != nil:
			return err
		}
		stored.BotUsername = ent.BotUsername
		stored.PayerAddress = ent.PayerAddress
		stored.SourceTxHash = ent.SourceTxHash
		stored.ExpiresAt = model.NextExpiry(current, period, ent.GrantedAt.UTC())
		stored.RevokedAt = nil
		stored.UpdatedAt = now
		write := tx.Create
		if found {
			write = tx.Save
		}
		if err := write(&stored).Error; err != nil {
			return fmt.Errorf("upsert entitlement: %w", err)
		}

		return tx.Model(&sqliteLedgerEntry{}).
			Where("tx_hash = ?", txHash).
			Updates(map[string]any{
				"status":         string(model.LedgerConsumed),
				"entitlement_id": stored.ID,
				"consumed_at":    now,
			}).Error
	})
	if err != nil {
		if !errors.Is(err, ErrNotReserved) {
			s.logger.Error("store.sqlite.record_entitlement_failed", zap.Error(err))
		}
		return nil, err
	}
	out := stored.toModel()
	return &out, nil
}

func (s *SQLiteStore) ReleaseHash(ctx context.Context, txHash string) error {
	err := s.db.WithContext(ctx).
		Where("tx_hash = ? AND status = ?", txHash, string(model.LedgerReserved)).
		Delete(&sqliteLedgerEntry{}).Error
	if err != nil {
		s.logger.Error("store.sqlite.release_failed", zap.String("tx_hash", txHash), zap.Error(err))
	}
	return err
}

func (s *SQLiteStore) GetLedgerEntry(ctx context.Context, txHash string) (*model.LedgerEntry, error) {
	var row sqliteLedgerEntry
	err := s.db.WithContext(ctx).First(&row, "tx_hash = ?", txHash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e := row.toModel()
	return &e, nil
}

func (s *SQLiteStore) GetEntitlement(ctx context.Context, userID, productKey string) (*model.Entitlement, error) {
	var row sqliteEntitlement
	err := s.db.WithContext(ctx).First(&row, "user_id = ? AND product_key = ?", userID, productKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e := row.toModel()
	return &e, nil
}

func (s *SQLiteStore) GetEntitlementByHash(ctx context.Context, txHash string) (*model.Entitlement, error) {
	var row sqliteEntitlement
	err := s.db.WithContext(ctx).
		Joins("JOIN ledger_entries ON ledger_entries.entitlement_id = entitlements.id").
		Where("ledger_entries.tx_hash = ? AND ledger_entries.status = ?", txHash, string(model.LedgerConsumed)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e := row.toModel()
	return &e, nil
}

func (s *SQLiteStore) ListEntitlements(ctx context.Context, userID string) ([]model.Entitlement, error) {
	var rows []sqliteEntitlement
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("product_key").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Entitlement, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *SQLiteStore) RevokeEntitlement(ctx context.Context, userID, productKey string, at time.Time) (*model.Entitlement, error) {
	at = at.UTC()
	res := s.db.WithContext(ctx).Model(&sqliteEntitlement{}).
		Where("user_id = ? AND product_key = ?", userID, productKey).
		Updates(map[string]any{"revoked_at": at, "updated_at": at})
	if res.Error != nil {
		s.logger.Error("store.sqlite.revoke_failed", zap.Error(res.Error))
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetEntitlement(ctx, userID, productKey)
}

func (s *SQLiteStore) RecordAttempt(ctx context.Context, a model.VerificationAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	row := sqliteAttempt{
		ID:            a.ID.String(),
		UserID:        a.UserID,
		ProductKey:    a.ProductKey,
		TxHash:        a.TxHash,
		Outcome:       string(a.Outcome),
		Reason:        string(a.Reason),
		EntitlementID: idPtr(a.EntitlementID),
		SubmittedAt:   a.SubmittedAt.UTC(),
		DecidedAt:     a.DecidedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logger.Error("store.sqlite.insert_attempt_failed", zap.Error(err))
		return err
	}
	return nil
}

func (s *SQLiteStore) ListAttempts(ctx context.Context, userID string, limit int) ([]model.VerificationAttempt, error) {
	var rows []sqliteAttempt
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("decided_at DESC").
		Limit(attemptLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.VerificationAttempt, 0, len(rows))
	for _, r := range rows {
		id, _ := uuid.Parse(r.ID)
		out = append(out, model.VerificationAttempt{
			ID:            id,
			UserID:        r.UserID,
			ProductKey:    r.ProductKey,
			TxHash:        r.TxHash,
			Outcome:       model.Outcome(r.Outcome),
			Reason:        model.Reason(r.Reason),
			EntitlementID: parseIDPtr(r.EntitlementID),
			SubmittedAt:   r.SubmittedAt.UTC(),
			DecidedAt:     r.DecidedAt.UTC(),
		})
	}
	return out, nil
}

func (s *SQLiteStore) ReleaseStaleReservations(ctx context.Context, cutoff time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Where("status = ? AND reserved_at < ?", string(model.LedgerReserved), cutoff.UTC()).
		Delete(&sqliteLedgerEntry{})
	if res.Error != nil {
		s.logger.Error("store.sqlite.sweep_failed", zap.Error(res.Error))
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite ping failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
