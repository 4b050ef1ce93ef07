package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/privateness-network/bot-access/pkg/model"
)

type entKey struct {
	user    string
	product string
}

// MemoryStore is a mutex-guarded Store for tests and single-process development.
type MemoryStore struct {
	mu           sync.RWMutex
	ledger       map[string]model.LedgerEntry
	entitlements map[entKey]model.Entitlement
	attempts     []model.VerificationAttempt
	now          func() time.Time
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		ledger:       make(map[string]model.LedgerEntry),
		entitlements: make(map[entKey]model.Entitlement),
		now:          time.Now,
	}
}

func (s *MemoryStore) ReserveHash(_ context.Context, entry model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ledger[entry.TxHash]; exists {
		return ErrHashAlreadyUsed
	}
	entry.Status = model.LedgerReserved
	entry.EntitlementID = nil
	entry.ConsumedAt = nil
	s.ledger[entry.TxHash] = entry
	return nil
}

func (s *MemoryStore) RecordEntitlement(_ context.Context, ent model.Entitlement, txHash string, period time.Duration) (*model.Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.ledger[txHash]
	if !ok || entry.Status != model.LedgerReserved {
		return nil, ErrNotReserved
	}

	k := entKey{ent.UserID, ent.ProductKey}
	if cur, exists := s.entitlements[k]; exists {
		ent.ExpiresAt = model.NextExpiry(&cur, period, ent.GrantedAt)
		ent.ID = cur.ID
		ent.GrantedAt = cur.GrantedAt
	} else {
		ent.ExpiresAt = model.NextExpiry(nil, period, ent.GrantedAt)
		if ent.ID == uuid.Nil {
			ent.ID = uuid.New()
		}
	}
	now := s.now()
	ent.RevokedAt = nil
	ent.UpdatedAt = now
	s.entitlements[k] = ent

	id := ent.ID
	entry.Status = model.LedgerConsumed
	entry.EntitlementID = &id
	entry.ConsumedAt = &now
	s.ledger[txHash] = entry

	out := ent
	return &out, nil
}

func (s *MemoryStore) ReleaseHash(_ context.Context, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.ledger[txHash]; ok && entry.Status == model.LedgerReserved {
		delete(s.ledger, txHash)
	}
	return nil
}

func (s *MemoryStore) GetLedgerEntry(_ context.Context, txHash string) (*model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.ledger[txHash]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *MemoryStore) GetEntitlement(_ context.Context, userID, productKey string) (*model.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ent, ok := s.entitlements[entKey{userID, productKey}]
	if !ok {
		return nil, nil
	}
	return &ent, nil
}

func (s *MemoryStore) GetEntitlementByHash(_ context.Context, txHash string) (*model.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.ledger[txHash]
	if !ok || entry.Status != model.LedgerConsumed {
		return nil, nil
	}
	ent, ok := s.entitlements[entKey{entry.UserID, entry.ProductKey}]
	if !ok {
		return nil, nil
	}
	return &ent, nil
}

func (s *MemoryStore) ListEntitlements(_ context.Context, userID string) ([]model.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Entitlement
	for k, ent := range s.entitlements {
		if k.user == userID {
			out = append(out, ent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductKey < out[j].ProductKey })
	return out, nil
}

func (s *MemoryStore) RevokeEntitlement(_ context.Context, userID, productKey string, at time.Time) (*model.Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := entKey{userID, productKey}
	ent, ok := s.entitlements[k]
	if !ok {
		return nil, ErrNotFound
	}
	ent.RevokedAt = &at
	ent.UpdatedAt = at
	s.entitlements[k] = ent
	return &ent, nil
}

func (s *MemoryStore) RecordAttempt(_ context.Context, a model.VerificationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.attempts = append(s.attempts, a)
	return nil
}

func (s *MemoryStore) ListAttempts(_ context.Context, userID string, limit int) ([]model.VerificationAttempt, error) {
	limit = attemptLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.VerificationAttempt
	for i := len(s.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		if s.attempts[i].UserID == userID {
			out = append(out, s.attempts[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) ReleaseStaleReservations(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for h, entry := range s.ledger {
		if entry.Status == model.LedgerReserved && entry.ReservedAt.Before(cutoff) {
			delete(s.ledger, h)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
