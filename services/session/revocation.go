package session

import (
	"context"
	"sync"
	"time"
)

// RevocationStore records sessions ended before their natural expiry
type RevocationStore interface {
	// Revoke marks the session as revoked until its expiry
	Revoke(ctx context.Context, sessionID string, expiresAt time.Time) error
	// IsRevoked reports whether the session was revoked and has not yet expired
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// MemoryRevocationStore keeps revoked session IDs in process memory
type MemoryRevocationStore struct {
	entries sync.Map // session ID -> expiry
	now     Clock
}

// NewMemoryRevocationStore creates an empty store. A nil clock uses time.Now.
func NewMemoryRevocationStore(now Clock) *MemoryRevocationStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryRevocationStore{now: now}
}

// Revoke implements RevocationStore
func (m *MemoryRevocationStore) Revoke(_ context.Context, sessionID string, expiresAt time.Time) error {
	if !m.now().Before(expiresAt) {
		return nil // already expired
	}
	m.entries.Store(sessionID, expiresAt)
	return nil
}

// IsRevoked implements RevocationStore
func (m *MemoryRevocationStore) IsRevoked(_ context.Context, sessionID string) (bool, error) {
	val, ok := m.entries.Load(sessionID)
	if !ok {
		return false, nil
	}
	expiry, ok := val.(time.Time)
	return ok && m.now().Before(expiry), nil
}

// CleanupExpired drops entries whose session has expired and returns how many
func (m *MemoryRevocationStore) CleanupExpired() int {
	now := m.now()
	removed := 0
	m.entries.Range(func(key, value any) bool {
		if expiry, ok := value.(time.Time); ok && !now.Before(expiry) {
			m.entries.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// StartCleanupWorker periodically drops expired entries until stopCh is closed
func (m *MemoryRevocationStore) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}
