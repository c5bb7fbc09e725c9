package repository

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"
)

type otpEntry struct {
	code      string
	expiresAt time.Time
}

// MemoryOTPRepository holds at most one pending one-time code per phone.
type MemoryOTPRepository struct {
	mu      sync.Mutex
	pending map[string]otpEntry
}

// NewMemoryOTPRepository returns an empty repository.
func NewMemoryOTPRepository() *MemoryOTPRepository {
	return &MemoryOTPRepository{pending: make(map[string]otpEntry)}
}

// Save stores code for phone, replacing any previous code.
func (r *MemoryOTPRepository) Save(_ context.Context, phone, code string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[phone] = otpEntry{code: code, expiresAt: expiresAt}
	return nil
}

// Consume reports whether code is the live code for phone at now. A matching
// code is removed so it cannot be used twice.
func (r *MemoryOTPRepository) Consume(_ context.Context, phone, code string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.pending[phone]
	if !ok {
		return false, nil
	}
	if !now.Before(e.expiresAt) {
		delete(r.pending, phone)
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(e.code), []byte(code)) != 1 {
		return false, nil
	}
	delete(r.pending, phone)
	return true, nil
}

// DeleteExpired removes codes that expired before now and returns how many
// were removed.
func (r *MemoryOTPRepository) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for phone, e := range r.pending {
		if !now.Before(e.expiresAt) {
			delete(r.pending, phone)
			removed++
		}
	}
	return removed, nil
}
