// Package repository provides the in-memory persistence used by the sandbox
// authentication service.
package repository

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/carthagofood/carthago/internal/models"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrConflict is returned when the email or phone is already taken.
	ErrConflict = errors.New("user already exists")
)

// User is a stored account: the public identity plus its password hash.
type User struct {
	models.Identity
	PasswordHash []byte
}

func (u *User) clone() *User {
	c := *u
	c.Identity = *u.Identity.Clone()
	c.PasswordHash = append([]byte(nil), u.PasswordHash...)
	return &c
}

// MemoryUserRepository keeps users in process memory, indexed by id, email
// and phone.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
	byPhone map[string]string
}

// NewMemoryUserRepository returns an empty repository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
		byPhone: make(map[string]string),
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create stores u. Email and phone must be unused.
func (r *MemoryUserRepository) Create(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[u.ID]; ok {
		return ErrConflict
	}
	if u.Email != "" {
		if _, ok := r.byEmail[emailKey(u.Email)]; ok {
			return ErrConflict
		}
	}
	if u.Phone != "" {
		if _, ok := r.byPhone[u.Phone]; ok {
			return ErrConflict
		}
	}

	stored := u.clone()
	r.byID[u.ID] = stored
	if u.Email != "" {
		r.byEmail[emailKey(u.Email)] = u.ID
	}
	if u.Phone != "" {
		r.byPhone[u.Phone] = u.ID
	}
	return nil
}

// ByID returns a copy of the user with id.
func (r *MemoryUserRepository) ByID(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.get(id)
}

// ByEmail returns a copy of the user registered with email, case-insensitively.
func (r *MemoryUserRepository) ByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.get(r.byEmail[emailKey(email)])
}

// ByPhone returns a copy of the user registered with phone.
func (r *MemoryUserRepository) ByPhone(_ context.Context, phone string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.get(r.byPhone[phone])
}

func (r *MemoryUserRepository) get(id string) (*User, error) {
	u, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.clone(), nil
}

// Update replaces the stored user with the same id, reindexing email and
// phone.
func (r *MemoryUserRepository) Update(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.byID[u.ID]
	if !ok {
		return ErrNotFound
	}
	if u.Email != "" {
		if owner, taken := r.byEmail[emailKey(u.Email)]; taken && owner != u.ID {
			return ErrConflict
		}
	}
	if u.Phone != "" {
		if owner, taken := r.byPhone[u.Phone]; taken && owner != u.ID {
			return ErrConflict
		}
	}

	delete(r.byEmail, emailKey(old.Email))
	delete(r.byPhone, old.Phone)
	r.byID[u.ID] = u.clone()
	if u.Email != "" {
		r.byEmail[emailKey(u.Email)] = u.ID
	}
	if u.Phone != "" {
		r.byPhone[u.Phone] = u.ID
	}
	return nil
}
