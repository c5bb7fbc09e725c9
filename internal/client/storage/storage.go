// Package storage persists the client session between runs.
//
// LocalStorage behaves like the browser cookie jar the session used to live
// in: string values under string keys, each with its own expiry. It is backed
// by a single JSON file that is rewritten on every change, so a value is
// durable as soon as Set or Delete returns.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// TokenKey holds the raw credential.
	TokenKey = "auth_token"
	// UserKey holds the JSON-serialized identity.
	UserKey = "user_data"
	// SessionTTL is the expiry given to persisted session entries.
	SessionTTL = 7 * 24 * time.Hour
)

// ErrCorrupt is returned by Load when the storage file cannot be decoded.
// The storage is reset to empty in that case.
var ErrCorrupt = errors.New("storage file is corrupt")

// Store is the durable key/value storage the session writes through to.
type Store interface {
	// Get returns the value under key, or false if absent or expired.
	Get(key string) (string, bool)
	// Set stores value under key for ttl and persists it before returning.
	Set(key, value string, ttl time.Duration) error
	// Delete removes keys and persists the removal before returning.
	Delete(keys ...string) error
}

// entry is one persisted value.
type entry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LocalStorage is a file-backed Store. With an empty path it keeps values in
// memory only.
type LocalStorage struct {
	Entries map[string]entry `json:"entries"`

	path   string
	sealer *Sealer
	now    func() time.Time
	mu     sync.Mutex
}

// Option configures a LocalStorage.
type Option func(*LocalStorage)

// WithSealer encrypts every value at rest.
func WithSealer(s *Sealer) Option {
	return func(ls *LocalStorage) { ls.sealer = s }
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(ls *LocalStorage) { ls.now = now }
}

// NewLocalStorage returns an empty storage backed by path. Call Load to read
// existing entries.
func NewLocalStorage(path string, opts ...Option) *LocalStorage {
	ls := &LocalStorage{
		Entries: make(map[string]entry),
		path:    path,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(ls)
	}
	return ls
}

// NewMemory returns a storage that never touches the filesystem.
func NewMemory(opts ...Option) *LocalStorage {
	return NewLocalStorage("", opts...)
}

// Load reads the storage file. A missing file yields an empty storage; an
// undecodable one resets the storage and returns ErrCorrupt.
func (ls *LocalStorage) Load() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.Entries = make(map[string]entry)
	if ls.path == "" {
		return nil
	}

	f, err := os.Open(ls.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	var doc struct {
		Entries map[string]entry `json:"entries"`
	}
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if doc.Entries != nil {
		ls.Entries = doc.Entries
	}
	ls.purgeExpired()
	return nil
}

// Save writes all live entries to the storage file atomically.
func (ls *LocalStorage) Save() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.save()
}

func (ls *LocalStorage) save() error {
	if ls.path == "" {
		return nil
	}
	ls.purgeExpired()

	data, err := json.Marshal(ls)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(ls.path), filepath.Base(ls.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), ls.path)
}

// Get implements Store. Values that fail to unseal are reported as absent.
func (ls *LocalStorage) Get(key string) (string, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	e, ok := ls.Entries[key]
	if !ok {
		return "", false
	}
	if !e.ExpiresAt.IsZero() && !ls.now().Before(e.ExpiresAt) {
		delete(ls.Entries, key)
		return "", false
	}
	if ls.sealer == nil {
		return e.Value, true
	}
	plain, err := ls.sealer.Open(e.Value)
	if err != nil {
		return "", false
	}
	return string(plain), true
}

// Set implements Store. A zero ttl stores the value without expiry.
func (ls *LocalStorage) Set(key, value string, ttl time.Duration) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	stored := value
	if ls.sealer != nil {
		sealed, err := ls.sealer.Seal([]byte(value))
		if err != nil {
			return fmt.Errorf("seal %s: %w", key, err)
		}
		stored = sealed
	}

	e := entry{Value: stored}
	if ttl > 0 {
		e.ExpiresAt = ls.now().Add(ttl)
	}

	prev, had := ls.Entries[key]
	ls.Entries[key] = e
	if err := ls.save(); err != nil {
		if had {
			ls.Entries[key] = prev
		} else {
			delete(ls.Entries, key)
		}
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (ls *LocalStorage) Delete(keys ...string) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	removed := make(map[string]entry, len(keys))
	for _, k := range keys {
		if e, ok := ls.Entries[k]; ok {
			removed[k] = e
			delete(ls.Entries, k)
		}
	}
	if err := ls.save(); err != nil {
		for k, e := range removed {
			ls.Entries[k] = e
		}
		return fmt.Errorf("persist delete: %w", err)
	}
	return nil
}

func (ls *LocalStorage) purgeExpired() {
	now := ls.now()
	for k, e := range ls.Entries {
		if !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt) {
			delete(ls.Entries, k)
		}
	}
}
