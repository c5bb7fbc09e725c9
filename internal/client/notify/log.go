// Package notify maintains the live notification log of the current session
// and the push channel that feeds it.
package notify

import (
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carthagofood/carthago/internal/models"
)

// Log is the newest-first, in-memory notification log. Each mutation
// replaces the whole slice under the lock, so readers holding a previous
// List result never observe partial updates and concurrent mutations never
// lose each other's changes.
type Log struct {
	mu      sync.Mutex
	items   []models.Notification
	version uint64

	now   func() time.Time
	newID func() string

	lmu       sync.Mutex
	listeners map[int]func([]models.Notification)
	nextID    int
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithLogClock overrides the time source for created_at.
func WithLogClock(now func() time.Time) LogOption {
	return func(l *Log) { l.now = now }
}

// WithIDGenerator overrides the generator for local ids.
func WithIDGenerator(gen func() string) LogOption {
	return func(l *Log) { l.newID = gen }
}

// NewLog returns an empty log.
func NewLog(opts ...LogOption) *Log {
	l := &Log{
		now:       time.Now,
		newID:     uuid.NewString,
		listeners: make(map[int]func([]models.Notification)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Add prepends n verbatim, assigning a local id and timestamp when absent,
// and returns the stored entry.
func (l *Log) Add(n models.Notification) models.Notification {
	if n.ID == "" {
		n.ID = l.newID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = l.now()
	}

	l.mu.Lock()
	next := make([]models.Notification, 0, len(l.items)+1)
	next = append(next, n)
	next = append(next, l.items...)
	l.replace(next)
	l.mu.Unlock()

	l.notify()
	return n
}

// Emit creates a fresh unread notification locally.
func (l *Log) Emit(category models.Category, title, message string, data json.RawMessage) models.Notification {
	return l.Add(models.Notification{
		Type:    category,
		Title:   title,
		Message: message,
		Data:    data,
	})
}

// MarkRead marks the entry with id read. It reports whether the log changed;
// an unknown or already-read id leaves the log untouched.
func (l *Log) MarkRead(id string) bool {
	l.mu.Lock()
	idx := slices.IndexFunc(l.items, func(n models.Notification) bool { return n.ID == id })
	if idx < 0 || l.items[idx].Read {
		l.mu.Unlock()
		return false
	}
	next := slices.Clone(l.items)
	next[idx].Read = true
	l.replace(next)
	l.mu.Unlock()

	l.notify()
	return true
}

// MarkAllRead marks every entry read and returns how many changed.
func (l *Log) MarkAllRead() int {
	l.mu.Lock()
	changed := 0
	next := slices.Clone(l.items)
	for i := range next {
		if !next[i].Read {
			next[i].Read = true
			changed++
		}
	}
	if changed == 0 {
		l.mu.Unlock()
		return 0
	}
	l.replace(next)
	l.mu.Unlock()

	l.notify()
	return changed
}

// Remove deletes the entry with id and reports whether it existed.
func (l *Log) Remove(id string) bool {
	l.mu.Lock()
	idx := slices.IndexFunc(l.items, func(n models.Notification) bool { return n.ID == id })
	if idx < 0 {
		l.mu.Unlock()
		return false
	}
	l.replace(slices.Delete(slices.Clone(l.items), idx, idx+1))
	l.mu.Unlock()

	l.notify()
	return true
}

// Clear empties the log.
func (l *Log) Clear() {
	l.mu.Lock()
	if len(l.items) == 0 {
		l.mu.Unlock()
		return
	}
	l.replace(nil)
	l.mu.Unlock()

	l.notify()
}

// List returns the entries, newest first.
func (l *Log) List() []models.Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.items)
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// UnreadCount is the number of entries not yet read.
func (l *Log) UnreadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, n := range l.items {
		if !n.Read {
			count++
		}
	}
	return count
}

// Version increases on every mutation that changed the log.
func (l *Log) Version() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// Subscribe registers fn to receive the entries after every change. The
// returned func unsubscribes.
func (l *Log) Subscribe(fn func([]models.Notification)) (unsubscribe func()) {
	l.lmu.Lock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	l.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.lmu.Lock()
			delete(l.listeners, id)
			l.lmu.Unlock()
		})
	}
}

// replace swaps in next. Callers hold l.mu.
func (l *Log) replace(next []models.Notification) {
	l.items = next
	l.version++
}

func (l *Log) notify() {
	items := l.List()

	l.lmu.Lock()
	ids := make([]int, 0, len(l.listeners))
	for id := range l.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func([]models.Notification), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, l.listeners[id])
	}
	l.lmu.Unlock()

	for _, fn := range fns {
		fn(items)
	}
}
