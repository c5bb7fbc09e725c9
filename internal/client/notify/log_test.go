package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carthagofood/carthago/internal/models"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("n%d", n)
	}
}

func fixedClock() time.Time { return time.Date(2026, 5, 4, 20, 15, 0, 0, time.UTC) }

func newTestLog() *Log {
	return NewLog(WithIDGenerator(sequentialIDs()), WithLogClock(fixedClock))
}

func TestLog_AddPrependsAndAssignsDefaults(t *testing.T) {
	l := newTestLog()

	first := l.Emit(models.CategorySystem, "Welcome", "Marhba!", nil)
	second := l.Emit(models.CategoryPromotion, "Promo", "-20% tonight", json.RawMessage(`{"code":"RAMADAN"}`))

	list := l.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
	assert.Equal(t, "n1", first.ID)
	assert.Equal(t, fixedClock(), first.CreatedAt)
	assert.False(t, first.Read)
	assert.JSONEq(t, `{"code":"RAMADAN"}`, string(list[0].Data))
}

func TestLog_AddKeepsPushedFields(t *testing.T) {
	l := newTestLog()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	got := l.Add(models.Notification{ID: "srv-9", Type: models.CategoryDelivery, Title: "Rider", Read: true, CreatedAt: created})

	assert.Equal(t, "srv-9", got.ID)
	assert.Equal(t, created, got.CreatedAt)
	assert.True(t, got.Read)
	assert.Equal(t, 0, l.UnreadCount())
}

func TestLog_UnreadCountIsDerived(t *testing.T) {
	for _, tc := range []struct{ n, k int }{{0, 0}, {1, 0}, {1, 1}, {5, 2}, {8, 8}} {
		l := newTestLog()
		var ids []string
		for i := 0; i < tc.n; i++ {
			added := l.Emit(models.CategoryOrder, "t", "m", nil)
			assert.Equal(t, added.ID, l.List()[0].ID, "newest entry is at index 0")
			ids = append(ids, added.ID)
		}
		for _, id := range ids[:tc.k] {
			assert.True(t, l.MarkRead(id))
		}
		assert.Equal(t, tc.n-tc.k, l.UnreadCount(), "n=%d k=%d", tc.n, tc.k)
	}
}

func TestLog_MarkReadUnknownIDIsNoop(t *testing.T) {
	l := newTestLog()
	l.Emit(models.CategoryOrder, "a", "b", nil)
	before := l.List()
	version := l.Version()

	notified := 0
	l.Subscribe(func([]models.Notification) { notified++ })

	assert.False(t, l.MarkRead("missing"))
	assert.Equal(t, before, l.List())
	assert.Equal(t, version, l.Version())
	assert.Zero(t, notified)
}

func TestLog_MarkReadIsIdempotent(t *testing.T) {
	l := newTestLog()
	n := l.Emit(models.CategoryOrder, "a", "b", nil)

	assert.True(t, l.MarkRead(n.ID))
	version := l.Version()
	assert.False(t, l.MarkRead(n.ID))
	assert.Equal(t, version, l.Version())
}

func TestLog_MarkAllReadRemoveClear(t *testing.T) {
	l := newTestLog()
	a := l.Emit(models.CategoryOrder, "a", "a", nil)
	l.Emit(models.CategoryOrder, "b", "b", nil)
	l.Emit(models.CategoryOrder, "c", "c", nil)

	assert.Equal(t, 3, l.MarkAllRead())
	assert.Equal(t, 0, l.MarkAllRead())
	assert.Equal(t, 0, l.UnreadCount())

	assert.True(t, l.Remove(a.ID))
	assert.False(t, l.Remove(a.ID))
	assert.Equal(t, 2, l.Len())

	l.Clear()
	assert.Empty(t, l.List())
}

func TestLog_ListIsACopy(t *testing.T) {
	l := newTestLog()
	l.Emit(models.CategoryOrder, "a", "b", nil)

	list := l.List()
	list[0].Read = true
	assert.Equal(t, 1, l.UnreadCount())
}

func TestLog_SubscribeReceivesEntries(t *testing.T) {
	l := newTestLog()
	var got [][]models.Notification
	unsubscribe := l.Subscribe(func(items []models.Notification) { got = append(got, items) })

	l.Emit(models.CategoryOrder, "a", "b", nil)
	l.Clear()
	unsubscribe()
	l.Emit(models.CategoryOrder, "c", "d", nil)

	require.Len(t, got, 2)
	assert.Len(t, got[0], 1)
	assert.Empty(t, got[1])
}

func TestLog_ConcurrentMutationsDoNotLoseUpdates(t *testing.T) {
	l := NewLog()
	const writers, perWriter = 8, 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				l.Emit(models.CategoryOrder, "t", "m", nil)
				if i%10 == 0 {
					l.MarkAllRead()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, writers*perWriter, l.Len())
	seen := make(map[string]bool)
	for _, n := range l.List() {
		assert.False(t, seen[n.ID], "duplicate id %s", n.ID)
		seen[n.ID] = true
	}
}
