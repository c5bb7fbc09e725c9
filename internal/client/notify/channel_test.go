package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carthagofood/carthago/internal/models"
)

// fakeConn delivers events pushed by the test.
type fakeConn struct {
	events chan Event
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan Event, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadEvent(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-c.events:
		if !ok {
			return Event{}, io.EOF
		}
		return ev, nil
	case <-c.closed:
		return Event{}, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out queued connections or errors.
type fakeDialer struct {
	conns chan *fakeConn

	mu     sync.Mutex
	errs   []error
	tokens []string
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 4)}
}

func (d *fakeDialer) Dial(ctx context.Context, token string) (Conn, error) {
	d.mu.Lock()
	d.tokens = append(d.tokens, token)
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		d.mu.Unlock()
		return nil, err
	}
	d.mu.Unlock()

	select {
	case c := <-d.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

type recordingAlerter struct {
	perm Permission

	mu     sync.Mutex
	titles []string
}

func (a *recordingAlerter) Permission() Permission { return a.perm }

func (a *recordingAlerter) Alert(title, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.titles = append(a.titles, title)
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.titles)
}

const waitFor, tick = 2 * time.Second, 5 * time.Millisecond

func fastBackoff() Backoff {
	return Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}
}

func TestChannel_ConnectReceiveClose(t *testing.T) {
	dialer := newFakeDialer()
	conn := newFakeConn()
	dialer.conns <- conn
	alerter := &recordingAlerter{perm: PermissionGranted}
	log := newTestLog()

	ch := NewChannel(dialer, log, WithAlerter(alerter))
	assert.Equal(t, Disconnected, ch.State())

	sub := ch.Connect("tok-1")
	assert.NotEqual(t, Disconnected, ch.State(), "connecting starts synchronously")
	require.Eventually(t, func() bool { return ch.State() == Connected }, waitFor, tick)

	conn.events <- Event{Name: EventNotification, Data: json.RawMessage(
		`{"id":"srv-1","type":"promotion","title":"Brik night","message":"Free brik with every order"}`)}
	require.Eventually(t, func() bool { return log.Len() == 1 }, waitFor, tick)

	got := log.List()[0]
	assert.Equal(t, "srv-1", got.ID)
	assert.Equal(t, models.CategoryPromotion, got.Type)
	assert.False(t, got.CreatedAt.IsZero())
	require.Eventually(t, func() bool { return alerter.count() == 1 }, waitFor, tick)

	sub.Close()
	assert.Equal(t, Disconnected, ch.State())
	assert.True(t, conn.isClosed())
	select {
	case <-sub.Done():
	default:
		t.Fatal("reader still running after Close")
	}
	assert.Equal(t, []string{"tok-1"}, dialer.tokens)
	sub.Close()
}

func TestChannel_OrderUpdateIsTemplated(t *testing.T) {
	dialer := newFakeDialer()
	conn := newFakeConn()
	dialer.conns <- conn
	alerter := &recordingAlerter{perm: PermissionGranted}
	log := newTestLog()

	ch := NewChannel(dialer, log, WithAlerter(alerter))
	sub := ch.Connect("tok")
	defer sub.Close()

	payload := json.RawMessage(`{"order_id":"1042","status":"on_the_way"}`)
	conn.events <- Event{Name: EventOrderUpdate, Data: payload}
	require.Eventually(t, func() bool { return log.Len() == 1 }, waitFor, tick)

	got := log.List()[0]
	assert.Equal(t, models.CategoryOrder, got.Type)
	assert.Equal(t, "Order Update", got.Title)
	assert.Equal(t, "Your order #1042 is now on_the_way", got.Message)
	assert.JSONEq(t, string(payload), string(got.Data))
	assert.False(t, got.Read)
	assert.Zero(t, alerter.count(), "order updates are not surfaced as alerts")
}

func TestChannel_NoAlertWithoutPermission(t *testing.T) {
	dialer := newFakeDialer()
	conn := newFakeConn()
	dialer.conns <- conn
	alerter := &recordingAlerter{perm: PermissionDefault}
	log := newTestLog()

	sub := NewChannel(dialer, log, WithAlerter(alerter)).Connect("tok")
	defer sub.Close()

	conn.events <- Event{Name: EventNotification, Data: json.RawMessage(`{"title":"x","message":"y","type":"system"}`)}
	require.Eventually(t, func() bool { return log.Len() == 1 }, waitFor, tick)
	assert.Zero(t, alerter.count())
}

func TestChannel_DropsMalformedAndUnknownEvents(t *testing.T) {
	dialer := newFakeDialer()
	conn := newFakeConn()
	dialer.conns <- conn
	log := newTestLog()

	sub := NewChannel(dialer, log).Connect("tok")
	defer sub.Close()

	conn.events <- Event{Name: EventNotification, Data: json.RawMessage(`"nope"`)}
	conn.events <- Event{Name: EventOrderUpdate, Data: json.RawMessage(`[1]`)}
	conn.events <- Event{Name: "typing", Data: json.RawMessage(`{}`)}
	conn.events <- Event{Name: EventOrderUpdate, Data: json.RawMessage(`{"order_id":"7","status":"ready"}`)}

	require.Eventually(t, func() bool { return log.Len() == 1 }, waitFor, tick)
	assert.Equal(t, "Your order #7 is now ready", log.List()[0].Message)
}

func TestChannel_ReconnectsWithPolicy(t *testing.T) {
	dialer := newFakeDialer()
	first, second := newFakeConn(), newFakeConn()
	dialer.conns <- first
	dialer.errs = nil
	log := newTestLog()

	var mu sync.Mutex
	var states []ConnState
	ch := NewChannel(dialer, log,
		WithReconnectPolicy(fastBackoff()),
		WithStateHook(func(s ConnState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}))
	sub := ch.Connect("tok")
	defer sub.Close()

	require.Eventually(t, func() bool { return ch.State() == Connected }, waitFor, tick)
	close(first.events)
	dialer.conns <- second

	require.Eventually(t, func() bool { return dialer.dials() == 2 && ch.State() == Connected }, waitFor, tick)

	second.events <- Event{Name: EventOrderUpdate, Data: json.RawMessage(`{"order_id":"1","status":"delivered"}`)}
	require.Eventually(t, func() bool { return log.Len() == 1 }, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ConnState{Connecting, Connected, Connecting, Connected}, states)
}

func TestChannel_RetriesFailedDials(t *testing.T) {
	dialer := newFakeDialer()
	dialer.errs = []error{errors.New("connection refused"), errors.New("connection refused")}
	dialer.conns <- newFakeConn()

	ch := NewChannel(dialer, newTestLog(), WithReconnectPolicy(fastBackoff()))
	sub := ch.Connect("tok")
	defer sub.Close()

	require.Eventually(t, func() bool { return ch.State() == Connected }, waitFor, tick)
	assert.Equal(t, 3, dialer.dials())
}

func TestChannel_NoReconnectGivesUp(t *testing.T) {
	dialer := newFakeDialer()
	conn := newFakeConn()
	dialer.conns <- conn

	ch := NewChannel(dialer, newTestLog(), WithReconnectPolicy(NoReconnect{}))
	sub := ch.Connect("tok")

	require.Eventually(t, func() bool { return ch.State() == Connected }, waitFor, tick)
	close(conn.events)

	select {
	case <-sub.Done():
	case <-time.After(waitFor):
		t.Fatal("reader did not stop")
	}
	assert.Equal(t, Disconnected, ch.State())
	assert.Equal(t, 1, dialer.dials())
	sub.Close()
}

func TestChannel_RejectedCredentialStops(t *testing.T) {
	dialer := newFakeDialer()
	dialer.errs = []error{ErrRejected}

	ch := NewChannel(dialer, newTestLog(), WithReconnectPolicy(fastBackoff()))
	sub := ch.Connect("expired")

	select {
	case <-sub.Done():
	case <-time.After(waitFor):
		t.Fatal("reader did not stop")
	}
	assert.Equal(t, Disconnected, ch.State())
	assert.Equal(t, 1, dialer.dials())
}

func TestChannel_ConnectReplacesSubscription(t *testing.T) {
	dialer := newFakeDialer()
	first := newFakeConn()
	dialer.conns <- first

	ch := NewChannel(dialer, newTestLog())
	sub1 := ch.Connect("tok-1")
	require.Eventually(t, func() bool { return ch.State() == Connected }, waitFor, tick)

	second := newFakeConn()
	dialer.conns <- second
	sub2 := ch.Connect("tok-2")
	defer sub2.Close()

	select {
	case <-sub1.Done():
	default:
		t.Fatal("previous subscription still running")
	}
	assert.True(t, first.isClosed())
	require.Eventually(t, func() bool { return ch.State() == Connected }, waitFor, tick)
	assert.Equal(t, []string{"tok-1", "tok-2"}, dialer.tokens)

	ch.Close()
	assert.Equal(t, Disconnected, ch.State())
	assert.True(t, second.isClosed())
}

func TestChannel_CloseWhileDialing(t *testing.T) {
	dialer := newFakeDialer()
	ch := NewChannel(dialer, newTestLog())

	sub := ch.Connect("tok")
	require.Eventually(t, func() bool { return dialer.dials() == 1 }, waitFor, tick)
	sub.Close()

	assert.Equal(t, Disconnected, ch.State())
}

func TestBackoff(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2, MaxAttempts: 5}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second}
	for i, w := range want {
		d, ok := b.Next(i)
		assert.True(t, ok)
		assert.Equal(t, w, d, "attempt %d", i)
	}
	_, ok := b.Next(5)
	assert.False(t, ok)

	d, ok := Backoff{Initial: time.Second}.Next(10)
	assert.True(t, ok)
	assert.Equal(t, time.Second, d, "multiplier below 1 keeps the delay constant")

	_, ok = NoReconnect{}.Next(0)
	assert.False(t, ok)

	d, ok = DefaultBackoff().Next(100)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, d)
}
