package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carthagofood/carthago/internal/models"
)

// Inbound event names.
const (
	EventNotification = "notification"
	EventOrderUpdate  = "order_update"
)

// ErrRejected is returned by a Dialer when the collaborator refuses the
// credential. The channel does not retry after it.
var ErrRejected = errors.New("push credential rejected")

// Event is one inbound push frame.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Conn is an open push connection.
type Conn interface {
	// ReadEvent blocks until the next event arrives or the connection fails.
	ReadEvent(ctx context.Context) (Event, error)
	// Close releases the connection and unblocks ReadEvent.
	Close() error
}

// Dialer opens push connections authenticated with a credential.
type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// ConnState is the channel lifecycle state.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Channel feeds a Log from a push connection. At most one subscription is
// live at a time.
type Channel struct {
	dialer  Dialer
	log     *Log
	alerter Alerter
	policy  ReconnectPolicy
	logger  *zap.Logger
	onState func(ConnState)

	mu      sync.Mutex
	state   ConnState
	current *Subscription
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithAlerter sets where generic notifications are surfaced.
func WithAlerter(a Alerter) ChannelOption {
	return func(c *Channel) { c.alerter = a }
}

// WithReconnectPolicy replaces DefaultBackoff.
func WithReconnectPolicy(p ReconnectPolicy) ChannelOption {
	return func(c *Channel) { c.policy = p }
}

// WithLogger sets the channel logger.
func WithLogger(l *zap.Logger) ChannelOption {
	return func(c *Channel) { c.logger = l }
}

// WithStateHook calls fn on every state transition. fn must not block.
func WithStateHook(fn func(ConnState)) ChannelOption {
	return func(c *Channel) { c.onState = fn }
}

// NewChannel returns a disconnected channel feeding log.
func NewChannel(d Dialer, log *Log, opts ...ChannelOption) *Channel {
	c := &Channel{
		dialer:  d,
		log:     log,
		alerter: nopAlerter{},
		policy:  DefaultBackoff(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscription is a live connection attempt. Close it to release the
// transport.
type Subscription struct {
	ch     *Channel
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu   sync.Mutex
	conn Conn
}

// Connect starts connecting with token and returns the subscription. Any
// previous subscription is closed first.
func (c *Channel) Connect(token string) *Subscription {
	c.mu.Lock()
	prev := c.current
	c.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{ch: c, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.current = sub
	c.mu.Unlock()
	c.setState(sub, Connecting)

	go c.run(ctx, token, sub)
	return sub
}

// Close closes the current subscription, if any.
func (c *Channel) Close() {
	c.mu.Lock()
	sub := c.current
	c.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// State returns the current lifecycle state.
func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close cancels the subscription, closes its transport and waits for the
// reader to exit. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.mu.Unlock()
		<-s.done

		c := s.ch
		c.mu.Lock()
		if c.current == s {
			c.current = nil
		}
		c.mu.Unlock()
	})
}

// Done is closed once the reader goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// setConn publishes conn so Close can unblock its reader. It fails once
// Close has started.
func (s *Subscription) setConn(ctx context.Context, conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	s.conn = conn
	return true
}

// setState applies st only while sub is the live subscription, so a
// stopping reader cannot overwrite the state of its successor.
func (c *Channel) setState(sub *Subscription, st ConnState) {
	c.mu.Lock()
	if c.current != sub || c.state == st {
		c.mu.Unlock()
		return
	}
	c.state = st
	hook := c.onState
	c.mu.Unlock()

	c.logger.Debug("push channel state", zap.Stringer("state", st))
	if hook != nil {
		hook(st)
	}
}

func (c *Channel) run(ctx context.Context, token string, sub *Subscription) {
	defer func() {
		c.setState(sub, Disconnected)
		close(sub.done)
	}()

	attempt := 0
	for {
		conn, err := c.dialer.Dial(ctx, token)
		if err == nil {
			if !sub.setConn(ctx, conn) {
				_ = conn.Close()
				return
			}
			attempt = 0
			c.setState(sub, Connected)
			c.logger.Info("connected to notification server")

			err = c.read(ctx, conn)
			_ = conn.Close()
		}
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrRejected) {
			c.logger.Warn("push credential rejected, not reconnecting")
			return
		}

		delay, ok := c.policy.Next(attempt)
		attempt++
		if !ok {
			c.logger.Warn("push connection lost, giving up", zap.Error(err), zap.Int("attempts", attempt))
			return
		}
		c.setState(sub, Connecting)
		c.logger.Warn("push connection lost, retrying",
			zap.Error(err), zap.Duration("delay", delay), zap.Int("attempt", attempt))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (c *Channel) read(ctx context.Context, conn Conn) error {
	for {
		ev, err := conn.ReadEvent(ctx)
		if err != nil {
			return err
		}
		c.handle(ev)
	}
}

// handle turns one event into a log entry. Malformed payloads are dropped.
func (c *Channel) handle(ev Event) {
	switch ev.Name {
	case EventNotification:
		var n models.Notification
		if err := json.Unmarshal(ev.Data, &n); err != nil {
			c.logger.Warn("dropping malformed notification", zap.Error(err))
			return
		}
		added := c.log.Add(n)
		if c.alerter.Permission() == PermissionGranted {
			c.alerter.Alert(added.Title, added.Message)
		}

	case EventOrderUpdate:
		var u models.OrderUpdate
		if err := json.Unmarshal(ev.Data, &u); err != nil {
			c.logger.Warn("dropping malformed order update", zap.Error(err))
			return
		}
		c.log.Add(models.Notification{
			Type:    models.CategoryOrder,
			Title:   "Order Update",
			Message: fmt.Sprintf("Your order #%s is now %s", u.OrderID, u.Status),
			Data:    append(json.RawMessage(nil), ev.Data...),
		})

	default:
		c.logger.Debug("ignoring push event", zap.String("event", ev.Name))
	}
}
