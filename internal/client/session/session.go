// Package session holds the single source of truth for who is using the
// client: the current identity and its credential.
//
// Every state-changing operation writes through to durable storage before
// memory is updated and before the call returns, so "operation returned"
// implies "persisted". A failed write leaves memory untouched.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/carthagofood/carthago/internal/apperr"
	"github.com/carthagofood/carthago/internal/client/storage"
	"github.com/carthagofood/carthago/internal/models"
)

// RootPath is where Logout sends the host.
const RootPath = "/"

// AuthAPI is the subset of the REST client the store depends on.
type AuthAPI interface {
	Login(ctx context.Context, creds models.LoginCredentials, role models.Role) (*models.AuthResponse, error)
	Register(ctx context.Context, profile models.RegisterProfile, role models.Role) (*models.AuthResponse, error)
	RequestOTP(ctx context.Context, phone string) error
	VerifyOTP(ctx context.Context, phone, otp string, role models.Role) (*models.AuthResponse, error)
	UpdateProfile(ctx context.Context, update models.ProfileUpdate) (*models.Identity, error)
}

// Navigator performs a hard redirect, discarding in-app state.
type Navigator interface {
	Navigate(path string)
}

// State is the coarse session state.
type State int

const (
	// LoggedOut holds neither identity nor credential.
	LoggedOut State = iota
	// PendingApproval holds an identity returned by Register without a
	// credential. It is kept in memory only and is not authenticated.
	PendingApproval
	// Authenticated holds both identity and credential.
	Authenticated
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged_out"
	case PendingApproval:
		return "pending_approval"
	case Authenticated:
		return "authenticated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Op names a network operation for per-operation loading status.
type Op string

const (
	OpLogin         Op = "login"
	OpRegister      Op = "register"
	OpRequestOTP    Op = "request_otp"
	OpVerifyOTP     Op = "verify_otp"
	OpUpdateProfile Op = "update_profile"
)

// Snapshot is an immutable view of the session at one point in time.
type Snapshot struct {
	State    State
	Identity *models.Identity
	Token    string
}

// IsAuthenticated reports whether the snapshot holds identity and credential.
func (s Snapshot) IsAuthenticated() bool {
	return s.State == Authenticated
}

// Store is the session store. Create one per process with New; it is safe
// for concurrent use.
type Store struct {
	api     AuthAPI
	storage storage.Store
	nav     Navigator
	log     *zap.Logger

	// commit serializes persist-then-swap sequences so storage and memory
	// always describe the same session.
	commit sync.Mutex

	mu       sync.RWMutex
	identity *models.Identity
	token    string
	pending  *models.Identity
	loading  map[Op]int

	lmu       sync.Mutex
	listeners map[int]func(Snapshot)
	nextID    int
}

// Option configures a Store.
type Option func(*Store)

// WithNavigator sets the target of the post-logout redirect.
func WithNavigator(n Navigator) Option {
	return func(s *Store) { s.nav = n }
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

type noopNavigator struct{}

func (noopNavigator) Navigate(string) {}

// New returns a logged-out store. Call Bootstrap to adopt a persisted
// session.
func New(api AuthAPI, st storage.Store, opts ...Option) *Store {
	s := &Store{
		api:       api,
		storage:   st,
		nav:       noopNavigator{},
		log:       zap.NewNop(),
		loading:   make(map[Op]int),
		listeners: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bootstrap adopts the persisted credential and identity. A half-present or
// undecodable pair is discarded from storage and the store stays logged out;
// that self-heal is logged but not reported as an error. The returned error
// only reports a failure to clear corrupt storage.
func (s *Store) Bootstrap() error {
	s.commit.Lock()

	token, hasToken := s.storage.Get(storage.TokenKey)
	raw, hasUser := s.storage.Get(storage.UserKey)
	if !hasToken && !hasUser {
		s.commit.Unlock()
		return nil
	}

	var id *models.Identity
	if hasToken && hasUser && token != "" {
		if err := json.Unmarshal([]byte(raw), &id); err != nil {
			s.log.Warn("discarding corrupt persisted identity", zap.Error(err))
			id = nil
		}
	}
	if id == nil {
		s.log.Warn("discarding incomplete persisted session",
			zap.Bool("token", hasToken), zap.Bool("identity", hasUser))
		err := s.storage.Delete(storage.TokenKey, storage.UserKey)
		s.commit.Unlock()
		if err != nil {
			return fmt.Errorf("clear corrupt session: %w", err)
		}
		return nil
	}

	s.mu.Lock()
	s.identity = id
	s.token = token
	s.pending = nil
	s.mu.Unlock()
	s.commit.Unlock()

	s.log.Debug("session restored", zap.String("user_id", id.ID), zap.String("role", string(id.Role)))
	s.notify()
	return nil
}

// Reload drops the in-memory session and bootstraps again from storage, the
// way a freshly started client would. Storage is left as it is.
func (s *Store) Reload() error {
	s.commit.Lock()
	s.mu.Lock()
	s.identity = nil
	s.token = ""
	s.pending = nil
	s.mu.Unlock()
	s.commit.Unlock()

	s.notify()
	return s.Bootstrap()
}

// Login exchanges credentials for a session scoped to role. On failure the
// session is unchanged.
func (s *Store) Login(ctx context.Context, creds models.LoginCredentials, role models.Role) error {
	creds, err := validateLogin(creds, role)
	if err != nil {
		return err
	}

	defer s.begin(OpLogin)()
	resp, err := s.api.Login(ctx, creds, role)
	if err != nil {
		return err
	}
	return s.adopt(resp)
}

// Register creates an account. With a credential in the response the store
// behaves as after Login; without one it enters PendingApproval. The
// response is returned for the caller to branch on.
func (s *Store) Register(ctx context.Context, profile models.RegisterProfile, role models.Role) (*models.AuthResponse, error) {
	profile, err := validateRegister(profile, role)
	if err != nil {
		return nil, err
	}

	defer s.begin(OpRegister)()
	resp, err := s.api.Register(ctx, profile, role)
	if err != nil {
		return nil, err
	}
	if err := s.adopt(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RequestOTP asks for a one-time code to be sent to phone. It changes no
// local state.
func (s *Store) RequestOTP(ctx context.Context, phone string) error {
	phone, err := validatePhone(phone)
	if err != nil {
		return err
	}

	defer s.begin(OpRequestOTP)()
	return s.api.RequestOTP(ctx, phone)
}

// VerifyOTP exchanges a one-time code for a session. The code is validated
// locally before any request is made.
func (s *Store) VerifyOTP(ctx context.Context, phone, code string, role models.Role) error {
	phone, err := validateVerifyOTP(phone, code, role)
	if err != nil {
		return err
	}

	defer s.begin(OpVerifyOTP)()
	resp, err := s.api.VerifyOTP(ctx, phone, code, role)
	if err != nil {
		return err
	}
	return s.adopt(resp)
}

// UpdateProfile merges fields into the current identity through the
// collaborator and adopts the authoritative result.
func (s *Store) UpdateProfile(ctx context.Context, update models.ProfileUpdate) error {
	if !s.IsAuthenticated() {
		return apperr.ErrNoIdentity
	}
	update, err := validateProfileUpdate(update)
	if err != nil {
		return err
	}

	defer s.begin(OpUpdateProfile)()
	id, err := s.api.UpdateProfile(ctx, update)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}

	s.commit.Lock()
	s.mu.RLock()
	current := s.identity
	s.mu.RUnlock()
	if current == nil {
		// logged out while the request was in flight
		s.commit.Unlock()
		return apperr.ErrNoIdentity
	}
	if err := s.storage.Set(storage.UserKey, string(raw), storage.SessionTTL); err != nil {
		s.commit.Unlock()
		return fmt.Errorf("persist identity: %w", err)
	}
	s.mu.Lock()
	s.identity = id.Clone()
	s.mu.Unlock()
	s.commit.Unlock()

	s.notify()
	return nil
}

// Logout clears memory and storage, notifies listeners and then redirects to
// the application root. Memory is cleared even when storage fails; the
// storage error is returned after the redirect.
func (s *Store) Logout() error {
	s.commit.Lock()
	err := s.storage.Delete(storage.TokenKey, storage.UserKey)
	s.mu.Lock()
	s.identity = nil
	s.token = ""
	s.pending = nil
	s.mu.Unlock()
	s.commit.Unlock()

	if err != nil {
		s.log.Error("failed to clear persisted session", zap.Error(err))
	}
	s.notify()
	s.nav.Navigate(RootPath)

	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// adopt makes resp the current session. A response without a credential
// moves the store to PendingApproval and clears storage.
func (s *Store) adopt(resp *models.AuthResponse) error {
	if resp == nil || resp.User == nil {
		return apperr.Transport("invalid response", fmt.Errorf("response has no user"))
	}

	s.commit.Lock()
	if resp.Token == "" {
		if err := s.storage.Delete(storage.TokenKey, storage.UserKey); err != nil {
			s.commit.Unlock()
			return fmt.Errorf("clear session: %w", err)
		}
		s.mu.Lock()
		s.identity = nil
		s.token = ""
		s.pending = resp.User.Clone()
		s.mu.Unlock()
		s.commit.Unlock()

		s.log.Info("account pending approval", zap.String("user_id", resp.User.ID))
		s.notify()
		return nil
	}

	if err := s.persist(resp.Token, resp.User); err != nil {
		s.commit.Unlock()
		return err
	}
	s.mu.Lock()
	s.identity = resp.User.Clone()
	s.token = resp.Token
	s.pending = nil
	s.mu.Unlock()
	s.commit.Unlock()

	s.log.Debug("session adopted", zap.String("user_id", resp.User.ID), zap.String("role", string(resp.User.Role)))
	s.notify()
	return nil
}

// persist writes both keys. If the second write fails the first is rolled
// back to the previously persisted session. Callers hold s.commit.
func (s *Store) persist(token string, id *models.Identity) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}

	prevToken, hadToken := s.storage.Get(storage.TokenKey)
	if err := s.storage.Set(storage.TokenKey, token, storage.SessionTTL); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	if err := s.storage.Set(storage.UserKey, string(raw), storage.SessionTTL); err != nil {
		var rbErr error
		if hadToken {
			rbErr = s.storage.Set(storage.TokenKey, prevToken, storage.SessionTTL)
		} else {
			rbErr = s.storage.Delete(storage.TokenKey)
		}
		if rbErr != nil {
			s.log.Error("failed to roll back credential", zap.Error(rbErr))
		}
		return fmt.Errorf("persist identity: %w", err)
	}
	return nil
}

// begin marks op in flight and returns the function that ends it.
func (s *Store) begin(op Op) func() {
	s.mu.Lock()
	s.loading[op]++
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.loading[op]--
		if s.loading[op] <= 0 {
			delete(s.loading, op)
		}
		s.mu.Unlock()
	}
}

// Loading reports whether op is in flight.
func (s *Store) Loading(op Op) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading[op] > 0
}

// IsLoading reports whether any operation is in flight.
func (s *Store) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.loading) > 0
}

// Snapshot returns the current session.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	switch {
	case s.identity != nil && s.token != "":
		return Snapshot{State: Authenticated, Identity: s.identity.Clone(), Token: s.token}
	case s.pending != nil:
		return Snapshot{State: PendingApproval, Identity: s.pending.Clone()}
	default:
		return Snapshot{State: LoggedOut}
	}
}

// State returns the current session state.
func (s *Store) State() State { return s.Snapshot().State }

// Identity returns a copy of the authenticated identity, or nil.
func (s *Store) Identity() *models.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity.Clone()
}

// Pending returns a copy of the identity awaiting approval, or nil.
func (s *Store) Pending() *models.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending.Clone()
}

// Token returns the current credential, or "".
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// IsAuthenticated reports whether both identity and credential are held.
func (s *Store) IsAuthenticated() bool {
	return s.State() == Authenticated
}

// Subscribe registers fn to receive a snapshot after every state change.
// Listeners run on the goroutine that made the change, after the store lock
// is released. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			delete(s.listeners, id)
			s.lmu.Unlock()
		})
	}
}

func (s *Store) notify() {
	snap := s.Snapshot()

	s.lmu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	fns := make([]func(Snapshot), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.lmu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
