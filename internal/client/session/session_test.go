package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/carthagofood/carthago/internal/apperr"
	"github.com/carthagofood/carthago/internal/client/storage"
	"github.com/carthagofood/carthago/internal/models"
)

// fakeAPI implements AuthAPI with overridable funcs and call counters.
type fakeAPI struct {
	mu    sync.Mutex
	calls map[string]int

	LoginFunc         func(ctx context.Context, creds models.LoginCredentials, role models.Role) (*models.AuthResponse, error)
	RegisterFunc      func(ctx context.Context, p models.RegisterProfile, role models.Role) (*models.AuthResponse, error)
	RequestOTPFunc    func(ctx context.Context, phone string) error
	VerifyOTPFunc     func(ctx context.Context, phone, otp string, role models.Role) (*models.AuthResponse, error)
	UpdateProfileFunc func(ctx context.Context, u models.ProfileUpdate) (*models.Identity, error)
}

func (f *fakeAPI) count(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

func (f *fakeAPI) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) Login(ctx context.Context, creds models.LoginCredentials, role models.Role) (*models.AuthResponse, error) {
	f.count("login")
	return f.LoginFunc(ctx, creds, role)
}

func (f *fakeAPI) Register(ctx context.Context, p models.RegisterProfile, role models.Role) (*models.AuthResponse, error) {
	f.count("register")
	return f.RegisterFunc(ctx, p, role)
}

func (f *fakeAPI) RequestOTP(ctx context.Context, phone string) error {
	f.count("request_otp")
	return f.RequestOTPFunc(ctx, phone)
}

func (f *fakeAPI) VerifyOTP(ctx context.Context, phone, otp string, role models.Role) (*models.AuthResponse, error) {
	f.count("verify_otp")
	return f.VerifyOTPFunc(ctx, phone, otp, role)
}

func (f *fakeAPI) UpdateProfile(ctx context.Context, u models.ProfileUpdate) (*models.Identity, error) {
	f.count("update_profile")
	return f.UpdateProfileFunc(ctx, u)
}

// failingStore fails every Set after the first failAfter calls.
type failingStore struct {
	*storage.LocalStorage
	failAfter int
	sets      int
}

func (f *failingStore) Set(key, value string, ttl time.Duration) error {
	f.sets++
	if f.sets > f.failAfter {
		return errors.New("disk full")
	}
	return f.LocalStorage.Set(key, value, ttl)
}

type recordingNavigator struct {
	mu    sync.Mutex
	paths []string
}

func (n *recordingNavigator) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

func customer() *models.Identity {
	return &models.Identity{
		ID:                "u1",
		Name:              "Iyed Solmi",
		Email:             "zedsolmi@gmail.com",
		Phone:             "+21612345678",
		Role:              models.RoleCustomer,
		VerifiedPhone:     true,
		PreferredLanguage: "en",
		CreatedAt:         time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func okLogin(ctx context.Context, creds models.LoginCredentials, role models.Role) (*models.AuthResponse, error) {
	return &models.AuthResponse{User: customer(), Token: "tok-1"}, nil
}

func TestBootstrap_Empty(t *testing.T) {
	s := New(&fakeAPI{}, storage.NewMemory())
	require.NoError(t, s.Bootstrap())
	assert.Equal(t, LoggedOut, s.State())
}

func TestBootstrap_AdoptsPersistedSession(t *testing.T) {
	st := storage.NewMemory()
	raw, _ := json.Marshal(customer())
	require.NoError(t, st.Set(storage.TokenKey, "tok-1", storage.SessionTTL))
	require.NoError(t, st.Set(storage.UserKey, string(raw), storage.SessionTTL))

	s := New(&fakeAPI{}, st)
	require.NoError(t, s.Bootstrap())

	assert.True(t, s.IsAuthenticated())
	assert.Equal(t, "tok-1", s.Token())
	assert.Equal(t, "u1", s.Identity().ID)
}

func TestBootstrap_CorruptIdentityIsDiscarded(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	st := storage.NewMemory()
	require.NoError(t, st.Set(storage.TokenKey, "tok-1", storage.SessionTTL))
	require.NoError(t, st.Set(storage.UserKey, "{not json", storage.SessionTTL))

	s := New(&fakeAPI{}, st, WithLogger(zap.New(core)))
	require.NoError(t, s.Bootstrap(), "self-heal is silent")

	_, hasToken := st.Get(storage.TokenKey)
	_, hasUser := st.Get(storage.UserKey)
	assert.False(t, hasToken)
	assert.False(t, hasUser)
	assert.Equal(t, LoggedOut, s.State())
	assert.Nil(t, s.Identity())
	assert.Empty(t, s.Token())
	assert.NotZero(t, logs.FilterMessage("discarding corrupt persisted identity").Len())
}

func TestBootstrap_HalfSessionIsDiscarded(t *testing.T) {
	st := storage.NewMemory()
	require.NoError(t, st.Set(storage.TokenKey, "orphan", storage.SessionTTL))

	s := New(&fakeAPI{}, st)
	require.NoError(t, s.Bootstrap())

	_, hasToken := st.Get(storage.TokenKey)
	assert.False(t, hasToken)
	assert.Equal(t, LoggedOut, s.State())
}

func TestReload_RestoresFromStorage(t *testing.T) {
	st := storage.NewMemory()
	s := New(&fakeAPI{LoginFunc: okLogin}, st)
	require.NoError(t, s.Login(context.Background(),
		models.LoginCredentials{Email: "zedsolmi@gmail.com", Password: "x"}, models.RoleCustomer))

	var states []State
	s.Subscribe(func(snap Snapshot) { states = append(states, snap.State) })

	require.NoError(t, s.Reload())

	assert.Equal(t, []State{LoggedOut, Authenticated}, states)
	assert.True(t, s.IsAuthenticated())
	assert.Equal(t, "tok-1", s.Token())
	_, hasToken := st.Get(storage.TokenKey)
	assert.True(t, hasToken, "storage is left alone")
}

func TestReload_DropsUnpersistedState(t *testing.T) {
	pending := customer()
	pending.Role = models.RoleRestaurant
	api := &fakeAPI{RegisterFunc: func(ctx context.Context, p models.RegisterProfile, role models.Role) (*models.AuthResponse, error) {
		return &models.AuthResponse{User: pending}, nil
	}}
	s := New(api, storage.NewMemory())
	_, err := s.Register(context.Background(), models.RegisterProfile{
		Name: "Dar Zmen", Email: "contact@darzmen.tn", Password: "Couscous2026", Phone: "98 765 432",
	}, models.RoleRestaurant)
	require.NoError(t, err)
	require.Equal(t, PendingApproval, s.State())

	require.NoError(t, s.Reload())

	assert.Equal(t, LoggedOut, s.State())
	assert.Nil(t, s.Pending())
}

func TestLogin_PersistsAndNotifies(t *testing.T) {
	st := storage.NewMemory()
	api := &fakeAPI{LoginFunc: okLogin}
	s := New(api, st)

	var got []Snapshot
	unsubscribe := s.Subscribe(func(snap Snapshot) { got = append(got, snap) })
	defer unsubscribe()

	err := s.Login(context.Background(),
		models.LoginCredentials{Email: " zedsolmi@gmail.com ", Password: "iyed2000"}, models.RoleCustomer)
	require.NoError(t, err)

	assert.True(t, s.IsAuthenticated())
	persisted, ok := st.Get(storage.TokenKey)
	require.True(t, ok)
	assert.Equal(t, s.Token(), persisted)

	raw, ok := st.Get(storage.UserKey)
	require.True(t, ok)
	var id models.Identity
	require.NoError(t, json.Unmarshal([]byte(raw), &id))
	assert.Equal(t, "u1", id.ID)

	require.Len(t, got, 1)
	assert.Equal(t, Authenticated, got[0].State)
	assert.Equal(t, "tok-1", got[0].Token)
	assert.False(t, s.IsLoading())
}

func TestLogin_FailureLeavesSessionUnchanged(t *testing.T) {
	st := storage.NewMemory()
	api := &fakeAPI{LoginFunc: okLogin}
	s := New(api, st)
	require.NoError(t, s.Login(context.Background(),
		models.LoginCredentials{Email: "zedsolmi@gmail.com", Password: "x"}, models.RoleCustomer))

	api.LoginFunc = func(context.Context, models.LoginCredentials, models.Role) (*models.AuthResponse, error) {
		return nil, apperr.Auth("Invalid credentials", 401)
	}
	err := s.Login(context.Background(),
		models.LoginCredentials{Email: "other@mail.tn", Password: "x"}, models.RoleCustomer)
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	assert.Equal(t, "tok-1", s.Token())
	persisted, _ := st.Get(storage.TokenKey)
	assert.Equal(t, "tok-1", persisted)
}

func TestLogin_ValidatesBeforeNetwork(t *testing.T) {
	api := &fakeAPI{LoginFunc: okLogin}
	s := New(api, storage.NewMemory())

	tests := []struct {
		name  string
		creds models.LoginCredentials
		role  models.Role
		field string
	}{
		{"no identifier", models.LoginCredentials{Password: "x"}, models.RoleCustomer, "email"},
		{"bad email", models.LoginCredentials{Email: "nope", Password: "x"}, models.RoleCustomer, "email"},
		{"bad phone", models.LoginCredentials{Phone: "123", Password: "x"}, models.RoleCustomer, "phone"},
		{"no password", models.LoginCredentials{Email: "a@b.tn"}, models.RoleCustomer, "password"},
		{"bad role", models.LoginCredentials{Email: "a@b.tn", Password: "x"}, "driver", "role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Login(context.Background(), tt.creds, tt.role)
			ae := apperr.As(err)
			require.NotNil(t, ae)
			assert.Equal(t, apperr.KindValidation, ae.Kind)
			assert.NotEmpty(t, ae.Field(tt.field))
		})
	}
	assert.Zero(t, api.Calls("login"))
}

func TestLogin_SanitizesPhone(t *testing.T) {
	var sent string
	api := &fakeAPI{LoginFunc: func(ctx context.Context, creds models.LoginCredentials, role models.Role) (*models.AuthResponse, error) {
		sent = creds.Phone
		return okLogin(ctx, creds, role)
	}}
	s := New(api, storage.NewMemory())

	require.NoError(t, s.Login(context.Background(),
		models.LoginCredentials{Phone: "12 345 678", Password: "x"}, models.RoleCustomer))
	assert.Equal(t, "+21612345678", sent)
}

func TestLogin_PersistFailureLeavesMemoryUntouched(t *testing.T) {
	st := &failingStore{LocalStorage: storage.NewMemory(), failAfter: 1}
	s := New(&fakeAPI{LoginFunc: okLogin}, st)

	err := s.Login(context.Background(),
		models.LoginCredentials{Email: "zedsolmi@gmail.com", Password: "x"}, models.RoleCustomer)
	require.Error(t, err)

	assert.Equal(t, LoggedOut, s.State())
	_, hasToken := st.Get(storage.TokenKey)
	assert.False(t, hasToken, "credential write rolled back")
}

func TestRegister_PendingApproval(t *testing.T) {
	st := storage.NewMemory()
	approved := false
	api := &fakeAPI{RegisterFunc: func(ctx context.Context, p models.RegisterProfile, role models.Role) (*models.AuthResponse, error) {
		assert.Equal(t, "Dar El Jeld", p.Name)
		assert.Equal(t, "+21698765432", p.Phone)
		assert.Equal(t, "fr", p.PreferredLanguage)
		return &models.AuthResponse{
			User:    &models.Identity{ID: "r1", Name: p.Name, Role: role, IsApproved: &approved},
			Message: "Account pending approval",
		}, nil
	}}
	s := New(api, st)

	var states []State
	s.Subscribe(func(snap Snapshot) { states = append(states, snap.State) })

	resp, err := s.Register(context.Background(), models.RegisterProfile{
		Name:              "  Dar   El Jeld ",
		Email:             "contact@dareljeld.tn",
		Phone:             "98 765 432",
		Password:          "Couscous2026",
		PreferredLanguage: "fr-TN",
	}, models.RoleRestaurant)
	require.NoError(t, err)

	assert.Empty(t, resp.Token)
	assert.Equal(t, PendingApproval, s.State())
	assert.False(t, s.IsAuthenticated())
	assert.Nil(t, s.Identity())
	assert.Equal(t, "r1", s.Pending().ID)
	_, hasToken := st.Get(storage.TokenKey)
	_, hasUser := st.Get(storage.UserKey)
	assert.False(t, hasToken)
	assert.False(t, hasUser, "pending identities are not persisted")
	assert.Equal(t, []State{PendingApproval}, states)
}

func TestRegister_WithTokenAuthenticates(t *testing.T) {
	st := storage.NewMemory()
	api := &fakeAPI{RegisterFunc: func(ctx context.Context, p models.RegisterProfile, role models.Role) (*models.AuthResponse, error) {
		return &models.AuthResponse{User: customer(), Token: "tok-new"}, nil
	}}
	s := New(api, st)

	_, err := s.Register(context.Background(), models.RegisterProfile{
		Name: "Iyed Solmi", Email: "zedsolmi@gmail.com", Phone: "+21612345678", Password: "Iyed2000x",
	}, models.RoleCustomer)
	require.NoError(t, err)

	assert.True(t, s.IsAuthenticated())
	persisted, _ := st.Get(storage.TokenKey)
	assert.Equal(t, "tok-new", persisted)
}

func TestRegister_Validation(t *testing.T) {
	api := &fakeAPI{}
	s := New(api, storage.NewMemory())

	_, err := s.Register(context.Background(), models.RegisterProfile{
		Name: "X", Email: "bad", Phone: "1", Password: "weak", PreferredLanguage: "de",
	}, models.RoleCustomer)
	ae := apperr.As(err)
	require.NotNil(t, ae)
	for _, f := range []string{"name", "email", "phone", "password", "preferred_language"} {
		assert.NotEmpty(t, ae.Field(f), f)
	}
	assert.Zero(t, api.Calls("register"))
}

func TestRequestOTP(t *testing.T) {
	var sent string
	api := &fakeAPI{RequestOTPFunc: func(ctx context.Context, phone string) error {
		sent = phone
		return nil
	}}
	s := New(api, storage.NewMemory())

	require.NoError(t, s.RequestOTP(context.Background(), "216 12 345 678"))
	assert.Equal(t, "+21612345678", sent)
	assert.Equal(t, LoggedOut, s.State())

	err := s.RequestOTP(context.Background(), "555")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, 1, api.Calls("request_otp"))

	api.RequestOTPFunc = func(context.Context, string) error { return apperr.Request(502, "SMS provider unavailable") }
	err = s.RequestOTP(context.Background(), "+21612345678")
	assert.True(t, apperr.Is(err, apperr.KindRequest))
}

func TestVerifyOTP_InvalidCodeNeverReachesNetwork(t *testing.T) {
	api := &fakeAPI{}
	s := New(api, storage.NewMemory())

	for _, code := range []string{"", "12345", "1234567", "12a456", " 123456"} {
		err := s.VerifyOTP(context.Background(), "+21612345678", code, models.RoleRider)
		ae := apperr.As(err)
		require.NotNil(t, ae, code)
		assert.Equal(t, apperr.KindValidation, ae.Kind)
		assert.NotEmpty(t, ae.Field("otp"))
	}
	assert.Zero(t, api.Calls("verify_otp"))
}

func TestVerifyOTP_Adopts(t *testing.T) {
	st := storage.NewMemory()
	api := &fakeAPI{VerifyOTPFunc: func(ctx context.Context, phone, otp string, role models.Role) (*models.AuthResponse, error) {
		id := customer()
		id.Role = role
		return &models.AuthResponse{User: id, Token: "tok-otp"}, nil
	}}
	s := New(api, st)

	require.NoError(t, s.VerifyOTP(context.Background(), "+21612345678", "123456", models.RoleRider))
	assert.Equal(t, models.RoleRider, s.Identity().Role)
	persisted, _ := st.Get(storage.TokenKey)
	assert.Equal(t, "tok-otp", persisted)
}

func TestUpdateProfile_NoIdentity(t *testing.T) {
	api := &fakeAPI{}
	s := New(api, storage.NewMemory())

	name := "Nour"
	err := s.UpdateProfile(context.Background(), models.ProfileUpdate{Name: &name})
	assert.ErrorIs(t, err, apperr.ErrNoIdentity)
	assert.Zero(t, api.Calls("update_profile"))
}

func TestUpdateProfile_AdoptsAuthoritativeIdentity(t *testing.T) {
	st := storage.NewMemory()
	api := &fakeAPI{
		LoginFunc: okLogin,
		UpdateProfileFunc: func(ctx context.Context, u models.ProfileUpdate) (*models.Identity, error) {
			require.NotNil(t, u.PreferredLanguage)
			assert.Equal(t, "ar", *u.PreferredLanguage)
			id := u.Apply(customer())
			id.VerifiedPhone = false
			return id, nil
		},
	}
	s := New(api, st)
	require.NoError(t, s.Login(context.Background(),
		models.LoginCredentials{Email: "zedsolmi@gmail.com", Password: "x"}, models.RoleCustomer))

	lang := "ar-TN"
	require.NoError(t, s.UpdateProfile(context.Background(), models.ProfileUpdate{PreferredLanguage: &lang}))

	assert.Equal(t, "ar", s.Identity().PreferredLanguage)
	assert.False(t, s.Identity().VerifiedPhone, "server response wins")
	raw, _ := st.Get(storage.UserKey)
	assert.Contains(t, raw, `"preferred_language":"ar"`)
	assert.Equal(t, "tok-1", s.Token())
}

func TestLogout_ClearsEverything(t *testing.T) {
	st := storage.NewMemory()
	nav := &recordingNavigator{}
	s := New(&fakeAPI{LoginFunc: okLogin}, st, WithNavigator(nav))
	require.NoError(t, s.Login(context.Background(),
		models.LoginCredentials{Email: "zedsolmi@gmail.com", Password: "x"}, models.RoleCustomer))

	var last Snapshot
	s.Subscribe(func(snap Snapshot) { last = snap })

	require.NoError(t, s.Logout())

	_, hasToken := st.Get(storage.TokenKey)
	_, hasUser := st.Get(storage.UserKey)
	assert.False(t, hasToken)
	assert.False(t, hasUser)
	assert.Nil(t, s.Identity())
	assert.Empty(t, s.Token())
	assert.Nil(t, s.Pending())
	assert.Equal(t, LoggedOut, last.State)
	assert.Nil(t, last.Identity)
	assert.Equal(t, []string{RootPath}, nav.paths)
	assert.Equal(t, LoggedOut, s.Snapshot().State)
}

func TestLoading_PerOperation(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	api := &fakeAPI{RequestOTPFunc: func(ctx context.Context, phone string) error {
		close(entered)
		<-release
		return nil
	}}
	s := New(api, storage.NewMemory())

	done := make(chan error, 1)
	go func() { done <- s.RequestOTP(context.Background(), "+21612345678") }()
	<-entered

	assert.True(t, s.Loading(OpRequestOTP))
	assert.False(t, s.Loading(OpLogin))
	assert.True(t, s.IsLoading())

	close(release)
	require.NoError(t, <-done)
	assert.False(t, s.Loading(OpRequestOTP))
	assert.False(t, s.IsLoading())
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	s := New(&fakeAPI{LoginFunc: okLogin}, storage.NewMemory())

	calls := 0
	unsubscribe := s.Subscribe(func(Snapshot) { calls++ })
	unsubscribe()
	unsubscribe()

	require.NoError(t, s.Login(context.Background(),
		models.LoginCredentials{Email: "zedsolmi@gmail.com", Password: "x"}, models.RoleCustomer))
	assert.Zero(t, calls)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "logged_out", LoggedOut.String())
	assert.Equal(t, "pending_approval", PendingApproval.String())
	assert.Equal(t, "authenticated", Authenticated.String())
	assert.Equal(t, "State(7)", State(7).String())
}
