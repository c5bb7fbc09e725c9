// Package service provides the sandbox authentication business logic,
// delegating persistence to repositories and delivery to pluggable senders.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/carthagofood/carthago/internal/models"
	"github.com/carthagofood/carthago/internal/repository"
	"github.com/carthagofood/carthago/internal/validation"
)

var (
	// ErrInvalidCredentials is returned for unknown accounts, wrong passwords
	// and role mismatches alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotApproved is returned when a restaurant or rider account has not
	// been approved by an admin yet.
	ErrNotApproved = errors.New("account awaiting approval")
	// ErrAlreadyExists is returned when the email or phone is taken.
	ErrAlreadyExists = errors.New("account already exists")
	// ErrInvalidOTP is returned for wrong, expired or reused codes.
	ErrInvalidOTP = errors.New("invalid or expired code")
	// ErrTooManyRequests is returned when codes are requested too often.
	ErrTooManyRequests = errors.New("too many code requests")
	// ErrNotFound is returned when the target account does not exist.
	ErrNotFound = errors.New("account not found")
)

// DefaultLanguage is given to accounts registered without a preference.
const DefaultLanguage = "en"

// UserRepository defines the persistence operations required by the
// authentication service.
type UserRepository interface {
	Create(ctx context.Context, u *repository.User) error
	ByID(ctx context.Context, id string) (*repository.User, error)
	ByEmail(ctx context.Context, email string) (*repository.User, error)
	ByPhone(ctx context.Context, phone string) (*repository.User, error)
	Update(ctx context.Context, u *repository.User) error
}

// OTPRepository stores pending one-time codes.
type OTPRepository interface {
	Save(ctx context.Context, phone, code string, expiresAt time.Time) error
	Consume(ctx context.Context, phone, code string, now time.Time) (bool, error)
}

// OTPSender delivers a one-time code to a phone.
type OTPSender interface {
	SendOTP(ctx context.Context, phone, code string) error
}

// Publisher pushes an event to the live connections of a user.
type Publisher interface {
	Publish(userID, event string, data any) (int, error)
}

// LogSender "delivers" codes by logging them, for local development.
type LogSender struct {
	Log *zap.Logger
}

// SendOTP implements OTPSender.
func (s LogSender) SendOTP(_ context.Context, phone, code string) error {
	s.Log.Info("one-time code issued", zap.String("phone", phone), zap.String("code", code))
	return nil
}

// AuthService implements registration, login, OTP and profile operations.
type AuthService struct {
	users  UserRepository
	otps   OTPRepository
	tokens *TokenIssuer

	sender      OTPSender
	publisher   Publisher
	log         *zap.Logger
	otpTTL      time.Duration
	otpInterval time.Duration
	now         func() time.Time
	newCode     func() (string, error)

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// AuthOption configures an AuthService.
type AuthOption func(*AuthService)

// WithSender sets how one-time codes are delivered.
func WithSender(s OTPSender) AuthOption {
	return func(a *AuthService) { a.sender = s }
}

// WithPublisher sets where account events are pushed.
func WithPublisher(p Publisher) AuthOption {
	return func(a *AuthService) { a.publisher = p }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) AuthOption {
	return func(a *AuthService) { a.log = l }
}

// WithOTPTTL sets the lifetime of one-time codes.
func WithOTPTTL(d time.Duration) AuthOption {
	return func(a *AuthService) { a.otpTTL = d }
}

// WithOTPInterval sets the minimum spacing of code requests per phone.
func WithOTPInterval(d time.Duration) AuthOption {
	return func(a *AuthService) { a.otpInterval = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) AuthOption {
	return func(a *AuthService) { a.now = now }
}

// WithCodeGenerator overrides how one-time codes are generated.
func WithCodeGenerator(gen func() (string, error)) AuthOption {
	return func(a *AuthService) { a.newCode = gen }
}

// NewAuthService constructs the service.
func NewAuthService(users UserRepository, otps OTPRepository, tokens *TokenIssuer, opts ...AuthOption) *AuthService {
	s := &AuthService{
		users:       users,
		otps:        otps,
		tokens:      tokens,
		log:         zap.NewNop(),
		otpTTL:      5 * time.Minute,
		otpInterval: 30 * time.Second,
		now:         time.Now,
		newCode:     randomCode,
		limiters:    make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sender == nil {
		s.sender = LogSender{Log: s.log}
	}
	return s
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Register creates an account for role. Restaurant and rider accounts wait
// for approval and receive no credential.
func (s *AuthService) Register(ctx context.Context, p models.RegisterProfile, role models.Role) (*models.AuthResponse, error) {
	p.Name = validation.SanitizeText(p.Name)
	p.Email = strings.TrimSpace(p.Email)
	p.Phone = validation.SanitizePhone(p.Phone)
	lang := DefaultLanguage
	if p.PreferredLanguage != "" {
		lang, _ = validation.NormalizeLanguage(p.PreferredLanguage)
	}

	v := validation.New().
		Custom("role", !role.Valid() || role == models.RoleAdmin, "Invalid role").
		Name("name", p.Name).
		Email("email", p.Email).
		Phone("phone", p.Phone).
		Password("password", p.Password).
		Custom("preferred_language", lang == "", "Unsupported language")
	if err := v.Err(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &repository.User{
		Identity: models.Identity{
			ID:                uuid.NewString(),
			Name:              p.Name,
			Email:             p.Email,
			Phone:             p.Phone,
			Role:              role,
			PreferredLanguage: lang,
			CreatedAt:         s.now().UTC(),
		},
		PasswordHash: hash,
	}
	if role.NeedsApproval() {
		approved := false
		u.IsApproved = &approved
	}

	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}
	s.log.Info("account registered", zap.String("user_id", u.ID), zap.String("role", string(role)))

	if role.NeedsApproval() {
		return &models.AuthResponse{
			User:    u.Identity.Clone(),
			Message: "Registration received. Your account is awaiting approval.",
		}, nil
	}
	return s.respond(&u.Identity)
}

// Login authenticates by email or phone plus password for role.
func (s *AuthService) Login(ctx context.Context, creds models.LoginCredentials, role models.Role) (*models.AuthResponse, error) {
	var (
		u   *repository.User
		err error
	)
	switch {
	case strings.TrimSpace(creds.Email) != "":
		u, err = s.users.ByEmail(ctx, creds.Email)
	case creds.Phone != "":
		u, err = s.users.ByPhone(ctx, validation.SanitizePhone(creds.Phone))
	default:
		return nil, ErrInvalidCredentials
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(creds.Password)) != nil || u.Role != role {
		return nil, ErrInvalidCredentials
	}
	if u.IsApproved != nil && !*u.IsApproved {
		return nil, ErrNotApproved
	}
	return s.respond(&u.Identity)
}

// RequestOTP issues a fresh code for phone and hands it to the sender.
func (s *AuthService) RequestOTP(ctx context.Context, phone string) error {
	phone = validation.SanitizePhone(phone)
	if err := validation.New().Phone("phone", phone).Err(); err != nil {
		return err
	}
	if !s.limiter(phone).AllowN(s.now(), 1) {
		return ErrTooManyRequests
	}

	code, err := s.newCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	if err := s.otps.Save(ctx, phone, code, s.now().Add(s.otpTTL)); err != nil {
		return err
	}
	return s.sender.SendOTP(ctx, phone, code)
}

func (s *AuthService) limiter(phone string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[phone]
	if !ok {
		l = rate.NewLimiter(rate.Every(s.otpInterval), 1)
		s.limiters[phone] = l
	}
	return l
}

// VerifyOTP signs in the account registered with phone once code checks
// out, marking the phone verified.
func (s *AuthService) VerifyOTP(ctx context.Context, phone, code string, role models.Role) (*models.AuthResponse, error) {
	phone = validation.SanitizePhone(phone)
	if err := validation.New().Phone("phone", phone).OTP("otp", code).Err(); err != nil {
		return nil, err
	}

	ok, err := s.otps.Consume(ctx, phone, code, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidOTP
	}

	u, err := s.users.ByPhone(ctx, phone)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if u.Role != role {
		return nil, ErrInvalidCredentials
	}
	if u.IsApproved != nil && !*u.IsApproved {
		return nil, ErrNotApproved
	}

	if !u.VerifiedPhone {
		u.VerifiedPhone = true
		if err := s.users.Update(ctx, u); err != nil {
			return nil, err
		}
	}
	return s.respond(&u.Identity)
}

// UpdateProfile merges update into the account of userID and returns the
// stored identity.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, update models.ProfileUpdate) (*models.Identity, error) {
	u, err := s.users.ByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	next := update.Apply(&u.Identity)
	next.Name = validation.SanitizeText(next.Name)
	if next.Phone != u.Phone {
		next.Phone = validation.SanitizePhone(next.Phone)
		next.VerifiedPhone = false
	}
	v := validation.New().
		Name("name", next.Name).
		Email("email", next.Email).
		Phone("phone", next.Phone)
	if update.PreferredLanguage != nil {
		lang, ok := validation.NormalizeLanguage(next.PreferredLanguage)
		v.Custom("preferred_language", !ok, "Unsupported language")
		next.PreferredLanguage = lang
	}
	if update.Avatar != nil && next.Avatar != "" {
		v.Custom("avatar", !validation.ImageURL(next.Avatar), "Invalid image URL")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	u.Identity = *next
	if err := s.users.Update(ctx, u); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}
	return u.Identity.Clone(), nil
}

// Identity returns the public identity of userID.
func (s *AuthService) Identity(ctx context.Context, userID string) (*models.Identity, error) {
	u, err := s.users.ByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u.Identity.Clone(), nil
}

// Approve approves a restaurant or rider account and notifies its owner.
func (s *AuthService) Approve(ctx context.Context, userID string) (*models.Identity, error) {
	u, err := s.users.ByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !u.Role.NeedsApproval() {
		return nil, ErrNotFound
	}

	approved := true
	u.IsApproved = &approved
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("account approved", zap.String("user_id", u.ID))

	if s.publisher != nil {
		_, err := s.publisher.Publish(u.ID, "notification", models.Notification{
			Type:    models.CategorySystem,
			Title:   "Account approved",
			Message: "Your account has been approved. You can now sign in.",
		})
		if err != nil {
			s.log.Warn("failed to push approval", zap.Error(err))
		}
	}
	return u.Identity.Clone(), nil
}

// SeedAdmin creates the admin account if no account uses email yet.
func (s *AuthService) SeedAdmin(ctx context.Context, name, email, password string) error {
	if _, err := s.users.ByEmail(ctx, email); err == nil {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.users.Create(ctx, &repository.User{
		Identity: models.Identity{
			ID:                uuid.NewString(),
			Name:              name,
			Email:             email,
			Role:              models.RoleAdmin,
			PreferredLanguage: DefaultLanguage,
			CreatedAt:         s.now().UTC(),
		},
		PasswordHash: hash,
	})
}

func (s *AuthService) respond(id *models.Identity) (*models.AuthResponse, error) {
	token, err := s.tokens.Issue(id.ID, id.Role)
	if err != nil {
		return nil, err
	}
	return &models.AuthResponse{User: id.Clone(), Token: token}, nil
}
