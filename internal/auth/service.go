package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/geocoder89/storefront/internal/domain/user"
	"github.com/geocoder89/storefront/internal/security"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	MinPasswordLength = 6
	// bcrypt only reads the first 72 bytes and rejects longer input
	MaxPasswordBytes = 72
)

var tracer = otel.Tracer("github.com/geocoder89/storefront/internal/auth")

// UserStore is the credential store. Save persists profile and role fields
// only; login counters change exclusively through UpdateLoginState, which
// must apply fn atomically per user.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (user.User, error)
	FindByID(ctx context.Context, id string) (user.User, error)
	Create(ctx context.Context, u user.User) (user.User, error)
	Save(ctx context.Context, u user.User) (user.User, error)
	UpdateLoginState(ctx context.Context, id string, fn func(user.LoginState) user.LoginState) (user.User, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter user.ListFilter) ([]user.User, error)
}

type Metrics interface {
	IncLogin(result string)
	IncLockout()
	IncTokenRejection(reason string)
}

type nopMetrics struct{}

func (nopMetrics) IncLogin(string)          {}
func (nopMetrics) IncLockout()              {}
func (nopMetrics) IncTokenRejection(string) {}

type ServiceConfig struct {
	Store   UserStore
	Hasher  *security.Hasher
	Tokens  *TokenManager
	Lockout LockoutPolicy
	// Empty disables setup-key registration of elevated accounts.
	AdminSetupKey string
	Now           func() time.Time
	Logger        *slog.Logger
	Metrics       Metrics
}

type Service struct {
	store    UserStore
	hasher   *security.Hasher
	tokens   *TokenManager
	lockout  LockoutPolicy
	setupKey string
	now      func() time.Time
	log      *slog.Logger
	metrics  Metrics
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil || cfg.Hasher == nil || cfg.Tokens == nil {
		return nil, fmt.Errorf("%w: store, hasher and token manager are required", ErrConfig)
	}
	if cfg.Lockout.MaxAttempts <= 0 || cfg.Lockout.LockDuration <= 0 {
		cfg.Lockout = NewLockoutPolicy(cfg.Lockout.MaxAttempts, cfg.Lockout.LockDuration)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}

	return &Service{
		store:    cfg.Store,
		hasher:   cfg.Hasher,
		tokens:   cfg.Tokens,
		lockout:  cfg.Lockout,
		setupKey: cfg.AdminSetupKey,
		now:      cfg.Now,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
	}, nil
}

type LoginResult struct {
	User         user.User
	AccessToken  string
	RefreshToken string
}

// Login verifies credentials under the lockout policy and mints a token pair.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	ctx, span := tracer.Start(ctx, "auth.Login")
	defer span.End()

	res, err := s.login(ctx, email, password)

	s.metrics.IncLogin(loginResultLabel(err))
	if err != nil {
		span.SetStatus(codes.Error, loginResultLabel(err))
	} else {
		span.SetAttributes(attribute.String("user.id", res.User.ID))
	}

	return res, err
}

// AdminLogin is Login restricted to admins and moderators. The role check runs
// after the password check so it cannot be used to probe accounts.
func (s *Service) AdminLogin(ctx context.Context, email, password string) (LoginResult, error) {
	res, err := s.Login(ctx, email, password)
	if err != nil {
		return LoginResult{}, err
	}

	if !res.User.IsAdmin && res.User.Role != user.RoleModerator {
		return LoginResult{}, ErrForbidden
	}

	return res, nil
}

func (s *Service) login(ctx context.Context, email, password string) (LoginResult, error) {
	email = user.NormalizeEmail(email)

	if email == "" {
		return LoginResult{}, invalid("email", "is required")
	}
	if password == "" {
		return LoginResult{}, invalid("password", "is required")
	}

	u, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			s.hasher.VerifyDummy(password)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("find user: %w", err)
	}

	now := s.now()

	// A locked account is rejected before any hashing.
	if u.IsLocked(now) {
		s.log.InfoContext(ctx, "login rejected: account locked", "user_id", u.ID)
		return LoginResult{}, ErrAccountLocked
	}

	if !s.hasher.Verify(u.PasswordHash, password) {
		updated, err := s.store.UpdateLoginState(ctx, u.ID, func(st user.LoginState) user.LoginState {
			return s.lockout.OnFailure(st, now)
		})
		if err != nil {
			return LoginResult{}, fmt.Errorf("record failed login: %w", err)
		}

		if updated.IsLocked(now) && !u.IsLocked(now) {
			s.metrics.IncLockout()
			s.log.WarnContext(ctx, "account locked after failed logins",
				"user_id", u.ID, "attempts", updated.LoginAttempts, "lock_until", updated.LockUntil)
		}

		return LoginResult{}, ErrInvalidCredentials
	}

	if !u.IsActive {
		return LoginResult{}, ErrAccountInactive
	}

	updated, err := s.store.UpdateLoginState(ctx, u.ID, func(st user.LoginState) user.LoginState {
		return s.lockout.OnSuccess(st, now)
	})
	if err != nil {
		return LoginResult{}, fmt.Errorf("record login: %w", err)
	}

	pair, err := s.tokens.IssuePair(updated.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue tokens: %w", err)
	}

	return LoginResult{User: updated, AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}, nil
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// Register creates a self-service account. The role is always user.
func (s *Service) Register(ctx context.Context, in RegisterInput) (user.User, error) {
	return s.create(ctx, in, user.RoleUser)
}

type ElevatedInput struct {
	RegisterInput
	Role     string
	SetupKey string
}

// RegisterElevated creates an admin or moderator. It is allowed when the setup
// key matches the configured key, or when actor is an active admin.
func (s *Service) RegisterElevated(ctx context.Context, in ElevatedInput, actor *user.User) (user.User, error) {
	if !s.canElevate(in.SetupKey, actor) {
		return user.User{}, ErrForbidden
	}

	role := user.RoleAdmin
	if in.Role != "" {
		role = user.Role(in.Role)
	}
	if role != user.RoleAdmin && role != user.RoleModerator {
		return user.User{}, invalid("role", "must be admin or moderator")
	}

	u, err := s.create(ctx, in.RegisterInput, role)
	if err != nil {
		return user.User{}, err
	}

	s.log.InfoContext(ctx, "elevated account created", "user_id", u.ID, "role", u.Role, "via_setup_key", actor == nil)

	return u, nil
}

func (s *Service) canElevate(key string, actor *user.User) bool {
	if actor != nil && actor.IsActive && actor.IsAdmin {
		return true
	}
	if s.setupKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.setupKey)) == 1
}

func (s *Service) create(ctx context.Context, in RegisterInput, role user.Role) (user.User, error) {
	name := strings.TrimSpace(in.Name)
	email := user.NormalizeEmail(in.Email)

	if name == "" {
		return user.User{}, invalid("name", "is required")
	}
	if err := validateEmail(email); err != nil {
		return user.User{}, err
	}
	if err := validatePassword(in.Password); err != nil {
		return user.User{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return user.User{}, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.store.Create(ctx, user.New(name, email, hash, role, s.now().UTC()))
	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			return user.User{}, ErrConflict
		}
		return user.User{}, fmt.Errorf("create user: %w", err)
	}

	return u, nil
}

// Refresh exchanges a refresh token for a new token pair.
func (s *Service) Refresh(ctx context.Context, raw string) (LoginResult, error) {
	if strings.TrimSpace(raw) == "" {
		return LoginResult{}, ErrUnauthenticated
	}

	id, err := s.tokens.VerifyType(raw, TokenRefresh)
	if err != nil {
		s.metrics.IncTokenRejection(tokenRejectionLabel(err))
		return LoginResult{}, err
	}

	u, err := s.loadActive(ctx, id.UserID)
	if err != nil {
		return LoginResult{}, err
	}

	pair, err := s.tokens.IssuePair(u.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue tokens: %w", err)
	}

	return LoginResult{User: u, AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}, nil
}

// IssueTokens mints a pair for a freshly registered account.
func (s *Service) IssueTokens(u user.User) (TokenPair, error) {
	if !u.IsActive {
		return TokenPair{}, ErrAccountInactive
	}
	return s.tokens.IssuePair(u.ID)
}

type ProfileUpdate struct {
	Name            string
	Email           string
	Password        string
	ShippingAddress *user.ShippingAddress
}

// UpdateProfile applies the non-empty fields. The password is re-hashed only
// when a new one is supplied.
func (s *Service) UpdateProfile(ctx context.Context, id string, in ProfileUpdate) (user.User, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return user.User{}, err
	}

	if err := s.applyIdentity(&u, in.Name, in.Email); err != nil {
		return user.User{}, err
	}

	if in.ShippingAddress != nil {
		u.ShippingAddress = *in.ShippingAddress
	}

	if in.Password != "" {
		if err := validatePassword(in.Password); err != nil {
			return user.User{}, err
		}

		hash, err := s.hasher.Hash(in.Password)
		if err != nil {
			return user.User{}, fmt.Errorf("hash password: %w", err)
		}
		u.PasswordHash = hash
	}

	return s.save(ctx, u)
}

type AdminUpdate struct {
	Name     string
	Email    string
	Role     string
	IsAdmin  *bool
	IsActive *bool
}

// AdminUpdate edits identity, role and flags. Permissions are never taken from
// input; a role change re-derives them.
func (s *Service) AdminUpdate(ctx context.Context, id string, in AdminUpdate) (user.User, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return user.User{}, err
	}

	if err := s.applyIdentity(&u, in.Name, in.Email); err != nil {
		return user.User{}, err
	}

	if in.IsAdmin != nil {
		u.IsAdmin = *in.IsAdmin
	}
	if in.IsActive != nil {
		u.IsActive = *in.IsActive
	}

	if in.Role != "" {
		role, err := user.ParseRole(in.Role)
		if err != nil {
			return user.User{}, invalid("role", "must be one of user, moderator, admin")
		}
		if role != u.Role {
			u.ApplyRole(role)
		}
	}

	// role admin always implies isAdmin, whatever the flag in the request said
	if u.Role == user.RoleAdmin {
		u.IsAdmin = true
	}

	saved, err := s.save(ctx, u)
	if err != nil {
		return user.User{}, err
	}

	s.log.InfoContext(ctx, "user updated by admin",
		"user_id", saved.ID, "role", saved.Role, "is_admin", saved.IsAdmin, "is_active", saved.IsActive)

	return saved, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (user.User, error) {
	u, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, ErrNotFound
		}
		return user.User{}, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context, filter user.ListFilter) ([]user.User, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	return s.store.List(ctx, filter)
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	err := s.store.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete user: %w", err)
	}

	s.log.InfoContext(ctx, "user deleted", "user_id", id)

	return nil
}

func (s *Service) applyIdentity(u *user.User, name, email string) error {
	if n := strings.TrimSpace(name); n != "" {
		u.Name = n
	}

	if email != "" {
		email = user.NormalizeEmail(email)
		if err := validateEmail(email); err != nil {
			return err
		}
		u.Email = email
	}

	return nil
}

func (s *Service) save(ctx context.Context, u user.User) (user.User, error) {
	u.UpdatedAt = s.now().UTC()

	saved, err := s.store.Save(ctx, u)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrEmailTaken):
			return user.User{}, ErrConflict
		case errors.Is(err, user.ErrNotFound):
			return user.User{}, ErrNotFound
		default:
			return user.User{}, fmt.Errorf("save user: %w", err)
		}
	}

	return saved, nil
}

func validateEmail(email string) error {
	if email == "" {
		return invalid("email", "is required")
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalid("email", "must be a valid email address")
	}

	return nil
}

func validatePassword(password string) error {
	if password == "" {
		return invalid("password", "is required")
	}
	if len(password) < MinPasswordLength {
		return invalid("password", fmt.Sprintf("must be at least %d characters long", MinPasswordLength))
	}
	if len(password) > MaxPasswordBytes {
		return invalid("password", fmt.Sprintf("must be at most %d bytes", MaxPasswordBytes))
	}
	return nil
}

func loginResultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountLocked):
		return "locked"
	case errors.Is(err, ErrAccountInactive):
		return "inactive"
	case errors.Is(err, ErrValidation):
		return "invalid_request"
	default:
		return "error"
	}
}
