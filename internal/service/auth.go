package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/soetuniversity/portal/internal/config"
	"github.com/soetuniversity/portal/internal/model"
	"github.com/soetuniversity/portal/internal/password"
	"github.com/soetuniversity/portal/internal/telemetry"
)

// maxLockoutSwaps bounds how often a failed login re-reads the account when
// a concurrent writer moved its lockout version.
const maxLockoutSwaps = 5

// CredentialStore is what the auth service needs from persistence.
// *config.Store satisfies it.
type CredentialStore interface {
	GetAdmin(ctx context.Context, id int64) (*model.Admin, error)
	GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error)
	CreateAdmin(ctx context.Context, a *model.Admin) error
	SaveAdmin(ctx context.Context, a *model.Admin) error
	HasSuperAdmin(ctx context.Context) (bool, error)
	CompareAndSwapLockout(ctx context.Context, id, expected int64, next model.LockoutState) (bool, error)
	ResetLockout(ctx context.Context, id int64) error
	RecordLoginSuccess(ctx context.Context, id int64, at time.Time) error
	UpdateAdminLastLogout(ctx context.Context, id int64, at time.Time) error
}

// AuthConfig tunes an AuthService. Zero fields take defaults.
type AuthConfig struct {
	JWTSecret    []byte
	TokenTTL     time.Duration
	MaxAttempts  int
	LockDuration time.Duration
	Hasher       *password.Hasher
	Metrics      *telemetry.Metrics
	Logger       *slog.Logger
	Now          func() time.Time
}

// AuthService authenticates admins and authorizes their requests.
type AuthService struct {
	store   CredentialStore
	tokens  *TokenIssuer
	lockout LockoutPolicy
	hasher  *password.Hasher
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService creates an AuthService backed by store.
func NewAuthService(store CredentialStore, cfg AuthConfig) *AuthService {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = password.New(password.DefaultCost)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		store:  store,
		tokens: NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL, now),
		lockout: LockoutPolicy{
			MaxAttempts:  cfg.MaxAttempts,
			LockDuration: cfg.LockDuration,
			Now:          now,
		},
		hasher:  hasher,
		metrics: cfg.Metrics,
		logger:  logger,
		now:     now,
	}
}

// Tokens returns the service's token issuer.
func (s *AuthService) Tokens() *TokenIssuer {
	return s.tokens
}

// LoginResult is a successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Admin     *model.Admin
}

// Login checks an email and password. Unknown email and wrong password both
// yield ErrInvalidCredentials. A locked account yields ErrAccountLocked even
// for the right password; a deactivated one yields ErrAccountDisabled once
// the password has been proven.
func (s *AuthService) Login(ctx context.Context, email, plain string) (*LoginResult, error) {
	admin, err := s.store.GetAdminByEmail(ctx, email)
	if errors.Is(err, config.ErrNotFound) {
		// Burn the same bcrypt work as a real account.
		s.hasher.Verify(plain, s.dummyDigest())
		s.logger.Info("login rejected", "reason", "unknown_email")
		s.metrics.LoginOutcome(telemetry.OutcomeInvalid)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		s.metrics.LoginOutcome(telemetry.OutcomeUnavailable)
		return nil, fmt.Errorf("look up admin: %w", err)
	}

	if s.lockout.IsLocked(admin.Lockout()) {
		s.logger.Warn("login rejected", "admin_id", admin.ID, "reason", "locked")
		s.metrics.LoginOutcome(telemetry.OutcomeLocked)
		return nil, ErrAccountLocked
	}

	if !s.hasher.Verify(plain, admin.PasswordHash) {
		if err := s.recordFailure(ctx, admin); err != nil {
			s.metrics.LoginOutcome(telemetry.OutcomeUnavailable)
			return nil, err
		}
		s.logger.Info("login rejected", "admin_id", admin.ID, "reason", "wrong_password")
		s.metrics.LoginOutcome(telemetry.OutcomeInvalid)
		return nil, ErrInvalidCredentials
	}

	if !admin.IsActive {
		s.logger.Warn("login rejected", "admin_id", admin.ID, "reason", "deactivated")
		s.metrics.LoginOutcome(telemetry.OutcomeDisabled)
		return nil, ErrAccountDisabled
	}

	now := s.now().UTC().Truncate(time.Second)
	if err := s.store.RecordLoginSuccess(ctx, admin.ID, now); err != nil {
		s.metrics.LoginOutcome(telemetry.OutcomeUnavailable)
		return nil, fmt.Errorf("record login: %w", err)
	}
	cleared := s.lockout.RecordSuccess(admin.Lockout())
	admin.FailedAttempts = cleared.FailedAttempts
	admin.LockUntil = cleared.LockUntil
	admin.LastLoginAt = &now

	if s.hasher.NeedsRehash(admin.PasswordHash) {
		admin.Password = plain
		if err := s.store.SaveAdmin(ctx, admin); err != nil {
			s.logger.Warn("password rehash failed", "admin_id", admin.ID, "error", err)
		}
		admin.Password = ""
	}

	token, expiresAt, err := s.tokens.Issue(admin.ID, admin.Email, admin.Role, 0)
	if err != nil {
		return nil, err
	}

	s.logger.Info("login succeeded", "admin_id", admin.ID)
	s.metrics.LoginOutcome(telemetry.OutcomeSuccess)
	return &LoginResult{Token: token, ExpiresAt: expiresAt, Admin: admin}, nil
}

// recordFailure applies one failed attempt through the store's
// compare-and-swap, re-reading the account whenever another writer won.
func (s *AuthService) recordFailure(ctx context.Context, admin *model.Admin) error {
	current := admin
	for i := 0; i < maxLockoutSwaps; i++ {
		state := current.Lockout()
		if s.lockout.IsLocked(state) {
			return nil
		}
		next := s.lockout.RecordFailure(state)
		ok, err := s.store.CompareAndSwapLockout(ctx, current.ID, state.Version, next)
		if err != nil {
			return fmt.Errorf("record failed login: %w", err)
		}
		if ok {
			if next.LockUntil != nil {
				s.logger.Warn("account locked", "admin_id", current.ID, "attempts", next.FailedAttempts)
				s.metrics.AccountLocked()
			}
			return nil
		}
		current, err = s.store.GetAdmin(ctx, current.ID)
		if err != nil {
			return fmt.Errorf("reload admin after lockout conflict: %w", err)
		}
	}
	s.logger.Warn("lockout update contended", "admin_id", admin.ID, "swaps", maxLockoutSwaps)
	return nil
}

func (s *AuthService) dummyDigest() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("portal-timing-equalizer")
	})
	return s.dummyHash
}

// ---------------------------------------------------------------------------
// Registration and bootstrap
// ---------------------------------------------------------------------------

// RegisterInput describes a new admin account.
type RegisterInput struct {
	Name        string
	Username    string
	Email       string
	Password    string
	Role        model.Role
	Permissions []model.Permission
}

func (in RegisterInput) toAdmin() *model.Admin {
	username := in.Username
	if username == "" {
		username = model.UsernameFromEmail(in.Email)
	}
	return &model.Admin{
		Name:        in.Name,
		Username:    username,
		Email:       in.Email,
		Password:    in.Password,
		Role:        in.Role,
		Permissions: in.Permissions,
		IsActive:    true,
	}
}

// Register creates an account on behalf of a super admin. A missing username
// is derived from the email address.
func (s *AuthService) Register(ctx context.Context, actor *model.Admin, in RegisterInput) (*model.Admin, error) {
	if actor == nil || !actor.IsSuperAdmin() {
		return nil, ErrForbidden
	}
	admin := in.toAdmin()
	admin.CreatedBy = &actor.ID
	if err := s.store.CreateAdmin(ctx, admin); err != nil {
		return nil, err
	}
	s.logger.Info("admin registered", "admin_id", admin.ID, "created_by", actor.ID, "role", admin.Role)
	return admin, nil
}

// Bootstrap provisions the first super admin. It fails with
// ErrAlreadyBootstrapped once one exists.
func (s *AuthService) Bootstrap(ctx context.Context, in RegisterInput) (*model.Admin, error) {
	exists, err := s.store.HasSuperAdmin(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyBootstrapped
	}
	in.Role = model.RoleSuperAdmin
	if in.Permissions == nil {
		in.Permissions = append([]model.Permission(nil), model.AllPermissions...)
	}
	admin := in.toAdmin()
	if err := s.store.CreateAdmin(ctx, admin); err != nil {
		return nil, err
	}
	s.logger.Info("super admin bootstrapped", "admin_id", admin.ID)
	return admin, nil
}

// ---------------------------------------------------------------------------
// Self service
// ---------------------------------------------------------------------------

// ProfileInput holds optional profile changes. Nil fields are left alone.
type ProfileInput struct {
	Name            *string
	Email           *string
	CurrentPassword string
	NewPassword     string
}

// UpdateProfile applies the caller's own profile changes. Setting a new
// password requires the correct current one.
func (s *AuthService) UpdateProfile(ctx context.Context, actor *model.Admin, in ProfileInput) (*model.Admin, error) {
	admin, err := s.store.GetAdmin(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		admin.Name = *in.Name
	}
	if in.Email != nil {
		admin.Email = *in.Email
	}
	if in.NewPassword != "" {
		if in.CurrentPassword == "" {
			return nil, ErrCurrentPasswordRequired
		}
		if !s.hasher.Verify(in.CurrentPassword, admin.PasswordHash) {
			return nil, ErrWrongPassword
		}
		admin.Password = in.NewPassword
	}
	if err := s.store.SaveAdmin(ctx, admin); err != nil {
		return nil, err
	}
	return admin, nil
}

// ChangePassword replaces the caller's password after checking the current
// one and the confirmation.
func (s *AuthService) ChangePassword(ctx context.Context, actor *model.Admin, current, next, confirm string) error {
	if next != confirm {
		return ErrPasswordMismatch
	}
	admin, err := s.store.GetAdmin(ctx, actor.ID)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(current, admin.PasswordHash) {
		return ErrWrongPassword
	}
	admin.Password = next
	if err := s.store.SaveAdmin(ctx, admin); err != nil {
		return err
	}
	s.logger.Info("password changed", "admin_id", admin.ID)
	return nil
}

// Logout records the logout time. Issued tokens stay valid until expiry.
func (s *AuthService) Logout(ctx context.Context, actor *model.Admin) error {
	return s.store.UpdateAdminLastLogout(ctx, actor.ID, s.now().UTC().Truncate(time.Second))
}

// ---------------------------------------------------------------------------
// Account administration
// ---------------------------------------------------------------------------

// SetPermissions replaces an account's explicit permission set.
func (s *AuthService) SetPermissions(ctx context.Context, id int64, perms []model.Permission) (*model.Admin, error) {
	admin, err := s.store.GetAdmin(ctx, id)
	if err != nil {
		return nil, err
	}
	if perms == nil {
		perms = []model.Permission{}
	}
	admin.Permissions = perms
	if err := s.store.SaveAdmin(ctx, admin); err != nil {
		return nil, err
	}
	return admin, nil
}

// SetActive activates or deactivates an account. Actors cannot deactivate
// themselves.
func (s *AuthService) SetActive(ctx context.Context, actor *model.Admin, id int64, active bool) (*model.Admin, error) {
	if actor.ID == id && !active {
		return nil, ErrSelfModification
	}
	admin, err := s.store.GetAdmin(ctx, id)
	if err != nil {
		return nil, err
	}
	admin.IsActive = active
	if err := s.store.SaveAdmin(ctx, admin); err != nil {
		return nil, err
	}
	s.logger.Info("admin activation changed", "admin_id", id, "active", active, "by", actor.ID)
	return admin, nil
}

// SetRole changes an account's role. Super admins cannot demote themselves.
func (s *AuthService) SetRole(ctx context.Context, actor *model.Admin, id int64, role model.Role) (*model.Admin, error) {
	if actor.ID == id && role != actor.Role {
		return nil, ErrSelfModification
	}
	admin, err := s.store.GetAdmin(ctx, id)
	if err != nil {
		return nil, err
	}
	admin.Role = role
	if err := s.store.SaveAdmin(ctx, admin); err != nil {
		return nil, err
	}
	s.logger.Info("admin role changed", "admin_id", id, "role", role, "by", actor.ID)
	return admin, nil
}

// Unlock clears an account's failed-attempt counter and lock.
func (s *AuthService) Unlock(ctx context.Context, id int64) error {
	if err := s.store.ResetLockout(ctx, id); err != nil {
		return err
	}
	s.logger.Info("admin unlocked", "admin_id", id)
	return nil
}
