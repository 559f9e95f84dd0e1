package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/soetuniversity/portal/internal/config"
	"github.com/soetuniversity/portal/internal/model"
	"github.com/soetuniversity/portal/internal/password"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	auth  *AuthService
	store *config.Store
	clock *testClock
}

func newTestAuth(t *testing.T) *testEnv {
	t.Helper()
	return newTestAuthWith(t, AuthConfig{})
}

func newTestAuthWith(t *testing.T, cfg AuthConfig) *testEnv {
	t.Helper()
	store, err := config.Open(config.StoreConfig{Driver: config.DialectSQLite, Hasher: password.New(4)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := &testClock{now: time.Now().UTC().Truncate(time.Second)}
	cfg.JWTSecret = []byte("test-secret-key-for-jwt")
	cfg.Hasher = store.Hasher()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Now = clock.Now
	return &testEnv{auth: NewAuthService(store, cfg), store: store, clock: clock}
}

func (e *testEnv) createAdmin(t *testing.T, email, pw string, role model.Role, perms ...model.Permission) *model.Admin {
	t.Helper()
	a := &model.Admin{
		Username:    model.UsernameFromEmail(email),
		Email:       email,
		Name:        "Test Admin",
		Password:    pw,
		Role:        role,
		Permissions: perms,
		IsActive:    true,
	}
	if err := e.store.CreateAdmin(context.Background(), a); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	return a
}

// ---------------------------------------------------------------------------
// Login
// ---------------------------------------------------------------------------

func TestLoginSuccess(t *testing.T) {
	env := newTestAuth(t)
	ctx := context.Background()
	admin := env.createAdmin(t, "admin@example.com", "correct-horse", model.RoleAdmin)

	res, err := env.auth.Login(ctx, "ADMIN@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token == "" {
		t.Fatal("expected token")
	}
	if res.Admin.ID != admin.ID {
		t.Errorf("got admin %d, want %d", res.Admin.ID, admin.ID)
	}

	claims, err := env.auth.Tokens().Verify(res.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id, _ := claims.AccountID(); id != admin.ID {
		t.Errorf("token subject %d, want %d", id, admin.ID)
	}

	got, _ := env.store.GetAdmin(ctx, admin.ID)
	if got.LastLoginAt == nil {
		t.Error("expected last_login_at to be stamped")
	}
}

func TestLoginInvalidCredentialsIndistinguishable(t *testing.T) {
	env := newTestAuth(t)
	ctx := context.Background()
	env.createAdmin(t, "admin@example.com", "correct-horse", model.RoleAdmin)

	_, errUnknown := env.auth.Login(ctx, "nobody@example.com", "whatever1")
	_, errWrong := env.auth.Login(ctx, "admin@example.com", "wrong-password")

	if !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Errorf("unknown email: got %v, want ErrInvalidCredentials", errUnknown)
	}
	if !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v, want ErrInvalidCredentials", errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Errorf("messages differ: %q vs %q", errUnknown, errWrong)
	}
}

func TestLoginLockoutScenario(t *testing.T) {
	env := newTestAuth(t)
	ctx := context.Background()
	admin := env.createAdmin(t, "admin@x.com", "correct-pw", model.RoleAdmin)

	for i := 0; i < 5; i++ {
		if _, err := env.auth.Login(ctx, "admin@x.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: got %v, want ErrInvalidCredentials", i+1, err)
		}
	}

	if _, err := env.auth.Login(ctx, "admin@x.com", "correct-pw"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("sixth attempt: got %v, want ErrAccountLocked", err)
	}

	// Attempts while locked do not extend the lock.
	locked, _ := env.store.GetAdmin(ctx, admin.ID)
	env.auth.Login(ctx, "admin@x.com", "wrong")
	after, _ := env.store.GetAdmin(ctx, admin.ID)
	if after.FailedAttempts != locked.FailedAttempts || !after.LockUntil.Equal(*locked.LockUntil) {
		t.Errorf("lock changed while locked: before=%+v after=%+v", locked.Lockout(), after.Lockout())
	}

	env.clock.Advance(2*time.Hour + time.Second)

	res, err := env.auth.Login(ctx, "admin@x.com", "correct-pw")
	if err != nil {
		t.Fatalf("after lock expiry: %v", err)
	}
	if res.Token == "" {
		t.Fatal("expected token after lock expiry")
	}
	got, _ := env.store.GetAdmin(ctx, admin.ID)
	if got.FailedAttempts != 0 || got.LockUntil != nil {
		t.Errorf("success did not clear lockout: %+v", got.Lockout())
	}
}

func TestLoginFailureAfterExpiredLockRestartsCount(t *testing.T) {
	env := newTestAuth(t)
	ctx := context.Background()
	admin := env.createAdmin(t, "admin@x.com", "correct-pw", model.RoleAdmin)

	for i := 0; i < 5; i++ {
		env.auth.Login(ctx, "admin@x.com", "wrong")
	}
	env.clock.Advance(3 * time.Hour)

	if _, err := env.auth.Login(ctx, "admin@x.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("got %v, want ErrInvalidCredentials", err)
	}
	got, _ := env.store.GetAdmin(ctx, admin.ID)
	if got.FailedAttempts != 1 || got.LockUntil != nil {
		t.Errorf("got %+v, want count 1 and no lock", got.Lockout())
	}
}

func TestLoginSuccessResetsCounter(t *testing.T) {
	env := newTestAuth(t)
	ctx := context.Background()
	admin := env.createAdmin(t, "admin@x.com", "correct-pw", model.RoleAdmin)

	for i := 0; i < 3; i++ {
		env.auth.Login(ctx, "admin@x.com", "wrong")
	}
	if _, err := env.auth.Login(ctx, "admin@x.com", "correct-pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	got, _ := env.store.GetAdmin(ctx, admin.ID)
	if got.FailedAttempts != 0 {
		t.Errorf("got %d failed attempts, want 0", got.FailedAttempts)
	}
}

func TestLoginConcurrentFailuresAllCounted(t *testing.T) {
	env := newTestAuthWith(t, AuthConfig{MaxAttempts: 10})
	ctx := context.Background()
	admin := env.createAdmin(t, "admin@x.com", "correct-pw", model.RoleAdmin)

	const attempts = 4
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.auth.Login(ctx, "admin@x.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("got %v, want ErrInvalidCredentials", err)
			}
		}()
	}
	wg.Wait()

	got, _ := env.store.GetAdmin(ctx, admin.ID)
	if got.FailedAttempts != attempts {
		t.Errorf("got %d failed attempts, want %d", got.FailedAttempts, attempts)
	}
}

func TestLoginDeactivated(t *testing.T) {
	env := newTestAuth(t)
	ctx := context.Background()
	admin := env.createAdmin(t, "admin@x.com", "correct-pw", model.RoleAdmin)
	admin.IsActive = false
	if err := env.store.SaveAdmin(ctx, admin); err != nil {
		t.Fatalf("SaveAdmin: %v", err)
	}

	if _, err := env.auth.Login(ctx, "admin@x.com", "correct-pw"); !errors.Is(err, ErrAccountDisabled) {
		t.Errorf("right password: got %v, want ErrAccountDisabled", err)
	}
	if _, err := env.auth.Login(ctx, "admin@x.com", "wrong-pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginRehashesOutdatedDigest(t *testing.T) {
	env := newTestAuth(t)
	ctx := context.Background()

	legacy, err := password.New(5).Hash("correct-pw")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	admin := &model.Admin{Username: "legacy", Email: "legacy@x.com", PasswordHash: legacy, IsActive: true}
	if err := env.store.CreateAdmin(ctx, admin); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}

	if _, err := env.auth.Login(ctx, "legacy@x.com", "correct-pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	got, _ := env.store.GetAdmin(ctx, admin.ID)
	if got.PasswordHash == legacy {
		t.Fatal("digest was not upgraded")
	}
	if env.store.Hasher().NeedsRehash(got.PasswordHash) {
		t.Error("upgraded digest still needs rehash")
	}
	if !env.store.Hasher().Verify("correct-pw", got.PasswordHash) {
		t.Error("upgraded digest does not verify")
	}
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

func TestRegisterRequiresSuperAdmin(t *testing.T) {
	env := newTestAuth(t)
	ctx := context.Background()
	plain := env.createAdmin(t, "plain@x.com", "password1", model.RoleAdmin, model.PermManageUsers)

	_, err := env.auth.Register(ctx, plain, RegisterInput{Email: "new@x.com", Password: "password1"})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("got %v, want ErrForbidden", err)
	}
}

func TestRegisterDerivesUsername(t *testing.T) {
	env := newTestAuth(t)
	ctx := context.Background()
	root := env.createAdmin(t, "root@x.com", "password1", model.RoleSuperAdmin)

	admin, err := env.auth.Register(ctx, root, RegisterInput{
		Name:        "New Editor",
		Email:       "jane.doe@x.com",
		Password:    "password1",
		Permissions: []model.Permission{model.PermManageContent},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if admin.Username != "jane.doe" {
		t.Errorf("got username %q, want jane.doe", admin.Username)
	}
	if admin.Role != model.RoleAdmin {
		t.Errorf("got role %q, want admin", admin.Role)
	}
	if admin.CreatedBy == nil || *admin.CreatedBy != root.ID {
		t.Errorf("created_by not recorded: %v", admin.CreatedBy)
	}

	_, err = env.auth.Register(ctx, root, RegisterInput{Username: "other", Email: "JANE.DOE@x.com", Password: "password1"})
	if !errors.Is(err, config.ErrDuplicate) {
		t.Errorf("duplicate email: got %v, want ErrDuplicate", err)
	}
}

func TestBootstrap(t *testing.T) {
	env := newTestAuth(t)
	ctx := context.Background()

	root, err := env.auth.Bootstrap(ctx, RegisterInput{Name: "Root", Email: "root@x.com", Password: "password1"})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if !root.IsSuperAdmin() || len(root.Permissions) != len(model.AllPermissions) {
		t.Errorf("unexpected bootstrap account: %+v", root)
	}

	_, err = env.auth.Bootstrap(ctx, RegisterInput{Email: "second@x.com", Password: "password1"})
	if !errors.Is(err, ErrAlreadyBootstrapped) {
		t.Errorf("got %v, want ErrAlreadyBootstrapped", err)
	}
}

// ---------------------------------------------------------------------------
// Self service
// ---------------------------------------------------------------------------

func TestUpdateProfile(t *testing.T) {
	env := newTestAuth(t)
	ctx := context.Background()
	admin := env.createAdmin(t, "me@x.com", "password1", model.RoleAdmin)
	env.createAdmin(t, "taken@x.com", "password1", model.RoleAdmin)

	name := "Renamed"
	got, err := env.auth.UpdateProfile(ctx, admin, ProfileInput{Name: &name})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if got.Name != "Renamed" {
		t.Errorf("got name %q", got.Name)
	}

	if _, err := env.auth.UpdateProfile(ctx, admin, ProfileInput{NewPassword: "newpassword"}); !errors.Is(err, ErrCurrentPasswordRequired) {
		t.Errorf("missing current: got %v, want ErrCurrentPasswordRequired", err)
	}
	if _, err := env.auth.UpdateProfile(ctx, admin, ProfileInput{CurrentPassword: "nope", NewPassword: "newpassword"}); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("wrong current: got %v, want ErrWrongPassword", err)
	}
	if _, err := env.auth.UpdateProfile(ctx, admin, ProfileInput{CurrentPassword: "password1", NewPassword: "newpassword"}); err != nil {
		t.Fatalf("password update: %v", err)
	}
	if _, err := env.auth.Login(ctx, "me@x.com", "newpassword"); err != nil {
		t.Errorf("login with new password: %v", err)
	}

	taken := "TAKEN@x.com"
	if _, err := env.auth.UpdateProfile(ctx, admin, ProfileInput{Email: &taken}); !errors.Is(err, config.ErrDuplicate) {
		t.Errorf("taken email: got %v, want ErrDuplicate", err)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestAuth(t)
	ctx := context.Background()
	admin := env.createAdmin(t, "me@x.com", "password1", model.RoleAdmin)

	if err := env.auth.ChangePassword(ctx, admin, "password1", "newpassword", "different"); !errors.Is(err, ErrPasswordMismatch) {
		t.Errorf("mismatch: got %v, want ErrPasswordMismatch", err)
	}
	if err := env.auth.ChangePassword(ctx, admin, "wrong", "newpassword", "newpassword"); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("wrong current: got %v, want ErrWrongPassword", err)
	}
	err := env.auth.ChangePassword(ctx, admin, "password1", "short", "short")
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("short password: got %v, want *model.ValidationError", err)
	}

	if err := env.auth.ChangePassword(ctx, admin, "password1", "newpassword", "newpassword"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := env.auth.Login(ctx, "me@x.com", "password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old password: got %v, want ErrInvalidCredentials", err)
	}
	if _, err := env.auth.Login(ctx, "me@x.com", "newpassword"); err != nil {
		t.Errorf("new password: %v", err)
	}
}

func TestLogoutStampsTime(t *testing.T) {
	env := newTestAuth(t)
	ctx := context.Background()
	admin := env.createAdmin(t, "me@x.com", "password1", model.RoleAdmin)

	if err := env.auth.Logout(ctx, admin); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	got, _ := env.store.GetAdmin(ctx, admin.ID)
	if got.LastLogoutAt == nil || !got.LastLogoutAt.Equal(env.clock.Now()) {
		t.Errorf("got last_logout_at %v, want %v", got.LastLogoutAt, env.clock.Now())
	}
}

// ---------------------------------------------------------------------------
// Account administration
// ---------------------------------------------------------------------------

func TestSetActiveAndRole(t *testing.T) {
	env := newTestAuth(t)
	ctx := context.Background()
	root := env.createAdmin(t, "root@x.com", "password1", model.RoleSuperAdmin)
	other := env.createAdmin(t, "other@x.com", "password1", model.RoleAdmin)

	if _, err := env.auth.SetActive(ctx, root, root.ID, false); !errors.Is(err, ErrSelfModification) {
		t.Errorf("self deactivate: got %v, want ErrSelfModification", err)
	}
	if _, err := env.auth.SetRole(ctx, root, root.ID, model.RoleAdmin); !errors.Is(err, ErrSelfModification) {
		t.Errorf("self demote: got %v, want ErrSelfModification", err)
	}

	got, err := env.auth.SetActive(ctx, root, other.ID, false)
	if err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if got.IsActive {
		t.Error("expected deactivated account")
	}

	got, err = env.auth.SetRole(ctx, root, other.ID, model.RoleSuperAdmin)
	if err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	if !got.IsSuperAdmin() {
		t.Error("expected promoted account")
	}

	if _, err := env.auth.SetRole(ctx, root, other.ID, model.Role("owner")); err == nil {
		t.Error("invalid role accepted")
	}
}

func TestSetPermissionsAndUnlock(t *testing.T) {
	env := newTestAuth(t)
	ctx := context.Background()
	other := env.createAdmin(t, "other@x.com", "password1", model.RoleAdmin)

	got, err := env.auth.SetPermissions(ctx, other.ID, []model.Permission{model.PermViewAnalytics})
	if err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}
	if !got.HasPermission(model.PermViewAnalytics) {
		t.Errorf("permissions not applied: %v", got.Permissions)
	}
	if _, err := env.auth.SetPermissions(ctx, other.ID, []model.Permission{"fly"}); err == nil {
		t.Error("unknown permission accepted")
	}

	for i := 0; i < 5; i++ {
		env.auth.Login(ctx, "other@x.com", "wrong")
	}
	if err := env.auth.Unlock(ctx, other.ID); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if _, err := env.auth.Login(ctx, "other@x.com", "password1"); err != nil {
		t.Errorf("login after unlock: %v", err)
	}
}
