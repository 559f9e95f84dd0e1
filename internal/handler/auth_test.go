package handler

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/soetuniversity/portal/internal/model"
)

func TestLoginSuccess(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAdmin(t, "admin@example.com", model.RoleAdmin, model.PermManageContent)

	rr := env.do(t, "POST", "/api/v1/auth/login", toJSON(t, map[string]string{
		"email":    "Admin@Example.com",
		"password": testPassword,
	}))
	assertStatus(t, rr, http.StatusOK)

	var resp loginResponse
	decodeJSON(t, rr, &resp)
	if resp.Token == "" {
		t.Fatal("expected token")
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("TokenType = %q", resp.TokenType)
	}
	if resp.ExpiresIn <= 0 {
		t.Errorf("ExpiresIn = %d", resp.ExpiresIn)
	}
	if resp.Admin == nil || resp.Admin.ID != admin.ID {
		t.Errorf("Admin = %+v", resp.Admin)
	}

	// The token works against an authenticated route.
	me := env.doAs(t, resp.Token, "GET", "/api/v1/auth/me", nil)
	assertStatus(t, me, http.StatusOK)
}

func TestLoginResponseOmitsPasswordHash(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t, "admin@example.com", model.RoleAdmin)

	rr := env.do(t, "POST", "/api/v1/auth/login", toJSON(t, map[string]string{
		"email": "admin@example.com", "password": testPassword,
	}))
	assertStatus(t, rr, http.StatusOK)
	body := rr.Body.String()
	if strings.Contains(body, "$2a$") || strings.Contains(strings.ToLower(body), "password") {
		t.Errorf("login response leaks password material: %s", body)
	}
}

func TestLoginUnknownAndWrongPasswordLookAlike(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t, "admin@example.com", model.RoleAdmin)

	unknown := env.do(t, "POST", "/api/v1/auth/login", toJSON(t, map[string]string{
		"email": "nobody@example.com", "password": testPassword,
	}))
	wrong := env.do(t, "POST", "/api/v1/auth/login", toJSON(t, map[string]string{
		"email": "admin@example.com", "password": "not-the-password",
	}))
	assertStatus(t, unknown, http.StatusUnauthorized)
	assertStatus(t, wrong, http.StatusUnauthorized)
	if a, b := errorMessage(t, unknown), errorMessage(t, wrong); a != b {
		t.Errorf("messages differ: %q vs %q", a, b)
	}
}

func TestLoginMissingFields(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "POST", "/api/v1/auth/login", toJSON(t, map[string]string{"email": "a@example.com"}))
	assertStatus(t, rr, http.StatusBadRequest)

	rr = env.do(t, "POST", "/api/v1/auth/login", strings.NewReader("{not json"))
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestLoginLockedAccount(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t, "admin@example.com", model.RoleAdmin)

	for i := 0; i < 5; i++ {
		rr := env.do(t, "POST", "/api/v1/auth/login", toJSON(t, map[string]string{
			"email": "admin@example.com", "password": "wrong",
		}))
		assertStatus(t, rr, http.StatusUnauthorized)
	}

	rr := env.do(t, "POST", "/api/v1/auth/login", toJSON(t, map[string]string{
		"email": "admin@example.com", "password": testPassword,
	}))
	assertStatus(t, rr, http.StatusUnauthorized)
	if msg := errorMessage(t, rr); !strings.Contains(msg, "locked") {
		t.Errorf("message = %q, want lock message", msg)
	}
}

func TestLoginDeactivatedAccount(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAdmin(t, "admin@example.com", model.RoleAdmin)
	admin.IsActive = false
	if err := env.store.SaveAdmin(context.Background(), admin); err != nil {
		t.Fatalf("SaveAdmin: %v", err)
	}

	rr := env.do(t, "POST", "/api/v1/auth/login", toJSON(t, map[string]string{
		"email": "admin@example.com", "password": testPassword,
	}))
	assertStatus(t, rr, http.StatusUnauthorized)
	if msg := errorMessage(t, rr); msg != "Account is deactivated" {
		t.Errorf("message = %q", msg)
	}
}

func TestRegisterRequiresSuperAdmin(t *testing.T) {
	env := newTestEnv(t)
	plain := env.seedAdmin(t, "plain@example.com", model.RoleAdmin, model.AllPermissions...)

	body := map[string]interface{}{
		"name": "New", "email": "new@example.com", "password": "password123",
	}
	rr := env.doAs(t, env.token(t, plain), "POST", "/api/v1/auth/register", toJSON(t, body))
	assertStatus(t, rr, http.StatusForbidden)

	rr = env.do(t, "POST", "/api/v1/auth/register", toJSON(t, body))
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestRegisterCreatesAccount(t *testing.T) {
	env := newTestEnv(t)
	super := env.seedAdmin(t, "root@example.com", model.RoleSuperAdmin)

	rr := env.doAs(t, env.token(t, super), "POST", "/api/v1/auth/register", toJSON(t, map[string]interface{}{
		"name":        "Content Editor",
		"email":       "editor@example.com",
		"password":    "password123",
		"permissions": []string{"manage_content"},
	}))
	assertStatus(t, rr, http.StatusCreated)

	var resp adminEnvelope
	decodeJSON(t, rr, &resp)
	if resp.Admin.Username != "editor" {
		t.Errorf("Username = %q, want derived from email", resp.Admin.Username)
	}
	if resp.Admin.Role != model.RoleAdmin {
		t.Errorf("Role = %q", resp.Admin.Role)
	}
	if resp.Admin.CreatedBy == nil || *resp.Admin.CreatedBy != super.ID {
		t.Errorf("CreatedBy = %v", resp.Admin.CreatedBy)
	}

	// The new account can log in.
	login := env.do(t, "POST", "/api/v1/auth/login", toJSON(t, map[string]string{
		"email": "editor@example.com", "password": "password123",
	}))
	assertStatus(t, login, http.StatusOK)
}

func TestRegisterValidationAndDuplicate(t *testing.T) {
	env := newTestEnv(t)
	super := env.seedAdmin(t, "root@example.com", model.RoleSuperAdmin)
	tok := env.token(t, super)

	rr := env.doAs(t, tok, "POST", "/api/v1/auth/register", toJSON(t, map[string]interface{}{
		"email": "bad-email", "password": "short",
	}))
	assertStatus(t, rr, http.StatusBadRequest)
	var resp model.ErrorResponse
	decodeJSON(t, rr, &resp)
	if resp.Error.Context["fields"] == nil {
		t.Errorf("expected field errors, got %+v", resp.Error)
	}

	rr = env.doAs(t, tok, "POST", "/api/v1/auth/register", toJSON(t, map[string]interface{}{
		"email": "root@example.com", "username": "another", "password": "password123",
	}))
	assertStatus(t, rr, http.StatusBadRequest)
	if msg := errorMessage(t, rr); msg != "Email or username already exists" {
		t.Errorf("message = %q", msg)
	}
}

func TestOverlongPasswordIsValidationError(t *testing.T) {
	env := newTestEnv(t)
	super := env.seedAdmin(t, "root@example.com", model.RoleSuperAdmin)
	tok := env.token(t, super)
	long := strings.Repeat("p", 80)

	rr := env.doAs(t, tok, "POST", "/api/v1/auth/register", toJSON(t, map[string]interface{}{
		"name": "Long", "email": "long@example.com", "password": long,
	}))
	assertStatus(t, rr, http.StatusBadRequest)
	if msg := errorMessage(t, rr); !strings.Contains(msg, "72 bytes") {
		t.Errorf("register message = %q", msg)
	}

	rr = env.doAs(t, tok, "POST", "/api/v1/auth/change-password", toJSON(t, map[string]string{
		"currentPassword": testPassword, "newPassword": long, "confirmPassword": long,
	}))
	assertStatus(t, rr, http.StatusBadRequest)

	rr = env.doAs(t, tok, "PUT", "/api/v1/auth/profile", toJSON(t, map[string]string{
		"currentPassword": testPassword, "newPassword": long,
	}))
	assertStatus(t, rr, http.StatusBadRequest)

	// The old password still works.
	login := env.do(t, "POST", "/api/v1/auth/login", toJSON(t, map[string]string{
		"email": "root@example.com", "password": testPassword,
	}))
	assertStatus(t, login, http.StatusOK)
}

func TestMeRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/api/v1/auth/me", nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	rr = env.doAs(t, "garbage.token.value", "GET", "/api/v1/auth/me", nil)
	assertStatus(t, rr, http.StatusUnauthorized)
	if msg := errorMessage(t, rr); msg != "Invalid token" {
		t.Errorf("message = %q", msg)
	}
}

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAdmin(t, "admin@example.com", model.RoleAdmin)
	tok := env.token(t, admin)

	rr := env.doAs(t, tok, "PUT", "/api/v1/auth/profile", toJSON(t, map[string]string{"name": "Renamed"}))
	assertStatus(t, rr, http.StatusOK)
	var resp adminEnvelope
	decodeJSON(t, rr, &resp)
	if resp.Admin.Name != "Renamed" {
		t.Errorf("Name = %q", resp.Admin.Name)
	}

	rr = env.doAs(t, tok, "PUT", "/api/v1/auth/profile", toJSON(t, map[string]string{"newPassword": "another-pass"}))
	assertStatus(t, rr, http.StatusBadRequest)

	rr = env.doAs(t, tok, "PUT", "/api/v1/auth/profile", toJSON(t, map[string]string{
		"currentPassword": "wrong-current", "newPassword": "another-pass",
	}))
	assertStatus(t, rr, http.StatusBadRequest)
	if msg := errorMessage(t, rr); msg != "Current password is incorrect" {
		t.Errorf("message = %q", msg)
	}
}

func TestUpdateProfileEmailTaken(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAdmin(t, "admin@example.com", model.RoleAdmin)
	env.seedAdmin(t, "other@example.com", model.RoleAdmin)

	rr := env.doAs(t, env.token(t, admin), "PUT", "/api/v1/auth/profile", toJSON(t, map[string]string{
		"email": "other@example.com",
	}))
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAdmin(t, "admin@example.com", model.RoleAdmin)
	tok := env.token(t, admin)

	rr := env.doAs(t, tok, "POST", "/api/v1/auth/change-password", toJSON(t, map[string]string{
		"currentPassword": testPassword, "newPassword": "brand-new-pass", "confirmPassword": "different",
	}))
	assertStatus(t, rr, http.StatusBadRequest)
	if msg := errorMessage(t, rr); msg != "New passwords do not match" {
		t.Errorf("message = %q", msg)
	}

	rr = env.doAs(t, tok, "POST", "/api/v1/auth/change-password", toJSON(t, map[string]string{
		"currentPassword": "wrong", "newPassword": "brand-new-pass", "confirmPassword": "brand-new-pass",
	}))
	assertStatus(t, rr, http.StatusBadRequest)

	rr = env.doAs(t, tok, "POST", "/api/v1/auth/change-password", toJSON(t, map[string]string{
		"currentPassword": testPassword, "newPassword": "brand-new-pass", "confirmPassword": "brand-new-pass",
	}))
	assertStatus(t, rr, http.StatusOK)

	login := env.do(t, "POST", "/api/v1/auth/login", toJSON(t, map[string]string{
		"email": "admin@example.com", "password": "brand-new-pass",
	}))
	assertStatus(t, login, http.StatusOK)
}

func TestLogoutStampsTime(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAdmin(t, "admin@example.com", model.RoleAdmin)
	tok := env.token(t, admin)

	rr := env.doAs(t, tok, "POST", "/api/v1/auth/logout", nil)
	assertStatus(t, rr, http.StatusOK)

	got, err := env.store.GetAdmin(context.Background(), admin.ID)
	if err != nil {
		t.Fatalf("GetAdmin: %v", err)
	}
	if got.LastLogoutAt == nil {
		t.Error("LastLogoutAt not set")
	}

	// Tokens are stateless: the same token still authenticates.
	assertStatus(t, env.doAs(t, tok, "GET", "/api/v1/auth/me", nil), http.StatusOK)
}
