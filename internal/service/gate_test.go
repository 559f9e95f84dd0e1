package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soetuniversity/portal/internal/model"
)

func TestAllows(t *testing.T) {
	super := &model.Admin{Role: model.RoleSuperAdmin}
	editor := &model.Admin{Role: model.RoleAdmin, Permissions: []model.Permission{model.PermManageContent}}
	bare := &model.Admin{Role: model.RoleAdmin}

	tests := []struct {
		name    string
		account *model.Admin
		req     Requirement
		want    bool
	}{
		{"super admin without explicit permission", super, RequirePermission(model.PermManageSystem), true},
		{"super admin on role gate", super, RequireRole(model.RoleSuperAdmin), true},
		{"permission held", editor, RequirePermission(model.PermManageContent), true},
		{"permission missing", editor, RequirePermission(model.PermManageUsers), false},
		{"role missing", editor, RequireRole(model.RoleSuperAdmin), false},
		{"role held", bare, RequireRole(model.RoleAdmin, model.RoleSuperAdmin), true},
		{"empty requirement", bare, Requirement{}, true},
		{"nil account", nil, Requirement{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Allows(tt.account, tt.req); got != tt.want {
				t.Errorf("Allows = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGateStopsAtFirstFailure(t *testing.T) {
	var ran []string
	stage := func(name string, err error) Stage {
		return func(context.Context, *GateState) error {
			ran = append(ran, name)
			return err
		}
	}
	boom := errors.New("boom")

	_, err := NewGate(stage("a", nil), stage("b", boom), stage("c", nil)).Run(context.Background(), "")
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if len(ran) != 2 || ran[1] != "b" {
		t.Errorf("stages ran: %v, want [a b]", ran)
	}
}

func TestGateBearerExtraction(t *testing.T) {
	env := newTestAuth(t)
	for _, header := range []string{"", "Bearer", "Bearer   ", "Basic dXNlcjpwYXNz", "Token abc"} {
		if _, err := env.auth.Authorize(context.Background(), header, Requirement{}); !errors.Is(err, ErrMissingToken) {
			t.Errorf("header %q: got %v, want ErrMissingToken", header, err)
		}
	}
	if _, err := env.auth.Authorize(context.Background(), "Bearer not.a.jwt", Requirement{}); !errors.Is(err, ErrMalformedToken) {
		t.Errorf("garbage token: got %v, want ErrMalformedToken", err)
	}
}

func TestGateAuthorizes(t *testing.T) {
	env := newTestAuth(t)
	ctx := context.Background()
	editor := env.createAdmin(t, "editor@x.com", "password1", model.RoleAdmin, model.PermManageContent)
	root := env.createAdmin(t, "root@x.com", "password1", model.RoleSuperAdmin)

	editorToken, _, _ := env.auth.Tokens().Issue(editor.ID, editor.Email, editor.Role, 0)
	rootToken, _, _ := env.auth.Tokens().Issue(root.ID, root.Email, root.Role, 0)

	st, err := env.auth.Authorize(ctx, "Bearer "+editorToken, RequirePermission(model.PermManageContent))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if st.Principal.ID != editor.ID || st.Account == nil {
		t.Errorf("unexpected gate state: %+v", st.Principal)
	}

	if _, err := env.auth.Authorize(ctx, "Bearer "+editorToken, RequirePermission(model.PermManageUsers)); !errors.Is(err, ErrForbidden) {
		t.Errorf("missing permission: got %v, want ErrForbidden", err)
	}
	if _, err := env.auth.Authorize(ctx, "bearer "+rootToken, RequirePermission(model.PermManageUsers)); err != nil {
		t.Errorf("super admin bypass: %v", err)
	}
}

func TestGateRechecksAccount(t *testing.T) {
	env := newTestAuth(t)
	ctx := context.Background()
	admin := env.createAdmin(t, "admin@x.com", "password1", model.RoleAdmin)

	token, _, _ := env.auth.Tokens().Issue(admin.ID, admin.Email, admin.Role, 0)
	if _, err := env.auth.Authorize(ctx, "Bearer "+token, Requirement{}); err != nil {
		t.Fatalf("active account: %v", err)
	}

	admin.IsActive = false
	if err := env.store.SaveAdmin(ctx, admin); err != nil {
		t.Fatalf("SaveAdmin: %v", err)
	}
	_, err := env.auth.Authorize(ctx, "Bearer "+token, Requirement{})
	if !errors.Is(err, ErrAccountDeactivated) {
		t.Errorf("deactivated: got %v, want ErrAccountDeactivated", err)
	}
	if !IsUnauthenticated(err) {
		t.Error("deactivated account should be an authentication failure")
	}

	ghost, _, _ := env.auth.Tokens().Issue(9999, "ghost@x.com", model.RoleSuperAdmin, 0)
	if _, err := env.auth.Authorize(ctx, "Bearer "+ghost, Requirement{}); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("deleted account: got %v, want ErrAccountNotFound", err)
	}
}

func TestGateUsesLiveRole(t *testing.T) {
	env := newTestAuth(t)
	ctx := context.Background()
	admin := env.createAdmin(t, "admin@x.com", "password1", model.RoleSuperAdmin)

	token, _, _ := env.auth.Tokens().Issue(admin.ID, admin.Email, admin.Role, 0)
	admin.Role = model.RoleAdmin
	if err := env.store.SaveAdmin(ctx, admin); err != nil {
		t.Fatalf("SaveAdmin: %v", err)
	}

	_, err := env.auth.Authorize(ctx, "Bearer "+token, RequireRole(model.RoleSuperAdmin))
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("demoted account: got %v, want ErrForbidden", err)
	}
	if IsUnauthenticated(err) {
		t.Error("forbidden must not be reported as unauthenticated")
	}
}

func TestGateExpiredToken(t *testing.T) {
	env := newTestAuth(t)
	admin := env.createAdmin(t, "admin@x.com", "password1", model.RoleAdmin)

	token, _, _ := env.auth.Tokens().Issue(admin.ID, admin.Email, admin.Role, time.Second)
	env.clock.Advance(2 * time.Second)

	if _, err := env.auth.Authorize(context.Background(), "Bearer "+token, Requirement{}); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("got %v, want ErrTokenExpired", err)
	}
}
