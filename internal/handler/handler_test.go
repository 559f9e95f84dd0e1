package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/soetuniversity/portal/internal/config"
	"github.com/soetuniversity/portal/internal/model"
	"github.com/soetuniversity/portal/internal/password"
	"github.com/soetuniversity/portal/internal/server/middleware"
	"github.com/soetuniversity/portal/internal/service"
	"github.com/soetuniversity/portal/internal/upload"
)

const (
	testJWTSecret = "test-secret-for-handler-tests"
	testPassword  = "supersecretpassword"
)

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store   *config.Store
	authSvc *service.AuthService
	objects *memObjects
	router  chi.Router
}

// newTestEnv creates a fresh test environment with an in-memory store and
// the portal routes mounted behind the real authorization gate.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := config.Open(config.StoreConfig{Driver: config.DialectSQLite, Hasher: password.New(4)})
	if err != nil {
		t.Fatalf("config.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authSvc := service.NewAuthService(store, service.AuthConfig{
		JWTSecret: []byte(testJWTSecret),
		Hasher:    store.Hasher(),
		Logger:    logger,
	})
	objects := newMemObjects()

	authH := NewAuthHandler(authSvc, logger)
	adminH := NewAdminHandler(store, authSvc, logger)
	annH := NewAnnouncementHandler(store, logger)
	uploadH := NewUploadHandler(objects, 1024, logger)

	authenticated := middleware.Authenticated(authSvc, logger)
	manageUsers := middleware.RequirePermission(authSvc, model.PermManageUsers, logger)
	manageContent := middleware.RequirePermission(authSvc, model.PermManageContent, logger)
	superAdmin := middleware.RequireRole(authSvc, logger, model.RoleSuperAdmin)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authH.Login)
			r.With(superAdmin).Post("/register", authH.Register)
			r.Group(func(r chi.Router) {
				r.Use(authenticated)
				r.Get("/me", authH.Me)
				r.Put("/profile", authH.UpdateProfile)
				r.Post("/change-password", authH.ChangePassword)
				r.Post("/logout", authH.Logout)
			})
		})
		r.Route("/admins", func(r chi.Router) {
			r.With(manageUsers).Get("/", adminH.ListAdmins)
			r.With(manageUsers).Get("/{adminId}", adminH.GetAdmin)
			r.With(manageUsers).Put("/{adminId}/permissions", adminH.SetPermissions)
			r.With(manageUsers).Post("/{adminId}/unlock", adminH.Unlock)
			r.With(superAdmin).Post("/{adminId}/deactivate", adminH.Deactivate)
			r.With(superAdmin).Post("/{adminId}/activate", adminH.Activate)
			r.With(superAdmin).Put("/{adminId}/role", adminH.SetRole)
		})
		r.Route("/announcements", func(r chi.Router) {
			r.With(middleware.OptionalAuth(authSvc)).Get("/", annH.ListAnnouncements)
			r.With(middleware.OptionalAuth(authSvc)).Get("/{id}", annH.GetAnnouncement)
			r.With(manageContent).Post("/", annH.CreateAnnouncement)
			r.With(manageContent).Put("/{id}", annH.UpdateAnnouncement)
			r.With(manageContent).Delete("/{id}", annH.DeleteAnnouncement)
		})
		r.Route("/uploads", func(r chi.Router) {
			r.Use(manageContent)
			r.Post("/", uploadH.Upload)
			r.Delete("/*", uploadH.Delete)
		})
	})

	return &testEnv{
		store:   store,
		authSvc: authSvc,
		objects: objects,
		router:  r,
	}
}

// seedAdmin creates an active account with testPassword and returns it.
func (e *testEnv) seedAdmin(t *testing.T, email string, role model.Role, perms ...model.Permission) *model.Admin {
	t.Helper()
	admin := &model.Admin{
		Username:    model.UsernameFromEmail(email),
		Email:       email,
		Name:        "Test Admin",
		Password:    testPassword,
		Role:        role,
		Permissions: perms,
		IsActive:    true,
	}
	if err := e.store.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	return admin
}

// token issues a bearer token for admin.
func (e *testEnv) token(t *testing.T, admin *model.Admin) string {
	t.Helper()
	tok, _, err := e.authSvc.Tokens().Issue(admin.ID, admin.Email, admin.Role, 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	return e.doAs(t, "", method, path, body)
}

// doAs executes a request carrying the given bearer token.
func (e *testEnv) doAs(t *testing.T, token, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp model.ErrorResponse
	decodeJSON(t, rr, &resp)
	return resp.Error.Message
}

// memObjects is an in-memory upload.ObjectStore.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}}
}

func (m *memObjects) Put(_ context.Context, name, contentType string, size int64, body io.Reader) (*upload.Object, error) {
	if !upload.Allowed(contentType) {
		return nil, upload.ErrContentType
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	handle := upload.NewHandle(name, contentType)
	m.mu.Lock()
	m.objects[handle] = data
	m.mu.Unlock()
	return &upload.Object{
		Handle:      handle,
		URL:         "https://files.example.com/" + handle,
		Name:        name,
		Size:        size,
		ContentType: contentType,
	}, nil
}

func (m *memObjects) Delete(_ context.Context, handle string) error {
	if !upload.ValidHandle(handle) {
		return upload.ErrInvalidHandle
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[handle]; !ok {
		return upload.ErrNotFound
	}
	delete(m.objects, handle)
	return nil
}
