package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/soetuniversity/portal/internal/model"
	"github.com/soetuniversity/portal/internal/server/middleware"
	"github.com/soetuniversity/portal/internal/service"
)

// Authenticator is the part of the auth service the session routes call.
// *service.AuthService satisfies it.
type Authenticator interface {
	Login(ctx context.Context, email, plain string) (*service.LoginResult, error)
	Register(ctx context.Context, actor *model.Admin, in service.RegisterInput) (*model.Admin, error)
	UpdateProfile(ctx context.Context, actor *model.Admin, in service.ProfileInput) (*model.Admin, error)
	ChangePassword(ctx context.Context, actor *model.Admin, current, next, confirm string) error
	Logout(ctx context.Context, actor *model.Admin) error
}

// AuthHandler serves the login, registration and self-service routes under
// /api/v1/auth.
type AuthHandler struct {
	auth   Authenticator
	logger *slog.Logger
	now    func() time.Time
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth Authenticator, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{auth: auth, logger: logger, now: time.Now}
}

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response payload for a successful login.
type loginResponse struct {
	Token     string       `json:"token"`
	TokenType string       `json:"token_type"`
	ExpiresIn int64        `json:"expires_in"`
	ExpiresAt time.Time    `json:"expires_at"`
	Admin     *model.Admin `json:"admin"`
}

type adminEnvelope struct {
	Admin *model.Admin `json:"admin"`
}

// Login authenticates an admin and returns a bearer token.
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	expiresIn := int64(res.ExpiresAt.Sub(h.now()).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     res.Token,
		TokenType: "Bearer",
		ExpiresIn: expiresIn,
		ExpiresAt: res.ExpiresAt,
		Admin:     res.Admin,
	})
}

type registerRequest struct {
	Name        string             `json:"name"`
	Username    string             `json:"username"`
	Email       string             `json:"email"`
	Password    string             `json:"password"`
	Role        model.Role         `json:"role"`
	Permissions []model.Permission `json:"permissions"`
}

// Register creates a new admin account. Only super admins reach it, but the
// service checks the actor again.
// POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	admin, err := h.auth.Register(r.Context(), middleware.GetAccount(r.Context()), service.RegisterInput{
		Name:        req.Name,
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		Role:        req.Role,
		Permissions: req.Permissions,
	})
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, adminEnvelope{Admin: admin})
}

// Me returns the calling account as loaded by the gate.
// GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	admin := middleware.GetAccount(r.Context())
	if admin == nil {
		writeError(w, http.StatusUnauthorized, "Access denied. No token provided.")
		return
	}
	writeJSON(w, http.StatusOK, adminEnvelope{Admin: admin})
}

type profileRequest struct {
	Name            *string `json:"name"`
	Email           *string `json:"email"`
	CurrentPassword string  `json:"currentPassword"`
	NewPassword     string  `json:"newPassword"`
}

// UpdateProfile edits the caller's name, email or password.
// PUT /api/v1/auth/profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	admin, err := h.auth.UpdateProfile(r.Context(), middleware.GetAccount(r.Context()), service.ProfileInput{
		Name:            req.Name,
		Email:           req.Email,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, adminEnvelope{Admin: admin})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// ChangePassword replaces the caller's password.
// POST /api/v1/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" || req.ConfirmPassword == "" {
		writeError(w, http.StatusBadRequest, "Current, new and confirmation passwords are required")
		return
	}

	err := h.auth.ChangePassword(r.Context(), middleware.GetAccount(r.Context()),
		req.CurrentPassword, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeMessage(w, "Password changed successfully")
}

// Logout stamps the caller's last logout time. Since tokens are stateless
// the client must discard its token.
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), middleware.GetAccount(r.Context())); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeMessage(w, "Logged out successfully")
}
