package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/soetuniversity/portal/internal/model"
	"github.com/soetuniversity/portal/internal/server/middleware"
)

// AdminStore is the read side of account administration.
type AdminStore interface {
	ListAdmins(ctx context.Context) ([]model.Admin, error)
	GetAdmin(ctx context.Context, id int64) (*model.Admin, error)
}

// AdminManager applies account changes. *service.AuthService satisfies it.
type AdminManager interface {
	SetPermissions(ctx context.Context, id int64, perms []model.Permission) (*model.Admin, error)
	SetActive(ctx context.Context, actor *model.Admin, id int64, active bool) (*model.Admin, error)
	SetRole(ctx context.Context, actor *model.Admin, id int64, role model.Role) (*model.Admin, error)
	Unlock(ctx context.Context, id int64) error
}

// AdminHandler serves /api/v1/admins.
type AdminHandler struct {
	store   AdminStore
	manager AdminManager
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(store AdminStore, manager AdminManager, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{store: store, manager: manager, logger: logger}
}

// ListAdmins returns every admin account.
// GET /api/v1/admins
func (h *AdminHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.store.ListAdmins(r.Context())
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	total := int64(len(admins))
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: admins,
		Meta: &model.ResponseMeta{
			Count: len(admins),
			Total: &total,
			Limit: len(admins),
		},
	})
}

// GetAdmin returns one account.
// GET /api/v1/admins/{adminId}
func (h *AdminHandler) GetAdmin(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "adminId")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid admin ID")
		return
	}
	admin, err := h.store.GetAdmin(r.Context(), id)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, adminEnvelope{Admin: admin})
}

// SetPermissions replaces an account's permission set.
// PUT /api/v1/admins/{adminId}/permissions
func (h *AdminHandler) SetPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "adminId")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid admin ID")
		return
	}
	var req struct {
		Permissions []model.Permission `json:"permissions"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Permissions == nil {
		writeError(w, http.StatusBadRequest, "Permissions must be an array")
		return
	}

	admin, err := h.manager.SetPermissions(r.Context(), id, req.Permissions)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, adminEnvelope{Admin: admin})
}

// Unlock clears an account's lockout.
// POST /api/v1/admins/{adminId}/unlock
func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "adminId")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid admin ID")
		return
	}
	if err := h.manager.Unlock(r.Context(), id); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeMessage(w, "Account unlocked")
}

// Deactivate disables an account. Existing tokens stop working on their
// next request.
// POST /api/v1/admins/{adminId}/deactivate
func (h *AdminHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

// Activate re-enables an account.
// POST /api/v1/admins/{adminId}/activate
func (h *AdminHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *AdminHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, ok := pathID(r, "adminId")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid admin ID")
		return
	}
	admin, err := h.manager.SetActive(r.Context(), middleware.GetAccount(r.Context()), id, active)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, adminEnvelope{Admin: admin})
}

// SetRole changes an account's role.
// PUT /api/v1/admins/{adminId}/role
func (h *AdminHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "adminId")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid admin ID")
		return
	}
	var req struct {
		Role model.Role `json:"role"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Role.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid role: "+string(req.Role))
		return
	}

	admin, err := h.manager.SetRole(r.Context(), middleware.GetAccount(r.Context()), id, req.Role)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, adminEnvelope{Admin: admin})
}
