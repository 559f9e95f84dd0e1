package handler

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/soetuniversity/portal/internal/model"
	"github.com/soetuniversity/portal/internal/server/middleware"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	maxPage         = 100000 // bounds (page-1)*limit
)

// AnnouncementStore persists announcements. *config.Store satisfies it.
type AnnouncementStore interface {
	CreateAnnouncement(ctx context.Context, a *model.Announcement) error
	GetAnnouncement(ctx context.Context, id int64) (*model.Announcement, error)
	UpdateAnnouncement(ctx context.Context, a *model.Announcement) error
	DeleteAnnouncement(ctx context.Context, id int64) error
	ListAnnouncements(ctx context.Context, f model.AnnouncementFilter) ([]model.Announcement, int64, error)
}

// AnnouncementHandler serves /api/v1/announcements. Reads are public and
// writes are gated by manage_content.
type AnnouncementHandler struct {
	store  AnnouncementStore
	logger *slog.Logger
	now    func() time.Time
}

// NewAnnouncementHandler creates a new AnnouncementHandler.
func NewAnnouncementHandler(store AnnouncementStore, logger *slog.Logger) *AnnouncementHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnnouncementHandler{store: store, logger: logger, now: time.Now}
}

// announcementInput carries create and update payloads. Nil fields are left
// unchanged on update.
type announcementInput struct {
	Title       *string             `json:"title"`
	Content     *string             `json:"content"`
	Category    *string             `json:"category"`
	Priority    *string             `json:"priority"`
	IsActive    *bool               `json:"is_active"`
	IsPinned    *bool               `json:"is_pinned"`
	PublishDate *time.Time          `json:"publish_date"`
	ExpiryDate  *time.Time          `json:"expiry_date"`
	Attachments *[]model.Attachment `json:"attachments"`
}

func (in announcementInput) apply(a *model.Announcement) {
	if in.Title != nil {
		a.Title = *in.Title
	}
	if in.Content != nil {
		a.Content = *in.Content
	}
	if in.Category != nil {
		a.Category = *in.Category
	}
	if in.Priority != nil {
		a.Priority = *in.Priority
	}
	if in.IsActive != nil {
		a.IsActive = *in.IsActive
	}
	if in.IsPinned != nil {
		a.IsPinned = *in.IsPinned
	}
	if in.PublishDate != nil {
		a.PublishDate = *in.PublishDate
	}
	if in.ExpiryDate != nil {
		a.ExpiryDate = in.ExpiryDate
	}
	if in.Attachments != nil {
		a.Attachments = *in.Attachments
	}
}

// ListAnnouncements returns a filtered page of announcements. Anonymous
// callers only ever see visible items.
// GET /api/v1/announcements
func (h *AnnouncementHandler) ListAnnouncements(w http.ResponseWriter, r *http.Request) {
	category := queryString(r, "category")
	if category != "" && !slices.Contains(model.AnnouncementCategories, category) {
		writeError(w, http.StatusBadRequest, "Invalid announcement category")
		return
	}
	priority := queryString(r, "priority")
	if priority != "" && !slices.Contains(model.AnnouncementPriorities, priority) {
		writeError(w, http.StatusBadRequest, "Invalid priority level")
		return
	}

	limit := clampInt(queryInt(r, "limit", defaultPageSize), 1, maxPageSize)
	page := clampInt(queryInt(r, "page", 1), 1, maxPage)

	activeOnly := true
	if queryString(r, "active_only") == "false" && middleware.GetPrincipal(r.Context()) != nil {
		activeOnly = false
	}

	f := model.AnnouncementFilter{
		Category:   category,
		Priority:   priority,
		Search:     queryString(r, "search"),
		PinnedOnly: queryBool(r, "pinned"),
		ActiveOnly: activeOnly,
		Now:        h.now(),
		Limit:      limit,
		Offset:     (page - 1) * limit,
	}

	items, total, err := h.store.ListAnnouncements(r.Context(), f)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: items,
		Meta: &model.ResponseMeta{
			Count:  len(items),
			Total:  &total,
			Limit:  f.Limit,
			Offset: f.Offset,
		},
	})
}

// GetAnnouncement returns one announcement.
// GET /api/v1/announcements/{id}
func (h *AnnouncementHandler) GetAnnouncement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid announcement ID")
		return
	}
	a, err := h.store.GetAnnouncement(r.Context(), id)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if middleware.GetPrincipal(r.Context()) == nil && !a.Visible(h.now()) {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// CreateAnnouncement publishes a new announcement.
// POST /api/v1/announcements
func (h *AnnouncementHandler) CreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	var in announcementInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	a := &model.Announcement{IsActive: true}
	in.apply(a)
	if p := middleware.GetPrincipal(r.Context()); p != nil {
		a.CreatedBy = p.ID
	}

	if err := h.store.CreateAnnouncement(r.Context(), a); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	h.logger.Info("announcement created", "announcement_id", a.ID, "admin_id", a.CreatedBy)
	writeJSON(w, http.StatusCreated, a)
}

// UpdateAnnouncement applies a partial update.
// PUT /api/v1/announcements/{id}
func (h *AnnouncementHandler) UpdateAnnouncement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid announcement ID")
		return
	}
	var in announcementInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	a, err := h.store.GetAnnouncement(r.Context(), id)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	in.apply(a)
	if p := middleware.GetPrincipal(r.Context()); p != nil {
		modifier := p.ID
		a.ModifiedBy = &modifier
	}

	if err := h.store.UpdateAnnouncement(r.Context(), a); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// DeleteAnnouncement removes an announcement.
// DELETE /api/v1/announcements/{id}
func (h *AnnouncementHandler) DeleteAnnouncement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid announcement ID")
		return
	}
	if err := h.store.DeleteAnnouncement(r.Context(), id); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	h.logger.Info("announcement deleted", "announcement_id", id)
	writeMessage(w, "Announcement deleted")
}
