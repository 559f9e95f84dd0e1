package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/soetuniversity/portal/internal/model"
)

// announcementRow maps 1:1 to the announcements table. attachments_json
// holds the JSON-encoded []model.Attachment.
type announcementRow struct {
	ID              int64      `db:"id"`
	Title           string     `db:"title"`
	Content         string     `db:"content"`
	Category        string     `db:"category"`
	Priority        string     `db:"priority"`
	IsActive        bool       `db:"is_active"`
	IsPinned        bool       `db:"is_pinned"`
	PublishDate     time.Time  `db:"publish_date"`
	ExpiryDate      *time.Time `db:"expiry_date"`
	AttachmentsJSON string     `db:"attachments_json"`
	CreatedBy       int64      `db:"created_by"`
	ModifiedBy      *int64     `db:"modified_by"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

const announcementColumns = `id, title, content, category, priority, is_active, is_pinned,
	publish_date, expiry_date, attachments_json, created_by, modified_by, created_at, updated_at`

func announcementRowFromModel(a *model.Announcement) (announcementRow, error) {
	att, err := json.Marshal(a.Attachments)
	if err != nil {
		return announcementRow{}, fmt.Errorf("marshal attachments: %w", err)
	}
	row := announcementRow{
		ID:              a.ID,
		Title:           a.Title,
		Content:         a.Content,
		Category:        a.Category,
		Priority:        a.Priority,
		IsActive:        a.IsActive,
		IsPinned:        a.IsPinned,
		PublishDate:     a.PublishDate.UTC().Truncate(time.Second),
		AttachmentsJSON: string(att),
		CreatedBy:       a.CreatedBy,
		ModifiedBy:      a.ModifiedBy,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
	if a.ExpiryDate != nil {
		exp := a.ExpiryDate.UTC().Truncate(time.Second)
		row.ExpiryDate = &exp
	}
	return row, nil
}

func (r announcementRow) toModel() (*model.Announcement, error) {
	att := []model.Attachment{}
	if r.AttachmentsJSON != "" {
		if err := json.Unmarshal([]byte(r.AttachmentsJSON), &att); err != nil {
			return nil, fmt.Errorf("unmarshal attachments for announcement %d: %w", r.ID, err)
		}
	}
	return &model.Announcement{
		ID:          r.ID,
		Title:       r.Title,
		Content:     r.Content,
		Category:    r.Category,
		Priority:    r.Priority,
		IsActive:    r.IsActive,
		IsPinned:    r.IsPinned,
		PublishDate: r.PublishDate,
		ExpiryDate:  r.ExpiryDate,
		Attachments: att,
		CreatedBy:   r.CreatedBy,
		ModifiedBy:  r.ModifiedBy,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

// likeEscaper quotes LIKE wildcards in user search text. '!' is the escape
// character because a backslash needs doubling in MySQL string literals.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// CreateAnnouncement validates and inserts an announcement.
func (s *Store) CreateAnnouncement(ctx context.Context, a *model.Announcement) error {
	now := s.stamp()
	a.Normalize(now)
	if err := a.Validate(); err != nil {
		return err
	}
	a.CreatedAt = now
	a.UpdatedAt = now

	row, err := announcementRowFromModel(a)
	if err != nil {
		return err
	}

	const q = `INSERT INTO announcements
		(title, content, category, priority, is_active, is_pinned, publish_date, expiry_date,
		 attachments_json, created_by, modified_by, created_at, updated_at)
		VALUES
		(:title, :content, :category, :priority, :is_active, :is_pinned, :publish_date, :expiry_date,
		 :attachments_json, :created_by, :modified_by, :created_at, :updated_at)`

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	id, err := s.insert(ctx, q, row)
	if err != nil {
		return classify(ctx, "insert announcement", err)
	}
	a.ID = id
	return nil
}

// GetAnnouncement returns an announcement by ID.
func (s *Store) GetAnnouncement(ctx context.Context, id int64) (*model.Announcement, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row announcementRow
	q := s.db.Rebind("SELECT " + announcementColumns + " FROM announcements WHERE id = ?")
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		return nil, classify(ctx, "get announcement", err)
	}
	return row.toModel()
}

// UpdateAnnouncement re-validates and persists an announcement.
func (s *Store) UpdateAnnouncement(ctx context.Context, a *model.Announcement) error {
	now := s.stamp()
	a.Normalize(now)
	if err := a.Validate(); err != nil {
		return err
	}
	a.UpdatedAt = now

	row, err := announcementRowFromModel(a)
	if err != nil {
		return err
	}

	const q = `UPDATE announcements SET
		title = :title, content = :content, category = :category, priority = :priority,
		is_active = :is_active, is_pinned = :is_pinned, publish_date = :publish_date,
		expiry_date = :expiry_date, attachments_json = :attachments_json,
		modified_by = :modified_by, updated_at = :updated_at
		WHERE id = :id`

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return classify(ctx, "update announcement", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return classify(ctx, "update announcement rows affected", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAnnouncement removes an announcement by ID.
func (s *Store) DeleteAnnouncement(ctx context.Context, id int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.execOne(ctx, "delete announcement", "DELETE FROM announcements WHERE id = ?", id)
}

// ListAnnouncements returns one page of announcements matching f along with
// the total number of matches. Pinned announcements sort first, then newest
// publish date.
func (s *Store) ListAnnouncements(ctx context.Context, f model.AnnouncementFilter) ([]model.Announcement, int64, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, f.Priority)
	}
	if f.PinnedOnly {
		where = append(where, "is_pinned = ?")
		args = append(args, true)
	}
	if f.ActiveOnly {
		now := f.Now
		if now.IsZero() {
			now = s.now()
		}
		now = now.UTC().Truncate(time.Second)
		where = append(where, "is_active = ?", "publish_date <= ?", "(expiry_date IS NULL OR expiry_date >= ?)")
		args = append(args, true, now, now)
	}
	if f.Search != "" {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(f.Search)) + "%"
		where = append(where, "(LOWER(title) LIKE ? ESCAPE '!' OR LOWER(content) LIKE ? ESCAPE '!')")
		args = append(args, pattern, pattern)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var total int64
	if err := s.db.GetContext(ctx, &total, s.db.Rebind("SELECT COUNT(*) FROM announcements"+clause), args...); err != nil {
		return nil, 0, classify(ctx, "count announcements", err)
	}

	q := "SELECT " + announcementColumns + " FROM announcements" + clause +
		" ORDER BY is_pinned DESC, publish_date DESC, id DESC LIMIT ? OFFSET ?"
	pageArgs := append(append([]interface{}{}, args...), limit, f.Offset)

	var rows []announcementRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), pageArgs...); err != nil {
		return nil, 0, classify(ctx, "list announcements", err)
	}

	items := make([]model.Announcement, 0, len(rows))
	for _, r := range rows {
		a, err := r.toModel()
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *a)
	}
	return items, total, nil
}
