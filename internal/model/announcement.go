package model

import (
	"slices"
	"strings"
	"time"
)

// Announcement is a notice published on the university site.
type Announcement struct {
	ID          int64        `json:"id"`
	Title       string       `json:"title"`
	Content     string       `json:"content"`
	Category    string       `json:"category"`
	Priority    string       `json:"priority"`
	IsActive    bool         `json:"is_active"`
	IsPinned    bool         `json:"is_pinned"`
	PublishDate time.Time    `json:"publish_date"`
	ExpiryDate  *time.Time   `json:"expiry_date,omitempty"`
	Attachments []Attachment `json:"attachments"`
	CreatedBy   int64        `json:"created_by"`
	ModifiedBy  *int64       `json:"modified_by,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Attachment references a file held by the object store.
type Attachment struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Handle      string `json:"handle"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

var (
	AnnouncementCategories = []string{"urgent", "academic", "administrative", "event", "examination", "admission", "general", "holiday"}
	AnnouncementPriorities = []string{"low", "medium", "high", "urgent"}
)

const (
	AnnouncementTitleMax   = 200
	AnnouncementContentMax = 5000
)

// Expired reports whether the announcement's expiry date is before now.
func (a *Announcement) Expired(now time.Time) bool {
	return a.ExpiryDate != nil && a.ExpiryDate.Before(now)
}

// Visible reports whether anonymous readers may see the announcement.
func (a *Announcement) Visible(now time.Time) bool {
	return a.IsActive && !a.PublishDate.After(now) && !a.Expired(now)
}

// Normalize fills defaults and deactivates expired announcements.
func (a *Announcement) Normalize(now time.Time) {
	a.Title = strings.TrimSpace(a.Title)
	a.Content = strings.TrimSpace(a.Content)
	if a.Priority == "" {
		a.Priority = "medium"
	}
	if a.PublishDate.IsZero() {
		a.PublishDate = now
	}
	if a.Attachments == nil {
		a.Attachments = []Attachment{}
	}
	if a.Expired(now) {
		a.IsActive = false
	}
}

// Validate checks the announcement's fields.
func (a *Announcement) Validate() error {
	var v ValidationError
	switch {
	case a.Title == "":
		v.Add("title", "Announcement title is required")
	case len([]rune(a.Title)) > AnnouncementTitleMax:
		v.Add("title", "Title cannot exceed 200 characters")
	}
	switch {
	case a.Content == "":
		v.Add("content", "Announcement content is required")
	case len([]rune(a.Content)) > AnnouncementContentMax:
		v.Add("content", "Content cannot exceed 5000 characters")
	}
	if a.Category == "" {
		v.Add("category", "Announcement category is required")
	} else if !slices.Contains(AnnouncementCategories, a.Category) {
		v.Add("category", "Invalid announcement category")
	}
	if !slices.Contains(AnnouncementPriorities, a.Priority) {
		v.Add("priority", "Invalid priority level")
	}
	return v.OrNil()
}

// AnnouncementFilter selects and paginates announcements.
type AnnouncementFilter struct {
	Category   string
	Priority   string
	Search     string
	PinnedOnly bool
	ActiveOnly bool
	Now        time.Time
	Limit      int
	Offset     int
}
