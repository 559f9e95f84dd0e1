// Package upload stores announcement attachments in an S3-compatible bucket.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// DefaultMaxFileSize bounds a single upload.
const DefaultMaxFileSize int64 = 10 << 20

// KeyPrefix namespaces every object the portal writes.
const KeyPrefix = "announcements/"

var (
	// ErrTooLarge is returned when an upload exceeds the configured size.
	ErrTooLarge = errors.New("file too large")
	// ErrContentType is returned for a file type outside the allow list.
	ErrContentType = errors.New("file type not allowed")
	// ErrInvalidHandle is returned when a handle was not issued by this package.
	ErrInvalidHandle = errors.New("invalid file handle")
	// ErrNotFound is returned when deleting a handle the bucket does not hold.
	ErrNotFound = errors.New("file not found")
)

// allowedTypes maps the accepted content types to the extension used when the
// original filename has none.
var allowedTypes = map[string]string{
	"image/jpeg":         ".jpg",
	"image/png":          ".png",
	"image/gif":          ".gif",
	"image/webp":         ".webp",
	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.ms-excel": ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": ".xlsx",
}

// Allowed reports whether contentType may be uploaded. Parameters such as
// charset are ignored.
func Allowed(contentType string) bool {
	_, ok := allowedTypes[baseType(contentType)]
	return ok
}

func baseType(contentType string) string {
	t, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(t))
}

// Object describes a stored file.
type Object struct {
	Handle      string `json:"handle"`
	URL         string `json:"url"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// ObjectStore is the storage backend behind the upload routes.
type ObjectStore interface {
	Put(ctx context.Context, name, contentType string, size int64, body io.Reader) (*Object, error)
	Delete(ctx context.Context, handle string) error
}

// NewHandle returns a fresh object key for a file called name.
func NewHandle(name, contentType string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(name, "\\", "/"))))
	if ext == "" || len(ext) > 8 {
		ext = allowedTypes[baseType(contentType)]
	}
	return KeyPrefix + uuid.NewString() + ext
}

// ValidHandle reports whether handle has the shape NewHandle produces.
func ValidHandle(handle string) bool {
	rest, ok := strings.CutPrefix(handle, KeyPrefix)
	if !ok || len(rest) < 36 || strings.ContainsAny(rest, "/\\") {
		return false
	}
	_, err := uuid.Parse(rest[:36])
	return err == nil
}

// ParseSize parses a human size such as "10MiB" or "5MB". Empty means the
// default.
func ParseSize(s string) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultMaxFileSize, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", s, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("parse size %q: must be positive", s)
	}
	return int64(n), nil
}
