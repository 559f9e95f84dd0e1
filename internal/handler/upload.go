package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soetuniversity/portal/internal/upload"
)

// multipartOverhead is the slack allowed above the file size for boundaries
// and headers.
const multipartOverhead = 1 << 20

// UploadHandler serves /api/v1/uploads.
type UploadHandler struct {
	store   upload.ObjectStore
	maxSize int64
	logger  *slog.Logger
}

// NewUploadHandler creates a new UploadHandler. A non-positive maxSize takes
// upload.DefaultMaxFileSize.
func NewUploadHandler(store upload.ObjectStore, maxSize int64, logger *slog.Logger) *UploadHandler {
	if maxSize <= 0 {
		maxSize = upload.DefaultMaxFileSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadHandler{store: store, maxSize: maxSize, logger: logger}
}

// Upload stores the multipart "file" field and returns its handle and URL.
// POST /api/v1/uploads
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxSize); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "File exceeds the maximum upload size")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	if header.Size > h.maxSize {
		writeError(w, http.StatusRequestEntityTooLarge, "File exceeds the maximum upload size")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		sniff := make([]byte, 512)
		n, _ := io.ReadFull(file, sniff)
		contentType = http.DetectContentType(sniff[:n])
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			fail(w, r, h.logger, err)
			return
		}
	}
	if !upload.Allowed(contentType) {
		writeError(w, http.StatusBadRequest, "File type not allowed")
		return
	}

	obj, err := h.store.Put(r.Context(), header.Filename, contentType, header.Size, file)
	if err != nil {
		if errors.Is(err, upload.ErrContentType) {
			writeError(w, http.StatusBadRequest, "File type not allowed")
			return
		}
		fail(w, r, h.logger, err)
		return
	}
	h.logger.Info("file uploaded", "handle", obj.Handle, "size", obj.Size, "content_type", obj.ContentType)
	writeJSON(w, http.StatusCreated, obj)
}

// Delete removes an uploaded file.
// DELETE /api/v1/uploads/{handle}
func (h *UploadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "*")
	err := h.store.Delete(r.Context(), handle)
	switch {
	case errors.Is(err, upload.ErrInvalidHandle):
		writeError(w, http.StatusBadRequest, "Invalid file handle")
	case errors.Is(err, upload.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case err != nil:
		fail(w, r, h.logger, err)
	default:
		writeMessage(w, "File deleted")
	}
}
