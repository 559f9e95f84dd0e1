package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/soetuniversity/portal/internal/config"
	"github.com/soetuniversity/portal/internal/model"
	"github.com/soetuniversity/portal/internal/password"
	"github.com/soetuniversity/portal/internal/server/middleware"
	"github.com/soetuniversity/portal/internal/service"
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// writeMessage writes the {success, message} body used by action endpoints.
func writeMessage(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": message,
	})
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryInt extracts an integer query parameter, returning defaultVal if the
// parameter is missing or cannot be parsed.
func queryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// queryString extracts a string query parameter.
func queryString(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryBool extracts a boolean query parameter. Returns false if the parameter
// is missing or not "true"/"1".
func queryBool(r *http.Request, key string) bool {
	val := r.URL.Query().Get(key)
	return val == "true" || val == "1"
}

// clampInt constrains val to be within [min, max].
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// fail maps err onto the error envelope. Errors without a known mapping are
// logged and reported as a generic 500 so internals never reach the client.
func fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Error(), map[string]interface{}{
			"fields": verr.Fields,
		})
		return
	}

	status, msg := classifyAuthError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
			"path", r.URL.Path,
		)
	}
	writeError(w, status, msg)
}

// classifyAuthError maps service and store errors to an HTTP status and a
// client-safe message.
func classifyAuthError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid credentials"
	case errors.Is(err, service.ErrAccountLocked):
		return http.StatusUnauthorized, "Account is temporarily locked due to too many failed login attempts"
	case errors.Is(err, service.ErrAccountDisabled):
		return http.StatusUnauthorized, "Account is deactivated"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "Insufficient permissions"
	case errors.Is(err, service.ErrSelfModification):
		return http.StatusBadRequest, "You cannot change your own role or deactivate your own account"
	case errors.Is(err, password.ErrTooLong):
		return http.StatusBadRequest, "Password cannot exceed 72 bytes"
	case errors.Is(err, service.ErrPasswordMismatch):
		return http.StatusBadRequest, "New passwords do not match"
	case errors.Is(err, service.ErrWrongPassword):
		return http.StatusBadRequest, "Current password is incorrect"
	case errors.Is(err, service.ErrCurrentPasswordRequired):
		return http.StatusBadRequest, "Current password is required to set a new password"
	case errors.Is(err, service.ErrAlreadyBootstrapped):
		return http.StatusConflict, "A super admin already exists"
	case errors.Is(err, config.ErrDuplicate):
		return http.StatusBadRequest, "Email or username already exists"
	case errors.Is(err, config.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, config.ErrUnavailable):
		return http.StatusServiceUnavailable, "Service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
