package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/soetuniversity/portal/internal/config"
	"github.com/soetuniversity/portal/internal/model"
	"github.com/soetuniversity/portal/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
	// AuthAccountKey is the context key for the freshly loaded account.
	AuthAccountKey contextKeyAuth = "auth_account"
)

// Authorizer runs the authorization gate. *service.AuthService satisfies it.
type Authorizer interface {
	Authorize(ctx context.Context, header string, req service.Requirement) (*service.GateState, error)
}

// Guard returns an HTTP middleware that admits only requests whose bearer
// token names an active account satisfying req. Authentication failures get
// 401 and authorization failures get 403.
func Guard(auth Authorizer, req service.Requirement, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st, err := auth.Authorize(r.Context(), r.Header.Get("Authorization"), req)
			if err != nil {
				status, message := gateFailure(err)
				attrs := []any{"reason", err.Error(), "path", r.URL.Path, "request_id", GetRequestID(r.Context())}
				if st != nil && st.Account != nil {
					attrs = append(attrs, "admin_id", st.Account.ID)
				}
				if status >= 500 {
					logger.Error("authorization failed", attrs...)
				} else {
					logger.Info("request denied", attrs...)
				}
				writeAuthError(w, status, message)
				return
			}
			next.ServeHTTP(w, r.WithContext(withGateState(r.Context(), st)))
		})
	}
}

// Authenticated admits any active account.
func Authenticated(auth Authorizer, logger *slog.Logger) func(http.Handler) http.Handler {
	return Guard(auth, service.Requirement{}, logger)
}

// RequirePermission admits accounts holding p, or super admins.
func RequirePermission(auth Authorizer, p model.Permission, logger *slog.Logger) func(http.Handler) http.Handler {
	return Guard(auth, service.RequirePermission(p), logger)
}

// RequireRole admits accounts holding one of roles, or super admins.
func RequireRole(auth Authorizer, logger *slog.Logger, roles ...model.Role) func(http.Handler) http.Handler {
	return Guard(auth, service.RequireRole(roles...), logger)
}

// OptionalAuth attaches the principal when a valid bearer token is present
// and otherwise lets the request through anonymously.
func OptionalAuth(auth Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header != "" {
				if st, err := auth.Authorize(r.Context(), header, service.Requirement{}); err == nil {
					r = r.WithContext(withGateState(r.Context(), st))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func withGateState(ctx context.Context, st *service.GateState) context.Context {
	p := st.Principal
	noteAdmin(ctx, p.ID)
	ctx = context.WithValue(ctx, AuthPrincipalKey, &p)
	return context.WithValue(ctx, AuthAccountKey, st.Account)
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *service.Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*service.Principal); ok {
		return p
	}
	return nil
}

// GetAccount returns the account loaded by the gate, or nil.
func GetAccount(ctx context.Context) *model.Admin {
	if a, ok := ctx.Value(AuthAccountKey).(*model.Admin); ok {
		return a
	}
	return nil
}

// gateFailure maps a gate error to a status and a client-safe message.
func gateFailure(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrMissingToken):
		return http.StatusUnauthorized, "Access denied. No token provided."
	case errors.Is(err, service.ErrTokenExpired):
		return http.StatusUnauthorized, "Token has expired"
	case errors.Is(err, service.ErrMalformedToken), errors.Is(err, service.ErrBadSignature):
		return http.StatusUnauthorized, "Invalid token"
	case errors.Is(err, service.ErrAccountNotFound), errors.Is(err, service.ErrAccountDeactivated):
		return http.StatusUnauthorized, "Invalid token or account deactivated"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "Insufficient permissions"
	case errors.Is(err, config.ErrUnavailable):
		return http.StatusServiceUnavailable, "Service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}
