package service

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/soetuniversity/portal/internal/config"
	"github.com/soetuniversity/portal/internal/model"
)

// Requirement is what a route demands of its caller. The zero value only
// demands an authenticated, active account.
type Requirement struct {
	Permission model.Permission
	Roles      []model.Role
}

// RequirePermission demands one explicit permission.
func RequirePermission(p model.Permission) Requirement {
	return Requirement{Permission: p}
}

// RequireRole demands membership in one of roles.
func RequireRole(roles ...model.Role) Requirement {
	return Requirement{Roles: roles}
}

// Allows reports whether account satisfies req. A super admin satisfies
// every requirement.
func Allows(account *model.Admin, req Requirement) bool {
	if account == nil {
		return false
	}
	if account.IsSuperAdmin() {
		return true
	}
	if req.Permission != "" && !account.HasPermission(req.Permission) {
		return false
	}
	if len(req.Roles) > 0 && !slices.Contains(req.Roles, account.Role) {
		return false
	}
	return true
}

// Principal is the authenticated caller, taken from the live account record.
type Principal struct {
	ID    int64
	Email string
	Role  model.Role
}

// GateState accumulates what each gate stage establishes.
type GateState struct {
	Header    string
	Token     string
	Claims    *Claims
	Account   *model.Admin
	Principal Principal
}

// Stage is one step of the authorization gate.
type Stage func(ctx context.Context, st *GateState) error

// Gate runs its stages in order and stops at the first failure.
type Gate struct {
	stages []Stage
}

// NewGate builds a gate from explicit stages.
func NewGate(stages ...Stage) *Gate {
	return &Gate{stages: stages}
}

// Run applies the gate to an Authorization header value.
func (g *Gate) Run(ctx context.Context, header string) (*GateState, error) {
	st := &GateState{Header: header}
	for _, stage := range g.stages {
		if err := stage(ctx, st); err != nil {
			return st, err
		}
	}
	return st, nil
}

// Gate returns the standard gate for req: bearer extraction, token
// verification, a fresh account load, then the requirement check.
func (s *AuthService) Gate(req Requirement) *Gate {
	return NewGate(extractBearer, s.verifyToken, s.loadAccount, authorize(req))
}

// Authorize runs the standard gate for req against header.
func (s *AuthService) Authorize(ctx context.Context, header string, req Requirement) (*GateState, error) {
	return s.Gate(req).Run(ctx, header)
}

func extractBearer(_ context.Context, st *GateState) error {
	scheme, token, ok := strings.Cut(strings.TrimSpace(st.Header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrMissingToken
	}
	st.Token = token
	return nil
}

func (s *AuthService) verifyToken(_ context.Context, st *GateState) error {
	claims, err := s.tokens.Verify(st.Token)
	if err != nil {
		return err
	}
	st.Claims = claims
	return nil
}

// loadAccount re-reads the account so deactivation takes effect on tokens
// that are still unexpired.
func (s *AuthService) loadAccount(ctx context.Context, st *GateState) error {
	id, err := st.Claims.AccountID()
	if err != nil {
		return err
	}
	account, err := s.store.GetAdmin(ctx, id)
	if errors.Is(err, config.ErrNotFound) {
		return ErrAccountNotFound
	}
	if err != nil {
		return err
	}
	if !account.IsActive {
		return ErrAccountDeactivated
	}
	st.Account = account
	st.Principal = Principal{ID: account.ID, Email: account.Email, Role: account.Role}
	return nil
}

func authorize(req Requirement) Stage {
	return func(_ context.Context, st *GateState) error {
		if !Allows(st.Account, req) {
			return ErrForbidden
		}
		return nil
	}
}
