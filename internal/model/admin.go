package model

import (
	"regexp"
	"slices"
	"strings"
	"time"
)

// Role is the coarse access level of an admin account.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Permission is a named capability granted to an admin independent of role.
type Permission string

const (
	PermManageUsers    Permission = "manage_users"
	PermManageContent  Permission = "manage_content"
	PermViewAnalytics  Permission = "view_analytics"
	PermManageSettings Permission = "manage_settings"
	PermManageSystem   Permission = "manage_system"
)

// AllPermissions is the closed permission vocabulary.
var AllPermissions = []Permission{
	PermManageUsers,
	PermManageContent,
	PermViewAnalytics,
	PermManageSettings,
	PermManageSystem,
}

// Valid reports whether p belongs to the permission vocabulary.
func (p Permission) Valid() bool {
	return slices.Contains(AllPermissions, p)
}

// Admin represents an administrative user of the portal backend. Passwords
// are stored as bcrypt hashes.
type Admin struct {
	ID           int64        `json:"id"`
	Username     string       `json:"username"`
	Email        string       `json:"email"`
	Name         string       `json:"name"`
	PasswordHash string       `json:"-"` // bcrypt hash, never expose
	Role         Role         `json:"role"`
	Permissions  []Permission `json:"permissions"`
	IsActive     bool         `json:"is_active"`
	LastLoginAt  *time.Time   `json:"last_login_at,omitempty"`
	LastLogoutAt *time.Time   `json:"last_logout_at,omitempty"`
	CreatedBy    *int64       `json:"created_by,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`

	// Lockout bookkeeping, owned by the credential store.
	FailedAttempts int        `json:"-"`
	LockUntil      *time.Time `json:"-"`
	LockoutVersion int64      `json:"-"`

	// Password carries a plaintext password that the store hashes into
	// PasswordHash on the next create or save, then clears.
	Password string `json:"-"`
}

// IsSuperAdmin reports whether the account holds the super_admin role.
func (a *Admin) IsSuperAdmin() bool {
	return a.Role == RoleSuperAdmin
}

// HasPermission reports whether p is in the account's explicit permission
// set. It does not apply the super_admin rule.
func (a *Admin) HasPermission(p Permission) bool {
	return slices.Contains(a.Permissions, p)
}

// Lockout returns the account's current lockout state.
func (a *Admin) Lockout() LockoutState {
	return LockoutState{
		FailedAttempts: a.FailedAttempts,
		LockUntil:      a.LockUntil,
		Version:        a.LockoutVersion,
	}
}

// LockoutState is the failed-login bookkeeping embedded in an Admin.
type LockoutState struct {
	FailedAttempts int
	LockUntil      *time.Time
	Version        int64
}

const (
	UsernameMinLen    = 3
	UsernameMaxLen    = 30
	PasswordMinLength = 8
	PasswordMaxBytes  = 72 // bcrypt input limit
)

var emailPattern = regexp.MustCompile(`^\w+([.-]?\w+)*@\w+([.-]?\w+)*(\.\w{2,})+$`)

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether email has an acceptable format.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// Normalize canonicalizes user-supplied fields in place.
func (a *Admin) Normalize() {
	a.Email = NormalizeEmail(a.Email)
	a.Username = strings.TrimSpace(a.Username)
	a.Name = strings.TrimSpace(a.Name)
	if a.Role == "" {
		a.Role = RoleAdmin
	}
	if a.Permissions == nil {
		a.Permissions = []Permission{}
	}
}

// Validate checks the account's fields. It returns nil or a
// *ValidationError listing every problem found.
func (a *Admin) Validate() error {
	var v ValidationError

	switch n := len([]rune(a.Username)); {
	case n == 0:
		v.Add("username", "Username is required")
	case n < UsernameMinLen:
		v.Add("username", "Username must be at least 3 characters long")
	case n > UsernameMaxLen:
		v.Add("username", "Username cannot exceed 30 characters")
	}

	if a.Email == "" {
		v.Add("email", "Email is required")
	} else if !ValidEmail(a.Email) {
		v.Add("email", "Please enter a valid email")
	}

	if a.Password != "" {
		if err := ValidatePassword(a.Password); err != nil {
			v.Add("password", err.Error())
		}
	} else if a.PasswordHash == "" {
		v.Add("password", "Password is required")
	}

	if !a.Role.Valid() {
		v.Add("role", "Invalid role: "+string(a.Role))
	}
	for _, p := range a.Permissions {
		if !p.Valid() {
			v.Add("permissions", "Invalid permission: "+string(p))
		}
	}

	return v.OrNil()
}

// ValidatePassword enforces the length policy on a plaintext: at least 8
// characters and no more than bcrypt accepts.
func ValidatePassword(pw string) error {
	if len(pw) < PasswordMinLength {
		return &ValidationError{Fields: []FieldError{{Field: "password", Message: "Password must be at least 8 characters long"}}}
	}
	if len(pw) > PasswordMaxBytes {
		return &ValidationError{Fields: []FieldError{{Field: "password", Message: "Password cannot exceed 72 bytes"}}}
	}
	return nil
}

// UsernameFromEmail derives a username candidate from the local part of an
// email address, used when a registration omits the username.
func UsernameFromEmail(email string) string {
	local, _, _ := strings.Cut(NormalizeEmail(email), "@")
	var b strings.Builder
	for _, r := range local {
		if r == '.' || r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	name := b.String()
	for len(name) < UsernameMinLen {
		name += "_"
	}
	if len(name) > UsernameMaxLen {
		name = name[:UsernameMaxLen]
	}
	return name
}
