package service

import "errors"

// Login failures. Callers surface all of them as 401; only ErrAccountLocked
// and ErrAccountDisabled carry a distinct client message.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account temporarily locked")
	ErrAccountDisabled    = errors.New("account disabled")
)

// Gate failures. Everything except ErrForbidden is an authentication failure.
var (
	ErrMissingToken       = errors.New("missing bearer token")
	ErrMalformedToken     = errors.New("malformed token")
	ErrBadSignature       = errors.New("invalid token signature")
	ErrTokenExpired       = errors.New("token expired")
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountDeactivated = errors.New("account deactivated")
	ErrForbidden          = errors.New("insufficient permissions")
)

// Credential maintenance failures.
var (
	ErrPasswordMismatch        = errors.New("passwords do not match")
	ErrWrongPassword           = errors.New("current password is incorrect")
	ErrCurrentPasswordRequired = errors.New("current password is required to set a new password")
	ErrSelfModification        = errors.New("cannot change own role or status")
	ErrAlreadyBootstrapped     = errors.New("a super admin already exists")
)

// IsUnauthenticated reports whether err means the caller has not proven who
// they are.
func IsUnauthenticated(err error) bool {
	for _, target := range []error{
		ErrInvalidCredentials, ErrAccountLocked, ErrAccountDisabled,
		ErrMissingToken, ErrMalformedToken, ErrBadSignature, ErrTokenExpired,
		ErrAccountNotFound, ErrAccountDeactivated,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
