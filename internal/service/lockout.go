package service

import (
	"time"

	"github.com/soetuniversity/portal/internal/model"
)

const (
	DefaultMaxAttempts  = 5
	DefaultLockDuration = 2 * time.Hour
)

// LockoutPolicy turns a stream of login outcomes for one account into a
// may-attempt decision. It is pure: persisting the returned state is the
// caller's job.
type LockoutPolicy struct {
	MaxAttempts  int
	LockDuration time.Duration
	Now          func() time.Time
}

// DefaultLockoutPolicy locks an account for two hours after five consecutive
// failures.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		MaxAttempts:  DefaultMaxAttempts,
		LockDuration: DefaultLockDuration,
		Now:          time.Now,
	}
}

func (p LockoutPolicy) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

func (p LockoutPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p LockoutPolicy) lockDuration() time.Duration {
	if p.LockDuration <= 0 {
		return DefaultLockDuration
	}
	return p.LockDuration
}

// IsLocked reports whether state holds a lock that has not yet elapsed.
func (p LockoutPolicy) IsLocked(state model.LockoutState) bool {
	return state.LockUntil != nil && state.LockUntil.After(p.now())
}

// RecordFailure returns the state after one more failed attempt. An elapsed
// lock restarts the count at 1. A live lock is returned unchanged so it can
// never be extended by further attempts.
func (p LockoutPolicy) RecordFailure(state model.LockoutState) model.LockoutState {
	now := p.now()
	if state.LockUntil != nil && !state.LockUntil.After(now) {
		return model.LockoutState{FailedAttempts: 1, Version: state.Version}
	}
	if p.IsLocked(state) {
		return state
	}

	next := model.LockoutState{FailedAttempts: state.FailedAttempts + 1, Version: state.Version}
	if next.FailedAttempts >= p.maxAttempts() {
		until := now.Add(p.lockDuration()).UTC().Truncate(time.Second)
		next.LockUntil = &until
	}
	return next
}

// RecordSuccess returns the cleared state.
func (p LockoutPolicy) RecordSuccess(state model.LockoutState) model.LockoutState {
	return model.LockoutState{Version: state.Version}
}
