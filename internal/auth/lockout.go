package auth

import (
	"time"

	"github.com/geocoder89/storefront/internal/domain/user"
)

const (
	DefaultMaxLoginAttempts = 5
	DefaultLockDuration     = 2 * time.Hour
)

type LockState int

const (
	LockOpen LockState = iota
	LockLocked
	// lockUntil has passed but has not been cleared yet
	LockExpired
)

func (s LockState) String() string {
	switch s {
	case LockOpen:
		return "open"
	case LockLocked:
		return "locked"
	case LockExpired:
		return "expired_lock"
	default:
		return "unknown"
	}
}

// LockoutPolicy holds the pure transition rules for login attempts. Stores
// apply its transitions atomically via UpdateLoginState.
type LockoutPolicy struct {
	MaxAttempts  int
	LockDuration time.Duration
}

func NewLockoutPolicy(maxAttempts int, lockDuration time.Duration) LockoutPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxLoginAttempts
	}
	if lockDuration <= 0 {
		lockDuration = DefaultLockDuration
	}

	return LockoutPolicy{MaxAttempts: maxAttempts, LockDuration: lockDuration}
}

func (p LockoutPolicy) State(s user.LoginState, now time.Time) LockState {
	if s.LockUntil == nil {
		return LockOpen
	}
	if s.LockUntil.After(now) {
		return LockLocked
	}
	return LockExpired
}

// OnFailure records one failed password check.
func (p LockoutPolicy) OnFailure(s user.LoginState, now time.Time) user.LoginState {
	next := s

	switch p.State(s, now) {
	case LockExpired:
		next.LoginAttempts = 1
		next.LockUntil = nil
	case LockLocked:
		// never extend an active lock
		next.LoginAttempts++
	default:
		next.LoginAttempts++
		if next.LoginAttempts >= p.MaxAttempts {
			until := now.Add(p.LockDuration)
			next.LockUntil = &until
		}
	}

	return next
}

// OnSuccess fully resets the counters and stamps the login time.
func (p LockoutPolicy) OnSuccess(_ user.LoginState, now time.Time) user.LoginState {
	at := now
	return user.LoginState{
		LoginAttempts: 0,
		LockUntil:     nil,
		LastLogin:     &at,
	}
}
