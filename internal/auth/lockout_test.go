package auth

import (
	"testing"
	"time"

	"github.com/geocoder89/storefront/internal/domain/user"
)

func TestLockoutPolicy_LocksAtMax(t *testing.T) {
	p := NewLockoutPolicy(0, 0)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	var s user.LoginState
	for i := 1; i < DefaultMaxLoginAttempts; i++ {
		s = p.OnFailure(s, now)
		if s.LoginAttempts != i {
			t.Fatalf("attempt %d: got %d", i, s.LoginAttempts)
		}
		if p.State(s, now) != LockOpen {
			t.Fatalf("attempt %d: locked too early", i)
		}
	}

	s = p.OnFailure(s, now)
	if p.State(s, now) != LockLocked {
		t.Fatalf("expected lock after %d failures, state=%v", DefaultMaxLoginAttempts, p.State(s, now))
	}
	if !s.LockUntil.Equal(now.Add(DefaultLockDuration)) {
		t.Fatalf("lockUntil got %v", s.LockUntil)
	}
}

func TestLockoutPolicy_ActiveLockNotExtended(t *testing.T) {
	p := NewLockoutPolicy(3, time.Hour)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(10 * time.Minute)

	s := p.OnFailure(user.LoginState{LoginAttempts: 3, LockUntil: &until}, now)

	if !s.LockUntil.Equal(until) {
		t.Fatalf("lock was moved to %v", s.LockUntil)
	}
}

func TestLockoutPolicy_ExpiredLockRestartsAtOne(t *testing.T) {
	p := NewLockoutPolicy(5, 2*time.Hour)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Second)

	s := user.LoginState{LoginAttempts: 5, LockUntil: &expired}
	if p.State(s, now) != LockExpired {
		t.Fatalf("expected expired lock state")
	}

	s = p.OnFailure(s, now)

	if s.LoginAttempts != 1 {
		t.Fatalf("attempts got %d, want 1", s.LoginAttempts)
	}
	if s.LockUntil != nil {
		t.Fatalf("lockUntil should be cleared")
	}
}

func TestLockoutPolicy_SuccessResets(t *testing.T) {
	p := NewLockoutPolicy(5, 2*time.Hour)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(time.Hour)

	s := p.OnSuccess(user.LoginState{LoginAttempts: 4, LockUntil: &until}, now)

	if s.LoginAttempts != 0 || s.LockUntil != nil {
		t.Fatalf("not reset: %+v", s)
	}
	if s.LastLogin == nil || !s.LastLogin.Equal(now) {
		t.Fatalf("lastLogin got %v", s.LastLogin)
	}
}
