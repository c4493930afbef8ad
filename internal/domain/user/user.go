package user

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email is already in use")
)

type ShippingAddress struct {
	Address    string `json:"address,omitempty" bson:"address,omitempty"`
	City       string `json:"city,omitempty" bson:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty" bson:"postal_code,omitempty"`
	Country    string `json:"country,omitempty" bson:"country,omitempty"`
}

type User struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Email           string          `json:"email"`
	PasswordHash    string          `json:"-"` // never expose hash in JSON
	Role            Role            `json:"role"`
	IsAdmin         bool            `json:"isAdmin"`
	Permissions     []Permission    `json:"permissions"`
	IsActive        bool            `json:"isActive"`
	LoginAttempts   int             `json:"-"`
	LockUntil       *time.Time      `json:"-"`
	LastLogin       *time.Time      `json:"lastLogin,omitempty"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// LoginState is the slice of a user record owned by the lockout policy.
// Stores apply changes to it atomically, separate from profile saves.
type LoginState struct {
	LoginAttempts int
	LockUntil     *time.Time
	LastLogin     *time.Time
}

func (u User) LoginState() LoginState {
	return LoginState{
		LoginAttempts: u.LoginAttempts,
		LockUntil:     u.LockUntil,
		LastLogin:     u.LastLogin,
	}
}

func (u *User) SetLoginState(s LoginState) {
	u.LoginAttempts = s.LoginAttempts
	u.LockUntil = s.LockUntil
	u.LastLogin = s.LastLogin
}

// IsLocked is recomputed on every call; an expired lock reads as unlocked.
func (u User) IsLocked(now time.Time) bool {
	return u.LockUntil != nil && u.LockUntil.After(now)
}

// HasPermission reports whether u holds p. Admins hold every permission.
func (u User) HasPermission(p Permission) bool {
	if u.IsAdmin {
		return true
	}

	for _, held := range u.Permissions {
		if held == p {
			return true
		}
	}

	return false
}

func (u User) HasAnyPermission(perms ...Permission) bool {
	if u.IsAdmin {
		return true
	}

	for _, p := range perms {
		if u.HasPermission(p) {
			return true
		}
	}

	return false
}

// HasRole checks the exact role only; permissions and IsAdmin are ignored.
func (u User) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}

	return false
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ListFilter pages users ordered by (CreatedAt, ID). A zero After* starts at
// the beginning.
type ListFilter struct {
	Limit          int
	AfterCreatedAt time.Time
	AfterID        string
}
