package user

import (
	"time"

	"github.com/google/uuid"
)

// New builds an active account with the role's default permissions applied.
func New(name, email, passwordHash string, role Role, now time.Time) User {
	u := User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	u.ApplyRole(role)

	return u
}
