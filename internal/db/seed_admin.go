package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/geocoder89/storefront/internal/auth"
	"github.com/geocoder89/storefront/internal/config"
	"github.com/geocoder89/storefront/internal/domain/user"
)

type adminStore interface {
	FindByEmail(ctx context.Context, email string) (user.User, error)
}

// EnsureAdminUser creates the bootstrap admin from ADMIN_EMAIL/ADMIN_PASSWORD
// when no account with that email exists yet. Works against any store.
func EnsureAdminUser(ctx context.Context, store adminStore, svc *auth.Service, cfg config.Config, log *slog.Logger) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	// check if the user exists
	_, err := store.FindByEmail(ctx, cfg.AdminEmail)

	if err == nil {
		return nil
	}

	if !errors.Is(err, user.ErrNotFound) {
		return fmt.Errorf("lookup admin: %w", err)
	}

	name := cfg.AdminName
	if name == "" {
		name = "Administrator"
	}

	// synthetic actor; only process config reaches this path
	admin := user.User{IsActive: true, IsAdmin: true}

	u, err := svc.RegisterElevated(ctx, auth.ElevatedInput{
		RegisterInput: auth.RegisterInput{Name: name, Email: cfg.AdminEmail, Password: cfg.AdminPassword},
		Role:          string(user.RoleAdmin),
	}, &admin)

	if err != nil {
		if errors.Is(err, auth.ErrConflict) {
			return nil
		}
		return fmt.Errorf("create admin: %w", err)
	}

	log.InfoContext(ctx, "bootstrap admin created", "user_id", u.ID, "email", u.Email)
	return nil
}
