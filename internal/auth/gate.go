package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/geocoder89/storefront/internal/domain/user"
	"go.opentelemetry.io/otel/codes"
)

// Authenticate resolves a bearer access token to the user's current record.
// Role and permission checks then see live state, not state at issue time.
func (s *Service) Authenticate(ctx context.Context, raw string) (user.User, error) {
	ctx, span := tracer.Start(ctx, "auth.Authenticate")
	defer span.End()

	if strings.TrimSpace(raw) == "" {
		return user.User{}, ErrUnauthenticated
	}

	id, err := s.tokens.VerifyType(raw, TokenAccess)
	if err != nil {
		s.metrics.IncTokenRejection(tokenRejectionLabel(err))
		span.SetStatus(codes.Error, tokenRejectionLabel(err))
		return user.User{}, err
	}

	u, err := s.loadActive(ctx, id.UserID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return user.User{}, err
	}

	return u, nil
}

func (s *Service) loadActive(ctx context.Context, id string) (user.User, error) {
	u, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, ErrUnauthenticated
		}
		return user.User{}, fmt.Errorf("load user: %w", err)
	}

	if !u.IsActive {
		return user.User{}, ErrAccountInactive
	}

	return u, nil
}

// RequirePermission admits admins and holders of p.
func RequirePermission(u user.User, p user.Permission) error {
	if !u.HasPermission(p) {
		return ErrForbidden
	}
	return nil
}

// RequireAnyPermission admits admins and holders of at least one of perms.
func RequireAnyPermission(u user.User, perms ...user.Permission) error {
	if !u.HasAnyPermission(perms...) {
		return ErrForbidden
	}
	return nil
}

// RequireRole matches the exact role, independent of permissions.
func RequireRole(u user.User, roles ...user.Role) error {
	if !u.HasRole(roles...) {
		return ErrForbidden
	}
	return nil
}

func tokenRejectionLabel(err error) string {
	switch {
	case errors.Is(err, ErrExpiredToken):
		return "expired"
	case errors.Is(err, ErrInvalidToken):
		return "invalid"
	default:
		return "verification_failed"
	}
}
