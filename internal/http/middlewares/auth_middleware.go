package middlewares

import (
	"context"
	"net/http"
	"strings"

	"github.com/geocoder89/storefront/internal/actorctx"
	"github.com/geocoder89/storefront/internal/auth"
	"github.com/geocoder89/storefront/internal/domain/user"
	"github.com/gin-gonic/gin"
)

// Keep this small interface so tests can fake it easily.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (user.User, error)
}

type AuthMiddleware struct {
	auth Authenticator
}

func NewAuthMiddleware(a Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: a}
}

// RequireAuth resolves the bearer token to the live user record and stashes it.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", "Not authorized, no token")
			return
		}

		if !m.authenticate(c, raw) {
			return
		}

		c.Next()
	}
}

// OptionalAuth authenticates when a bearer token is present and otherwise lets
// the request through anonymously. A bad token is still rejected.
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}

		if !m.authenticate(c, raw) {
			return
		}

		c.Next()
	}
}

func (m *AuthMiddleware) authenticate(c *gin.Context, raw string) bool {
	u, err := m.auth.Authenticate(c.Request.Context(), raw)
	if err != nil {
		abortAuthError(c, err)
		return false
	}

	c.Set(CtxUser, u)
	c.Request = c.Request.WithContext(actorctx.WithUserID(c.Request.Context(), u.ID))

	return true
}

func bearerToken(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}

	raw := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return raw, raw != ""
}

// Helpers so handlers don't need to know the magic keys.

func UserFromContext(c *gin.Context) (user.User, bool) {
	v, ok := c.Get(CtxUser)
	if !ok {
		return user.User{}, false
	}
	u, ok := v.(user.User)
	return u, ok
}

func UserIDFromContext(c *gin.Context) (string, bool) {
	u, ok := UserFromContext(c)
	if !ok || u.ID == "" {
		return "", false
	}
	return u.ID, true
}

var _ Authenticator = (*auth.Service)(nil)
