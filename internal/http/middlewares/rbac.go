package middlewares

import (
	"net/http"

	"github.com/geocoder89/storefront/internal/auth"
	"github.com/geocoder89/storefront/internal/domain/user"
	"github.com/gin-gonic/gin"
)

// Guards run after RequireAuth and check the live record it stashed.

func RequirePermission(p user.Permission) gin.HandlerFunc {
	return guard(func(u user.User) error { return auth.RequirePermission(u, p) })
}

func RequireAnyPermission(perms ...user.Permission) gin.HandlerFunc {
	return guard(func(u user.User) error { return auth.RequireAnyPermission(u, perms...) })
}

func RequireRole(roles ...user.Role) gin.HandlerFunc {
	return guard(func(u user.User) error { return auth.RequireRole(u, roles...) })
}

func guard(check func(user.User) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := UserFromContext(c)
		if !ok {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", "Missing identity context")
			return
		}

		if err := check(u); err != nil {
			abortAuthError(c, err)
			return
		}

		c.Next()
	}
}
