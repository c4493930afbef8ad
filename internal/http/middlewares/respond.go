package middlewares

import (
	"errors"
	"net/http"

	"github.com/geocoder89/storefront/internal/auth"
	"github.com/gin-gonic/gin"
)

func abortWithError(c *gin.Context, status int, code, message string) {
	reqID, _ := c.Get(CtxRequestID)
	id, _ := reqID.(string)

	body := gin.H{
		"code":    code,
		"message": message,
	}
	if id != "" {
		body["requestId"] = id
	}

	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

// abortAuthError keeps messages coarse; the reason is only logged.
func abortAuthError(c *gin.Context, err error) {
	_ = c.Error(err)

	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		abortWithError(c, http.StatusUnauthorized, "token_expired", "Token expired")
	case errors.Is(err, auth.ErrUnauthenticated):
		abortWithError(c, http.StatusUnauthorized, "unauthorized", "Not authorized, token failed")
	case errors.Is(err, auth.ErrAccountInactive):
		abortWithError(c, http.StatusForbidden, "account_inactive", "Account is deactivated")
	case errors.Is(err, auth.ErrForbidden):
		abortWithError(c, http.StatusForbidden, "forbidden", "Insufficient permissions")
	default:
		abortWithError(c, http.StatusInternalServerError, "internal_error", "Could not authenticate request")
	}
}
