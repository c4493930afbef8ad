package handlers

import (
	"errors"
	"net/http"

	"github.com/geocoder89/storefront/internal/auth"
	"github.com/geocoder89/storefront/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	v, ok := ctx.Get(middlewares.CtxRequestID)

	if ok {
		s, ok := v.(string)
		if ok && s != "" {
			return s
		}
	}

	// fallback header
	return ctx.GetHeader("X-Request-Id")
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			RequestID: requestIDFrom(ctx),
			Details:   details,
		},
	})
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondUnauthorized(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusUnauthorized, code, message, nil)
}

func RespondForbidden(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusForbidden, code, message, nil)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, "not_found", message, nil)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}

func RespondConflict(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusConflict, code, message, nil)
}

// RespondServiceError maps auth errors to a status and a coarse message. The
// underlying error is attached to the gin context for the request log only.
func RespondServiceError(ctx *gin.Context, err error) {
	_ = ctx.Error(err)

	var verr *auth.ValidationError

	switch {
	case errors.As(err, &verr):
		RespondBadRequest(ctx, verr.Message, gin.H{"fields": []FieldError{{Field: verr.Field, Rule: "invalid", Message: verr.Message}}})
	case errors.Is(err, auth.ErrValidation):
		RespondBadRequest(ctx, "Invalid request", nil)
	case errors.Is(err, auth.ErrInvalidCredentials):
		RespondUnauthorized(ctx, "invalid_credentials", "Invalid email or password")
	case errors.Is(err, auth.ErrAccountLocked):
		RespondError(ctx, http.StatusLocked, "account_locked", "Account temporarily locked due to too many failed login attempts", nil)
	case errors.Is(err, auth.ErrExpiredToken):
		RespondUnauthorized(ctx, "token_expired", "Token expired")
	case errors.Is(err, auth.ErrUnauthenticated):
		RespondUnauthorized(ctx, "unauthorized", "Not authorized, token failed")
	case errors.Is(err, auth.ErrAccountInactive):
		RespondForbidden(ctx, "account_inactive", "Account is deactivated")
	case errors.Is(err, auth.ErrForbidden):
		RespondForbidden(ctx, "forbidden", "Insufficient permissions")
	case errors.Is(err, auth.ErrConflict):
		RespondConflict(ctx, "email_taken", "User already exists")
	case errors.Is(err, auth.ErrNotFound):
		RespondNotFound(ctx, "User not found")
	default:
		RespondInternal(ctx, "Something went wrong")
	}
}
