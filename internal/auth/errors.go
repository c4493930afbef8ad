package auth

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")

	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrExpiredToken      = fmt.Errorf("%w: token expired", ErrUnauthenticated)
	ErrInvalidToken      = fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	ErrTokenVerification = fmt.Errorf("%w: token verification failed", ErrUnauthenticated)

	// Returned for both unknown email and wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account temporarily locked")

	ErrForbidden       = errors.New("forbidden")
	ErrAccountInactive = fmt.Errorf("%w: account has been deactivated", ErrForbidden)

	ErrConflict = errors.New("user already exists")
	ErrNotFound = errors.New("user not found")
	ErrConfig   = errors.New("auth configuration error")
)

// ValidationError names the offending input field. It matches ErrValidation
// under errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
