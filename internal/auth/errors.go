package auth

import "errors"

// Auth-specific errors
var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token has expired")
	ErrMissingSecret = errors.New("jwt secret is not configured")
)
