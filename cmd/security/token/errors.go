package token

import "errors"

// Public, stable errors for callers.
var (
	ErrNoSecretConfigured = errors.New("token signing secret not configured")
	ErrInvalidClaims      = errors.New("token claims incomplete")

	// Verification failures. They are distinct so that a verifier can report them unambiguously.
	ErrBadFormat    = errors.New("token malformed")
	ErrBadSignature = errors.New("token signature mismatch")
	ErrExpired      = errors.New("token expired")
)
