package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidArgument   = errors.New("invalid argument")

	// ErrFatalConfiguration means the platform fallback provider is missing.
	// It is never retried automatically; an operator has to seed it.
	ErrFatalConfiguration = errors.New("fatal configuration")
)
