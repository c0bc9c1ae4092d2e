package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidState      = errors.New("invalid lifecycle state")
	ErrValidation        = errors.New("invalid parameters")
	ErrTokenNotEligible  = errors.New("token not eligible")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoAdapter         = errors.New("no conversion adapter for pair")
	ErrConversionFailed  = errors.New("conversion failed")
	ErrLockHeld          = errors.New("lock already held")
	ErrContextDone       = errors.New("context cancelled")
)
