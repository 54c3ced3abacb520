package domain

import "errors"

var (
	ErrValidation        = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNotFound          = errors.New("not found")
	ErrStorage           = errors.New("storage failure")
	ErrConflict          = errors.New("concurrent update")

	// ErrStaleContext marks a read whose subject changed while it was in
	// flight. It is dropped, never shown to a user.
	ErrStaleContext = errors.New("stale context")
)
