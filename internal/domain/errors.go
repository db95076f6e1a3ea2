package domain

import "errors"

// Store errors shared by every Repository implementation.
var (
	ErrInsufficientAvailability = errors.New("insufficient availability")
	ErrBookingNotFound          = errors.New("booking not found")
	ErrAlreadyCancelled         = errors.New("booking already cancelled")
	ErrCannotCancelCompleted    = errors.New("booking already completed")
	ErrConcurrentModification   = errors.New("booking was modified concurrently")
	ErrDuplicateReference       = errors.New("booking reference already exists")
	ErrDuplicateIdempotencyKey  = errors.New("idempotency key already used")
)
