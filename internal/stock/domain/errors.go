package domain

import "errors"

var (
	ErrStockNotFound           = errors.New("stock not found")
	ErrReservationNotFound     = errors.New("reservation not found")
	ErrDuplicateStock          = errors.New("stock already exists for variant and warehouse")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInvalidReservationState = errors.New("reservation is not pending")
	ErrConcurrencyConflict     = errors.New("concurrent modification, stale version")
	ErrInvalidQuantity         = errors.New("quantity must be positive")
)
