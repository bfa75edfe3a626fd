package engine

import (
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("invalid order")
	ErrNotInitialized = errors.New("engine not initialized")
	ErrStaleCandle    = errors.New("candle not newer than last processed candle")
	ErrNoPrice        = errors.New("no candle processed yet")
	ErrOrderNotFound  = errors.New("order not found")
	ErrOrderNotActive = errors.New("order is not pending")
	ErrTradeNotFound  = errors.New("trade not found")
	ErrTradeClosed    = errors.New("trade already closed")
)

// ValidationError describes a rejected order request. It matches
// ErrValidation under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
