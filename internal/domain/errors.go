package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTradeActive    = errors.New("a trade is already active")
	ErrNoActiveTrade  = errors.New("no active trade")
	ErrFuturesActive  = errors.New("a futures trade is already active")
	ErrNoFuturesTrade = errors.New("no active futures trade")

	// ErrClosedExternally reports that a close found nothing left on the
	// venue: the position was exited outside the bot and the record has
	// already been cleared.
	ErrClosedExternally = errors.New("position closed externally")
)

// ValidationError rejects a trade request before any order is placed. The
// message is user-facing and names the violated rule.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
