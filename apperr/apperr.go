package apperr

import (
	"errors"
	"fmt"
)

// Shared error taxonomy. Nothing partial is ever committed before these are
// returned, so callers may retry ErrUnavailable wholesale.
var (
	ErrNotFound    = errors.New("not found")
	ErrDenied      = errors.New("access denied")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("temporarily unavailable")
)

// InsufficientFundsError carries the balance context so clients can prompt a
// coin purchase.
type InsufficientFundsError struct {
	Required int64
	Current  int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient coins: required %d, current %d", e.Required, e.Current)
}

// IsInsufficientFunds reports whether err is an InsufficientFundsError and
// returns it if so.
func IsInsufficientFunds(err error) (*InsufficientFundsError, bool) {
	var e *InsufficientFundsError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
