package gate

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is returned for any malformed or badly signed token.
	// Deliberately opaque: it never reveals which check failed.
	ErrInvalidToken = errors.New("invalid token")

	// ErrModelNotAllowed is returned when a signed model name fails
	// verification or is absent from the allow-list.
	ErrModelNotAllowed = errors.New("model not allowed")

	// ErrUserNotFound is returned when an account does not exist or is disabled.
	ErrUserNotFound = errors.New("user not found or disabled")

	// ErrStoreUnavailable is returned when the manager is built without a store.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// LimitExceededError is returned when a user-scope token carries a valid
// signature but the trailing 7-day spend has reached the weekly cap. It is
// the one validation failure that carries a specific, user-facing reason.
type LimitExceededError struct {
	Spend float64
	Cap   float64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("weekly cost limit of $%.2f exceeded, current spend $%.4f", e.Cap, e.Spend)
}
