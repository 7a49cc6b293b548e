package domain

import "github.com/pkg/errors"

// Error taxonomy shared by all engine components. Wrap with errors.Wrap/Wrapf
// and match with errors.Is.
var (
	// ErrValidation bad command input; rejected with no state change.
	ErrValidation = errors.New("validation error")
	// ErrNotFound operation references a nonexistent position or order.
	ErrNotFound = errors.New("not found")
	// ErrTransport feed or network failure.
	ErrTransport = errors.New("transport error")
	// ErrFetch historical data fetch failure.
	ErrFetch = errors.New("fetch error")
)

// Validationf returns an ErrValidation wrapped with a formatted reason.
func Validationf(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}

// NotFoundf returns an ErrNotFound wrapped with a formatted reason.
func NotFoundf(format string, args ...any) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}
