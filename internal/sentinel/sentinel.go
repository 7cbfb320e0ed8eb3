// Package sentinel provides a minimal constant error type for fixed,
// comparable error values that callers are expected to check with errors.Is.
package sentinel

// Error is a string constant that implements error. Unlike errors created
// with errors.New, values of this type can be declared as constants, so
// they can live next to the other constants they document.
type Error string

func (e Error) Error() string { return string(e) }
