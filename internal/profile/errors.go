package profile

import (
	"errors"
	"fmt"
)

// ValidationError reports a profile that cannot be persisted as-is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid profile %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// notFoundError signals a missing profile record.
type notFoundError struct{ name string }

func (e notFoundError) Error() string { return "profile not found: " + e.name }

// ErrNotFound constructs the error returned for a missing profile.
func ErrNotFound(name string) error { return notFoundError{name: name} }

// IsNotFound reports whether err indicates a missing profile.
func IsNotFound(err error) bool {
	var nf notFoundError
	return errors.As(err, &nf)
}

// FormatError wraps a record that exists but cannot be decoded.
type FormatError struct {
	Name string
	Err  error
}

func (e FormatError) Error() string { return fmt.Sprintf("corrupt profile %q: %v", e.Name, e.Err) }

func (e FormatError) Unwrap() error { return e.Err }

// IsFormat reports whether err is a FormatError.
func IsFormat(err error) bool {
	var fe FormatError
	return errors.As(err, &fe)
}

// ErrDefaultUndeletable is returned when deleting the reserved default profile.
var ErrDefaultUndeletable = errors.New("cannot delete default configuration")
