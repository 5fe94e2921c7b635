package errors

import (
	"errors"
	"fmt"
)

// Errors shared by the local persistence layers.
var (
	ErrNotFound   = errors.New("not found")
	ErrCorrupt    = errors.New("stored session data is corrupt")
	ErrEncryption = errors.New("stored session data could not be sealed")
	ErrStoreIO    = errors.New("session store unavailable")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
