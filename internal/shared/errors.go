package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicate indicates a uniqueness conflict.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrBusinessRule indicates an operation rejected by a domain rule,
	// e.g. deleting a system role or a retention floor violation.
	ErrBusinessRule = errors.New("business rule violation")
)

// BusinessRule wraps ErrBusinessRule with a human readable reason.
func BusinessRule(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBusinessRule, fmt.Sprintf(format, args...))
}
