package platform

import (
	"errors"
	"fmt"
)

var (
	ErrParse = errors.New("invalid platform identifier")
)

// Describes why a platform identifier could not be parsed.
type ParseError struct {
	ID     string // Identifier as given by the caller.
	Reason string // Human-readable reason.
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrParse, e.ID, e.Reason)
}

// Returns [ErrParse] so callers can match with errors.Is.
func (e *ParseError) Unwrap() error {
	return ErrParse
}
