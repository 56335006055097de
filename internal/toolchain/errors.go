package toolchain

import (
	"errors"
	"fmt"

	"github.com/cruciblehq/cruxmatrix/internal/platform"
)

var (
	ErrUnavailable = errors.New("toolchain unavailable")
)

// Reports a tool that no provider could supply.
type UnavailableError struct {
	Role     platform.Role       // Role the toolchain was requested for.
	Platform platform.Descriptor // Platform the toolchain must target.
	Tool     string              // Missing tool (e.g. "cc", "linker").
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: no %s for %s platform %s", ErrUnavailable, e.Tool, e.Role, e.Platform)
}

// Returns [ErrUnavailable] so callers can match with errors.Is.
func (e *UnavailableError) Unwrap() error {
	return ErrUnavailable
}
