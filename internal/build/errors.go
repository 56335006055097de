package build

import (
	"errors"
	"fmt"
)

var (
	ErrBuild               = errors.New("build failed")
	ErrFileSystemOperation = errors.New("file system operation failed")
	ErrCopy                = errors.New("copy failed")
	ErrArtifact            = errors.New("artifact not produced")
	ErrCellsFailed         = errors.New("matrix cells failed")
)

// Describes a failed build command.
type FailureError struct {
	Job         string // Job identifier.
	ExitCode    int    // Exit code of the build command.
	Diagnostics string // Standard error of the build command.
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("%s: %s: exit code %d", ErrBuild, e.Job, e.ExitCode)
}

// Returns [ErrBuild] so callers can match with errors.Is.
func (e *FailureError) Unwrap() error {
	return ErrBuild
}
