package build

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cruciblehq/cruxmatrix/internal/paths"
	"github.com/opencontainers/go-digest"
)

const (

	// Bytes of standard error kept as diagnostics.
	diagnosticsLimit = 256 << 10

	// Placeholder in the artifact path replaced by the cross target triple.
	TargetPlaceholder = "{target}"
)

// Realizes one job's artifact.
type Builder interface {

	// Runs the build described by req and places the artifact at req.Output.
	//
	// Returns the artifact path. A build command exiting with a non-zero
	// status is reported as a [FailureError].
	Build(ctx context.Context, req Request) (string, error)
}

// Package inputs shared by every job.
type Source struct {
	Root     string   // Source tree.
	Files    []string // Slash-separated paths relative to Root.
	Command  []string // Build command.
	Artifact string   // Artifact path relative to Root; may contain "{target}".
	Binary   string   // Executable name inside the artifact directory.
	Inputs   []string // Extra directories prepended to PATH.
	Platform string   // OCI platform of the build machine.
}

// Returns the artifact path for a target.
//
// The target placeholder expands to the cross target triple, or to nothing
// for native builds.
func (s Source) ArtifactPath(crossTarget string) string {
	return path.Clean(strings.ReplaceAll(s.Artifact, TargetPlaceholder, crossTarget))
}

// One build.
type Request struct {
	Job         string        // Job identifier, used for logs and errors.
	Fingerprint digest.Digest // Cache key of the artifact; unique per build in flight.
	Source      Source        // Package inputs.
	Env         []string      // Environment plan as "KEY=VALUE" entries.
	Artifact    string        // Artifact path relative to the source root.
	Output      string        // Destination of the artifact.
	Log         io.Writer     // Receives the build's output when set.
}

// Returns the PATH entry for the request's extra inputs layered on base.
func (r Request) searchPath(base string) string {
	if len(r.Source.Inputs) == 0 {
		return base
	}
	if base == "" {
		return strings.Join(r.Source.Inputs, string(os.PathListSeparator))
	}
	return strings.Join(r.Source.Inputs, string(os.PathListSeparator)) + string(os.PathListSeparator) + base
}

// Keeps the last bytes written to it.
type tailBuffer struct {
	buf   []byte
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}

// Returns a writer for diagnostics, copying to log when set.
func diagnosticsWriter(tail *tailBuffer, log io.Writer) io.Writer {
	if log == nil {
		return tail
	}
	return io.MultiWriter(tail, log)
}

// Copies a file, creating the parent directory and keeping the mode.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return &os.PathError{Op: "copy", Path: src, Err: os.ErrInvalid}
	}

	if err := os.MkdirAll(filepath.Dir(dest), paths.DefaultDirMode); err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
