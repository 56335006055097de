package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
)

// Builds on this machine.
//
// Each build runs in a private copy of the source files so that concurrent
// jobs never share a build tree.
type Local struct {
	WorkDir string // Parent of the per-build trees. Defaults to the system temp dir.
	Keep    bool   // Keep build trees after the build.
}

// Runs the build command in a fresh copy of the source tree.
//
// The command sees the caller's environment with PATH extended by the extra
// inputs and the plan entries layered on top.
func (l *Local) Build(ctx context.Context, req Request) (string, error) {
	tree, err := os.MkdirTemp(l.WorkDir, "cruxmatrix-"+req.Job+"-")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}
	if l.Keep {
		slog.Info("keeping build tree", "job", req.Job, "dir", tree)
	} else {
		defer os.RemoveAll(tree)
	}

	if err := stageSources(req.Source, tree); err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, req.Source.Command[0], req.Source.Command[1:]...)
	cmd.Dir = tree
	cmd.Env = localEnv(os.Environ(), req)

	diagnostics := newTailBuffer(diagnosticsLimit)
	cmd.Stdout = req.Log
	cmd.Stderr = diagnosticsWriter(diagnostics, req.Log)

	slog.Debug("running build", "job", req.Job, "command", req.Source.Command, "dir", tree)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &FailureError{Job: req.Job, ExitCode: exitErr.ExitCode(), Diagnostics: diagnostics.String()}
		}
		return "", fmt.Errorf("%w: %s: %w", ErrBuild, req.Job, err)
	}

	src := filepath.Join(tree, filepath.FromSlash(req.Artifact))
	if err := copyFile(src, req.Output); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrArtifact, req.Artifact, err)
	}

	return req.Output, nil
}

// Composes the build command environment.
//
// Later entries win, so plan variables override inherited ones.
func localEnv(base []string, req Request) []string {
	env := slices.Clone(base)

	path := ""
	for _, e := range base {
		if v, ok := strings.CutPrefix(e, "PATH="); ok {
			path = v
		}
	}
	if len(req.Source.Inputs) > 0 {
		env = append(env, "PATH="+req.searchPath(path))
	}

	return append(env, req.Env...)
}

// Copies the source files into tree.
func stageSources(src Source, tree string) error {
	for _, name := range src.Files {
		from := filepath.Join(src.Root, filepath.FromSlash(name))
		to := filepath.Join(tree, filepath.FromSlash(name))
		if err := copyFile(from, to); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrCopy, name, err)
		}
	}
	return nil
}
