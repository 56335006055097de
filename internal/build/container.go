package build

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/cruciblehq/cruxmatrix/internal/runtime"
)

const (

	// Source tree inside build containers.
	containerSourceDir = "/src"

	// PATH of build containers before extra inputs are prepended.
	containerPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

	// Hex digits of the fingerprint in container IDs.
	containerIDDigits = 12
)

// Starts build containers. Implemented by [runtime.Runtime].
type ContainerStarter interface {
	StartContainer(ctx context.Context, source, id, platform string) (*runtime.Container, error)
}

// Builds inside containerd containers.
//
// Every build gets its own container started from Image, so concurrent jobs
// never share a build tree. Extra inputs name directories inside the image.
type Container struct {
	Runtime ContainerStarter // Container runtime.
	Image   string           // Toolchain image reference or OCI archive path.
}

// Copies the sources into a fresh container, runs the build command and
// copies the artifact out.
func (c *Container) Build(ctx context.Context, req Request) (string, error) {
	id := containerID(req)
	ctr, err := c.Runtime.StartContainer(ctx, c.Image, id, req.Source.Platform)
	if err != nil {
		return "", err
	}
	defer ctr.Destroy(context.WithoutCancel(ctx))

	if err := ctr.MkdirAll(ctx, containerSourceDir); err != nil {
		return "", fmt.Errorf("%w: %w", ErrCopy, err)
	}
	if err := copySources(ctx, ctr, req.Source); err != nil {
		return "", err
	}

	env := append([]string{"PATH=" + req.searchPath(containerPath)}, req.Env...)
	diagnostics := newTailBuffer(diagnosticsLimit)

	slog.Debug("running build", "job", req.Job, "container", id, "command", req.Source.Command)

	result, err := ctr.Exec(ctx, runtime.Process{
		Args:   req.Source.Command,
		Env:    env,
		Dir:    containerSourceDir,
		Stdout: req.Log,
		Stderr: diagnosticsWriter(diagnostics, req.Log),
	})
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", &FailureError{Job: req.Job, ExitCode: result.ExitCode, Diagnostics: diagnostics.String()}
	}

	if err := copyArtifact(ctx, ctr, req); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrArtifact, req.Artifact, err)
	}

	return req.Output, nil
}

// Returns the build container ID for a request.
//
// Starting a container replaces any container with the same ID, so the ID is
// derived from the fingerprint: job names repeat across manifests and
// revisions served by one daemon, while the cache builds each fingerprint at
// most once at a time.
func containerID(req Request) string {
	hex := req.Fingerprint.Encoded()
	if len(hex) > containerIDDigits {
		hex = hex[:containerIDDigits]
	}
	if hex == "" {
		hex = req.Job
	}
	return "cruxmatrix-" + hex
}

// Streams the source files into the container.
func copySources(ctx context.Context, ctr *runtime.Container, src Source) error {
	pr, pw := io.Pipe()

	go func() {
		tw := tar.NewWriter(pw)
		err := writeSourcesToTar(tw, src)
		if cerr := tw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	if err := ctr.CopyTo(ctx, pr, containerSourceDir); err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}
	return nil
}

// Streams the artifact out of the container to req.Output.
func copyArtifact(ctx context.Context, ctr *runtime.Container, req Request) error {
	artifact := path.Join(containerSourceDir, req.Artifact)

	pr, pw := io.Pipe()

	errc := make(chan error, 1)
	go func() {
		err := ctr.CopyFrom(ctx, pw, artifact)
		pw.CloseWithError(err)
		errc <- err
	}()

	if err := extractFile(pr, path.Base(artifact), req.Output); err != nil {
		pr.CloseWithError(err)
		<-errc
		return err
	}

	return <-errc
}
