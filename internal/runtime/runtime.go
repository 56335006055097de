package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
)

const (

	// Default snapshotter for container filesystems. fuse-overlayfs provides
	// overlay semantics without requiring root privileges (no mount(2)).
	DefaultSnapshotter = "fuse-overlayfs"

	// Default containerd namespace for build containers and loaded images.
	DefaultNamespace = "cruxmatrix"

	// Default containerd socket.
	DefaultAddress = "/run/containerd/containerd.sock"

	// OCI runtime shim for running containers.
	ociRuntime = "io.containerd.runc.v2"

	// Upper bound on the time spent waiting for containerd to come up.
	connectTimeout = 30 * time.Second
)

// Configures the connection to containerd.
type Options struct {
	Address     string // Socket address. Defaults to [DefaultAddress].
	Namespace   string // Namespace for all operations. Defaults to [DefaultNamespace].
	Snapshotter string // Snapshotter for container filesystems. Defaults to [DefaultSnapshotter].
}

// Manages the containerd client and provides image and container operations.
type Runtime struct {
	client      *containerd.Client // Containerd client for managing containers and images.
	snapshotter string             // Snapshotter for unpacked images and container snapshots.
}

// Connects to containerd.
//
// The daemon may still be starting, so the connection is retried with
// exponential backoff until it answers a version request or the context
// ends. The runtime must be closed when no longer needed.
func New(ctx context.Context, opts Options) (*Runtime, error) {
	if opts.Address == "" {
		opts.Address = DefaultAddress
	}
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.Snapshotter == "" {
		opts.Snapshotter = DefaultSnapshotter
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond

	client, err := backoff.RetryWithData(func() (*containerd.Client, error) {
		client, err := containerd.New(opts.Address, containerd.WithDefaultNamespace(opts.Namespace))
		if err != nil {
			slog.Debug("containerd not reachable", "address", opts.Address, "error", err)
			return nil, err
		}
		if _, err := client.Version(ctx); err != nil {
			client.Close()
			slog.Debug("containerd not ready", "address", opts.Address, "error", err)
			return nil, err
		}
		return client, nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to %s: %w", ErrRuntime, opts.Address, err)
	}

	slog.Debug("connected to containerd", "address", opts.Address, "namespace", opts.Namespace)

	return &Runtime{client: client, snapshotter: opts.Snapshotter}, nil
}

// Closes the containerd client connection.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Starts a container from a toolchain image.
//
// source is either a path to an OCI archive or an image reference. Archives
// are imported and tagged under a name derived from their path; references
// are pulled unless already present. The layers for platform are unpacked,
// a container is created with a fresh snapshot, and a long-running task is
// started so that subsequent Exec calls have a process to attach to. Any
// existing container with the same ID is removed first.
func (rt *Runtime) StartContainer(ctx context.Context, source, id, platform string) (*Container, error) {
	image, err := rt.ensureImage(ctx, source, platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRuntime, source, err)
	}

	c := &Container{
		client:      rt.client,
		id:          id,
		platform:    platform,
		snapshotter: rt.snapshotter,
	}

	// Remove any stale container from a previous build with the same ID.
	c.remove(ctx)

	ctr, err := c.create(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := c.startTask(ctx, ctr); err != nil {
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Debug("container started", "id", id, "image", image.Name(), "platform", platform)

	return c, nil
}

// Returns the unpacked image for source, importing or pulling it first.
func (rt *Runtime) ensureImage(ctx context.Context, source, platform string) (containerd.Image, error) {
	if info, err := os.Stat(source); err == nil && info.Mode().IsRegular() {
		tag := imageTag(source)
		imported, err := rt.importArchive(ctx, source)
		if err != nil {
			return nil, err
		}
		if err := rt.tagImage(ctx, imported, tag); err != nil {
			return nil, err
		}
		return rt.unpackImage(ctx, tag, platform)
	}

	if _, err := rt.client.ImageService().Get(ctx, source); err == nil {
		return rt.unpackImage(ctx, source, platform)
	} else if !errdefs.IsNotFound(err) {
		return nil, err
	}

	slog.Info("pulling toolchain image", "image", source, "platform", platform)

	return rt.client.Pull(ctx, source,
		containerd.WithPlatform(platform),
		containerd.WithPullUnpack,
		containerd.WithPullSnapshotter(rt.snapshotter),
	)
}

// Imports an OCI archive into the content store.
//
// The archive must contain exactly one image.
func (rt *Runtime) importArchive(ctx context.Context, path string) (images.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return images.Image{}, err
	}
	defer fh.Close()

	imported, err := rt.client.Import(ctx, fh)
	if err != nil {
		return images.Image{}, err
	}

	switch len(imported) {
	case 0:
		return images.Image{}, ErrEmptyArchive
	case 1:
		return imported[0], nil
	default:
		return images.Image{}, ErrMultipleImages
	}
}

// Points tag at the imported image.
//
// Updates the tag if it already exists. Removes the source record when
// its name differs from the tag to avoid duplicates.
func (rt *Runtime) tagImage(ctx context.Context, source images.Image, tag string) error {
	is := rt.client.ImageService()

	img := images.Image{
		Name:   tag,
		Target: source.Target,
	}

	if _, err := is.Create(ctx, img); err != nil {
		if !errdefs.IsAlreadyExists(err) {
			return err
		}
		if _, err := is.Update(ctx, img, "target"); err != nil {
			return err
		}
	}

	if source.Name != tag {
		if err := is.Delete(ctx, source.Name); err != nil && !errdefs.IsNotFound(err) {
			slog.Debug("failed to remove import record", "name", source.Name, "error", err)
		}
	}

	return nil
}

// Unpacks the layers of a tagged image for platform into the snapshotter.
func (rt *Runtime) unpackImage(ctx context.Context, tag, platform string) (containerd.Image, error) {
	p, err := platforms.Parse(platform)
	if err != nil {
		return nil, err
	}

	img, err := rt.client.ImageService().Get(ctx, tag)
	if err != nil {
		return nil, err
	}

	image := containerd.NewImageWithPlatform(rt.client, img, platforms.Only(p))
	if err := image.Unpack(ctx, rt.snapshotter); err != nil {
		return nil, err
	}
	return image, nil
}

// Imports a packaged image archive under ref.
//
// The image is unpacked for platform when the platform can run on this
// machine; images for foreign platforms are stored but left packed.
func (rt *Runtime) ImportImage(ctx context.Context, path, ref, platform string) error {
	imported, err := rt.importArchive(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := rt.tagImage(ctx, imported, ref); err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	p, err := platforms.Parse(platform)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	if platforms.Default().Match(p) {
		if _, err := rt.unpackImage(ctx, ref, platform); err != nil && !errors.Is(err, errdefs.ErrAlreadyExists) {
			return fmt.Errorf("%w: %w", ErrRuntime, err)
		}
	}

	slog.Info("image loaded", "ref", ref, "platform", platform)
	return nil
}

// Produces a containerd image tag from an archive path.
//
// The path is hashed to produce a tag that is always valid for OCI references
// regardless of which characters the path contains.
func imageTag(path string) string {
	h := sha256.Sum256([]byte(path))
	return fmt.Sprintf("import/%s:latest", hex.EncodeToString(h[:]))
}
