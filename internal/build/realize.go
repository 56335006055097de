package build

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/containerd/platforms"
	"github.com/cruciblehq/cruxmatrix/internal/cache"
	"github.com/cruciblehq/cruxmatrix/internal/image"
	"github.com/cruciblehq/cruxmatrix/internal/matrix"
	"golang.org/x/sync/errgroup"
)

// Imports packaged images into a container runtime. Implemented by
// [runtime.Runtime].
type Loader interface {
	ImportImage(ctx context.Context, path, ref, platform string) error
}

// Executes matrix jobs.
type Realizer struct {
	Store    *cache.Store    // Artifact and image cache.
	Builder  Builder         // Package builder.
	Source   Source          // Package inputs.
	Packager *image.Packager // Image packager. Required when images are selected.
	Loader   Loader          // Receives every image when set.
	Jobs     int             // Concurrent jobs. Zero or less means unlimited.
	Log      io.Writer       // Build output. Discarded when nil.
}

// Realizes every job in the sequence and reports each selected output.
//
// Jobs run concurrently up to the configured limit. A failing job never
// stops the others; its error is recorded in the report. The returned error
// is set only when ctx ends before every job finished, in which case the
// report covers the jobs that completed. Artifacts already committed to the
// store stay there.
func (r *Realizer) Realize(ctx context.Context, jobs iter.Seq[*matrix.Job]) (*Report, error) {
	var g errgroup.Group
	if r.Jobs > 0 {
		g.SetLimit(r.Jobs)
	}

	var (
		mu      sync.Mutex
		results [][]Result
	)

	n := 0
	for job := range jobs {
		if ctx.Err() != nil {
			break
		}

		i := n
		n++

		mu.Lock()
		results = append(results, nil)
		mu.Unlock()

		g.Go(func() error {
			rs := r.realize(ctx, job)
			mu.Lock()
			results[i] = rs
			mu.Unlock()
			return nil
		})
	}

	g.Wait()

	report := &Report{}
	for _, rs := range results {
		report.Results = append(report.Results, rs...)
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// Realizes one job and returns a result per selected output.
func (r *Realizer) realize(ctx context.Context, job *matrix.Job) []Result {
	var binary, img *Result
	if job.Binary {
		binary = &Result{Job: job.ID, Output: job.BinaryOutput(), Kind: KindBinary}
	}
	if job.Image {
		img = &Result{Job: job.ID, Output: job.ImageOutput(), Kind: KindImage}
	}

	err := job.Err
	if err == nil {
		err = r.run(ctx, job, binary, img)
	}
	if err != nil {
		slog.Warn("job failed", "job", job.ID, "error", err)
	}

	var results []Result
	for _, res := range []*Result{binary, img} {
		if res == nil {
			continue
		}
		if res.Status == "" {
			res.Status = StatusFailed
			res.Err = err
		}
		results = append(results, *res)
	}
	return results
}

// Produces the artifact, then the image when selected, filling in the
// results of the outputs it completes.
func (r *Realizer) run(ctx context.Context, job *matrix.Job, binary, img *Result) error {
	start := time.Now()
	artifact, err := r.artifact(ctx, job)
	if err != nil {
		return err
	}
	if binary != nil {
		binary.record(artifact, artifact.Path(r.Source.Binary), time.Since(start))
	}

	if img == nil {
		return nil
	}

	start = time.Now()
	entry, spec, err := r.image(ctx, job, artifact)
	if err != nil {
		return err
	}

	if r.Loader != nil {
		if err := r.Loader.ImportImage(ctx, spec.Path, spec.Reference(), platforms.Format(spec.Platform)); err != nil {
			return err
		}
		img.Loaded = true
	}

	img.Image = spec.Reference()
	img.record(entry, spec.Path, time.Since(start))
	return nil
}

// Returns the cache entry holding the job's artifact, building it if needed.
func (r *Realizer) artifact(ctx context.Context, job *matrix.Job) (*cache.Entry, error) {
	return r.Store.Realize(ctx, job.Fingerprint, func(ctx context.Context, dir string) error {
		slog.Info("building", "job", job.ID, "fingerprint", job.Fingerprint)

		_, err := r.Builder.Build(ctx, Request{
			Job:         job.ID,
			Fingerprint: job.Fingerprint,
			Source:      r.Source,
			Env:         job.Plan.Environ(),
			Artifact:    r.Source.ArtifactPath(job.CrossTarget()),
			Output:      filepath.Join(dir, r.Source.Binary),
			Log:         r.Log,
		})
		return err
	})
}

// Returns the cache entry holding the job's image, packaging it if needed.
func (r *Realizer) image(ctx context.Context, job *matrix.Job, artifact *cache.Entry) (*cache.Entry, *image.Spec, error) {
	inputs, err := r.Packager.Digest()
	if err != nil {
		return nil, nil, err
	}

	entry, err := r.Store.Realize(ctx, matrix.Fingerprint(job.Fingerprint, inputs), func(ctx context.Context, dir string) error {
		_, err := r.Packager.Package(ctx, image.Request{
			Artifact: artifact.Path(r.Source.Binary),
			Label:    job.BinaryOutput(),
			Platform: job.Variant.Target.OCI(),
		}, dir)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	spec, err := image.ReadSpec(entry.Dir)
	if err != nil {
		return nil, nil, err
	}
	return entry, spec, nil
}
