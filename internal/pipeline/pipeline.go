package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/containerd/platforms"
	"github.com/cruciblehq/cruxmatrix/internal/build"
	"github.com/cruciblehq/cruxmatrix/internal/cache"
	"github.com/cruciblehq/cruxmatrix/internal/envplan"
	"github.com/cruciblehq/cruxmatrix/internal/image"
	"github.com/cruciblehq/cruxmatrix/internal/manifest"
	"github.com/cruciblehq/cruxmatrix/internal/matrix"
	"github.com/cruciblehq/cruxmatrix/internal/paths"
	"github.com/cruciblehq/cruxmatrix/internal/runtime"
	"github.com/cruciblehq/cruxmatrix/internal/toolchain"
	"github.com/cruciblehq/cruxmatrix/internal/vcs"
)

// Kinds of outputs.
const (
	KindBinary = "binary"
	KindImage  = "image"
)

// Configures a pipeline.
type Options struct {
	Manifest string          // Manifest path.
	CacheDir string          // Cache root. Empty uses [paths.Artifacts].
	Store    *cache.Store    // Shared cache. Overrides CacheDir when set.
	Jobs     int             // Concurrent jobs. Zero or less means unlimited.
	Load     bool            // Import packaged images into containerd.
	Keep     bool            // Keep local build trees.
	Runtime  runtime.Options // Containerd connection for containerized builds and loading.
	Log      io.Writer       // Build output. Discarded when nil.
}

// One selectable output.
type Output struct {
	Name   string // Output name.
	Kind   string // [KindBinary] or [KindImage].
	Job    string // Job the output belongs to.
	Target string // Canonical target platform.
}

// A loaded manifest with its expanded matrix.
type Pipeline struct {
	opts      Options
	manifest  *manifest.Manifest
	revision  vcs.Revision
	files     []string
	expansion *matrix.Expansion
}

// Loads a manifest and expands its matrix.
//
// Manifest, source and platform errors are reported here, before any job
// starts. Toolchain gaps only surface as failures of the affected cells.
func Open(opts Options) (*Pipeline, error) {
	m, err := manifest.Load(opts.Manifest)
	if err != nil {
		return nil, err
	}

	rev, err := vcs.Open(m.Root())
	if err != nil {
		return nil, err
	}

	files, err := m.Sources()
	if err != nil {
		return nil, err
	}

	pkg, err := m.Digest()
	if err != nil {
		return nil, err
	}

	buildMachine := m.BuildPlatform()

	var provider toolchain.Provider = m.Toolchains
	if m.Build.Search {
		provider = toolchain.Chain{m.Toolchains, toolchain.Search{Native: buildMachine}}
	}

	plans := envplan.NewBuilder(toolchain.NewResolver(provider), m.Storage, rev.VersionExtra())

	x, err := matrix.NewExpander(buildMachine, plans, pkg).Expand(m.Matrix.Allocators, m.Matrix.Targets)
	if err != nil {
		return nil, err
	}

	slog.Debug("matrix expanded",
		"package", m.Package.Name,
		"version", m.Package.Version,
		"revision", rev.VersionExtra(),
		"build", buildMachine,
		"cells", x.Len(),
		"sources", len(files),
	)

	return &Pipeline{
		opts:      opts,
		manifest:  m,
		revision:  rev,
		files:     files,
		expansion: x,
	}, nil
}

// Returns the loaded manifest.
func (p *Pipeline) Manifest() *manifest.Manifest {
	return p.manifest
}

// Returns the repository revision of the sources.
func (p *Pipeline) Revision() vcs.Revision {
	return p.revision
}

// Returns every output, binary then image for each cell.
func (p *Pipeline) Outputs() []Output {
	var outputs []Output
	for _, v := range p.expansion.Variants() {
		target := v.Target.String()
		outputs = append(outputs,
			Output{Name: v.BinaryOutput(), Kind: KindBinary, Job: v.ID(), Target: target},
			Output{Name: v.ImageOutput(), Kind: KindImage, Job: v.ID(), Target: target},
		)
	}
	return outputs
}

// Returns the environment plan of a named output.
//
// Fails with [matrix.ErrUnknownOutput] for names outside the matrix, and
// with the cell's own error when its plan cannot be built.
func (p *Pipeline) Plan(name string) (*envplan.Plan, error) {
	job, err := p.expansion.Lookup(name)
	if err != nil {
		return nil, err
	}
	if job.Err != nil {
		return nil, job.Err
	}
	return job.Plan, nil
}

// Realizes the named outputs.
//
// No names selects every binary output; all selects every binary and image
// output. Unknown names fail before any job starts.
func (p *Pipeline) Build(ctx context.Context, names []string, all bool) (*build.Report, error) {
	x, err := p.selection(names, all)
	if err != nil {
		return nil, err
	}

	m := p.manifest
	if x.HasImages() && (m.Image.Certificates == "" || m.Image.Init == "") {
		return nil, ErrImageInputs
	}

	store, err := p.store()
	if err != nil {
		return nil, err
	}

	r := &build.Realizer{
		Store:   store,
		Builder: &build.Local{Keep: p.opts.Keep},
		Source:  p.source(),
		Jobs:    p.opts.Jobs,
		Log:     p.opts.Log,
	}

	if m.Build.Image != "" || (p.opts.Load && x.HasImages()) {
		rt, err := runtime.New(ctx, p.opts.Runtime)
		if err != nil {
			return nil, err
		}
		defer rt.Close()

		if m.Build.Image != "" {
			r.Builder = &build.Container{Runtime: rt, Image: p.toolchainImage()}
		}
		if p.opts.Load {
			r.Loader = rt
		}
	}

	if x.HasImages() {
		r.Packager = image.NewPackager(image.Config{
			Name:         m.Image.Name,
			Version:      m.Package.Version,
			Binary:       m.Package.Binary,
			Certificates: m.Path(m.Image.Certificates),
			Init:         m.Path(m.Image.Init),
			Revision:     p.revision.Commit,
			Created:      p.revision.Date(),
		})
	}

	slog.Info("realizing outputs", "package", m.Package.Name, "cells", x.Len(), "cache", store.Root())

	return r.Realize(ctx, x.Jobs())
}

// Returns the configured store, opening it when none is shared.
func (p *Pipeline) store() (*cache.Store, error) {
	if p.opts.Store != nil {
		return p.opts.Store, nil
	}
	root := p.opts.CacheDir
	if root == "" {
		root = paths.Artifacts()
	}
	return cache.Open(root)
}

// Applies an output selection to the matrix.
func (p *Pipeline) selection(names []string, all bool) (*matrix.Expansion, error) {
	switch {
	case all:
		return p.expansion.All(), nil
	case len(names) > 0:
		return p.expansion.Select(names)
	default:
		return p.expansion.Select(p.binaryOutputs())
	}
}

// Returns the binary output names.
func (p *Pipeline) binaryOutputs() []string {
	var names []string
	for _, v := range p.expansion.Variants() {
		names = append(names, v.BinaryOutput())
	}
	return names
}

// Returns the package inputs shared by every job.
//
// Extra inputs of local builds resolve against the manifest directory;
// those of containerized builds name directories inside the toolchain image.
func (p *Pipeline) source() build.Source {
	m := p.manifest

	inputs := slices.Clone(m.Build.Inputs)
	if m.Build.Image == "" {
		for i, in := range inputs {
			inputs[i] = m.Path(in)
		}
	}

	return build.Source{
		Root:     m.Root(),
		Files:    p.files,
		Command:  m.Build.Command,
		Artifact: m.Build.Artifact,
		Binary:   m.Package.Binary,
		Inputs:   inputs,
		Platform: platforms.Format(m.BuildPlatform().OCI()),
	}
}

// Returns the toolchain image, resolving local archives against the manifest
// directory.
func (p *Pipeline) toolchainImage() string {
	ref := p.manifest.Build.Image
	if path := p.manifest.Path(ref); fileExists(path) {
		return path
	}
	return ref
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
