package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cruciblehq/cruxmatrix/internal/cache"
	"github.com/cruciblehq/cruxmatrix/internal/envplan"
	"github.com/cruciblehq/cruxmatrix/internal/image"
	"github.com/cruciblehq/cruxmatrix/internal/matrix"
	"github.com/cruciblehq/cruxmatrix/internal/platform"
	"github.com/cruciblehq/cruxmatrix/internal/toolchain"
	"github.com/cruciblehq/cruxmatrix/internal/variant"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	gnuID = "x86_64-unknown-linux-gnu"
	armID = "aarch64-unknown-linux-musl"
)

// Records builds and writes a fake artifact.
type fakeBuilder struct {
	calls    atomic.Int32
	mu       sync.Mutex
	requests []Request
	fail     map[string]error
	delay    time.Duration
}

func (f *fakeBuilder) Build(ctx context.Context, req Request) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	err := f.fail[req.Job]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return req.Output, os.WriteFile(req.Output, []byte("\x7fELF "+req.Job), 0755)
}

type fakeLoader struct {
	mu   sync.Mutex
	refs []string
	err  error
}

func (f *fakeLoader) ImportImage(_ context.Context, path, ref, platform string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.refs = append(f.refs, ref+" "+platform)
	return nil
}

func testSource() Source {
	return Source{
		Root:     "/src",
		Command:  []string{"make"},
		Artifact: "target/{target}/release/app",
		Binary:   "app",
		Platform: "linux/amd64",
	}
}

func testExpansion(t *testing.T, allocators []variant.Allocator, targets ...string) *matrix.Expansion {
	t.Helper()

	if allocators == nil {
		allocators = []variant.Allocator{variant.Default}
	}
	catalog := toolchain.Catalog{
		gnuID: {CC: "/usr/bin/cc", CXX: "/usr/bin/c++", LibDir: "/usr/lib"},
		armID: {CC: "/opt/aarch64/bin/cc", CXX: "/opt/aarch64/bin/c++", LibDir: "/opt/aarch64/lib"},
	}
	storage := envplan.Storage{Plain: "/opt/rocksdb", Jemalloc: "/opt/rocksdb-jemalloc"}
	plans := envplan.NewBuilder(toolchain.NewResolver(catalog), storage, "abc1234")
	x, err := matrix.NewExpander(platform.MustParse(gnuID), plans, digest.FromString("app 1.0.0")).Expand(allocators, targets)
	require.NoError(t, err)
	return x
}

func testStore(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.Open(t.TempDir())
	require.NoError(t, err)
	return store
}

func testPackager(t *testing.T) *image.Packager {
	t.Helper()
	dir := t.TempDir()
	certs := filepath.Join(dir, "ca.crt")
	init := filepath.Join(dir, "tini")
	require.NoError(t, os.WriteFile(certs, []byte("certs"), 0600))
	require.NoError(t, os.WriteFile(init, []byte("tini"), 0700))
	return image.NewPackager(image.Config{Name: "app", Version: "1.0.0", Binary: "app", Certificates: certs, Init: init})
}

func outputs(report *Report) []string {
	var names []string
	for _, res := range report.Results {
		names = append(names, res.Output)
	}
	return names
}

func TestRealizeBuildsEveryCell(t *testing.T) {
	builder := &fakeBuilder{}
	r := &Realizer{Store: testStore(t), Builder: builder, Source: testSource(), Jobs: 2}

	x := testExpansion(t, []variant.Allocator{variant.Default, variant.Jemalloc}, gnuID, armID)
	report, err := r.Realize(context.Background(), x.Jobs())
	require.NoError(t, err)
	require.NoError(t, report.Err())

	assert.Equal(t, []string{
		"default",
		"jemalloc",
		"static-aarch64-unknown-linux-musl",
		"static-aarch64-unknown-linux-musl-jemalloc",
	}, outputs(report))
	assert.EqualValues(t, 4, builder.calls.Load())

	for _, res := range report.Results {
		assert.Equal(t, StatusBuilt, res.Status, res.Output)
		assert.Equal(t, "app", filepath.Base(res.Path))
		assert.FileExists(t, res.Path)
		assert.Positive(t, res.Size)
	}

	artifacts := make(map[string]string)
	ids := make(map[string]bool)
	for _, req := range builder.requests {
		artifacts[req.Job] = req.Artifact
		assert.Contains(t, req.Env, "VERSION_EXTRA=abc1234")
		require.NoError(t, req.Fingerprint.Validate(), req.Job)
		ids[containerID(req)] = true
	}
	assert.Len(t, ids, 4)
	assert.Equal(t, "target/release/app", artifacts["default"])
	assert.Equal(t, "target/aarch64-unknown-linux-musl/release/app", artifacts["aarch64-unknown-linux-musl"])
}

func TestRealizeUsesCache(t *testing.T) {
	store := testStore(t)
	builder := &fakeBuilder{}
	r := &Realizer{Store: store, Builder: builder, Source: testSource()}

	_, err := r.Realize(context.Background(), testExpansion(t, nil, gnuID).Jobs())
	require.NoError(t, err)

	report, err := r.Realize(context.Background(), testExpansion(t, nil, gnuID).Jobs())
	require.NoError(t, err)

	assert.EqualValues(t, 1, builder.calls.Load())
	require.Len(t, report.Results, 1)
	assert.Equal(t, StatusCached, report.Results[0].Status)
}

func TestRealizeIdenticalFingerprintsBuildOnce(t *testing.T) {
	builder := &fakeBuilder{delay: 50 * time.Millisecond}
	r := &Realizer{Store: testStore(t), Builder: builder, Source: testSource(), Jobs: 4}

	var job *matrix.Job
	for j := range testExpansion(t, nil, gnuID).Jobs() {
		job = j
	}
	require.NotNil(t, job)

	jobs := func(yield func(*matrix.Job) bool) {
		for range 4 {
			twin := *job
			if !yield(&twin) {
				return
			}
		}
	}

	report, err := r.Realize(context.Background(), jobs)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.Len(t, report.Results, 4)
	assert.EqualValues(t, 1, builder.calls.Load())
}

func TestRealizeFailureIsScoped(t *testing.T) {
	builder := &fakeBuilder{fail: map[string]error{
		"jemalloc": &FailureError{Job: "jemalloc", ExitCode: 2, Diagnostics: "ld: cannot find -ljemalloc\n"},
	}}
	store := testStore(t)
	r := &Realizer{Store: store, Builder: builder, Source: testSource()}

	x := testExpansion(t, []variant.Allocator{variant.Default, variant.Jemalloc, variant.HardenedMalloc}, gnuID)
	report, err := r.Realize(context.Background(), x.Jobs())
	require.NoError(t, err)

	statuses := make(map[string]Status)
	for _, res := range report.Results {
		statuses[res.Output] = res.Status
	}
	assert.Equal(t, map[string]Status{
		"default":  StatusBuilt,
		"jemalloc": StatusFailed,
		"hmalloc":  StatusBuilt,
	}, statuses)

	err = report.Err()
	require.ErrorIs(t, err, ErrCellsFailed)
	assert.Contains(t, err.Error(), "jemalloc")

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, ErrBuild)

	// The failure is not cached; a retry builds again.
	builder.fail = nil
	retry, err := r.Realize(context.Background(), testExpansion(t, []variant.Allocator{variant.Jemalloc}, gnuID).Jobs())
	require.NoError(t, err)
	assert.Equal(t, StatusBuilt, retry.Results[0].Status)
}

func TestRealizeExpansionErrorIsScoped(t *testing.T) {
	builder := &fakeBuilder{}
	r := &Realizer{Store: testStore(t), Builder: builder, Source: testSource()}

	// No toolchain is known for x86_64 musl.
	x := testExpansion(t, nil, gnuID, "x86_64-unknown-linux-musl")
	report, err := r.Realize(context.Background(), x.Jobs())
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.Equal(t, StatusBuilt, report.Results[0].Status)
	assert.Equal(t, StatusFailed, report.Results[1].Status)
	assert.ErrorIs(t, report.Results[1].Err, toolchain.ErrUnavailable)
	assert.EqualValues(t, 1, builder.calls.Load())
}

func TestRealizeImages(t *testing.T) {
	builder := &fakeBuilder{}
	loader := &fakeLoader{}
	r := &Realizer{
		Store:    testStore(t),
		Builder:  builder,
		Source:   testSource(),
		Packager: testPackager(t),
		Loader:   loader,
	}

	x, err := testExpansion(t, nil, gnuID, armID).Select([]string{"oci-image", "static-aarch64-unknown-linux-musl", "oci-image-static-aarch64-unknown-linux-musl"})
	require.NoError(t, err)

	report, err := r.Realize(context.Background(), x.Jobs())
	require.NoError(t, err)
	require.NoError(t, report.Err())

	// The native binary was not named, so only its image is reported.
	assert.Equal(t, []string{
		"oci-image",
		"static-aarch64-unknown-linux-musl",
		"oci-image-static-aarch64-unknown-linux-musl",
	}, outputs(report))
	assert.EqualValues(t, 2, builder.calls.Load())

	native := report.Results[0]
	assert.Equal(t, KindImage, native.Kind)
	assert.Equal(t, "app:1.0.0", native.Image)
	assert.Equal(t, image.ArchiveFilename, filepath.Base(native.Path))
	assert.True(t, native.Loaded)

	cross := report.Results[2]
	assert.Equal(t, "app:1.0.0-static-aarch64-unknown-linux-musl", cross.Image)

	slices.Sort(loader.refs)
	assert.Equal(t, []string{
		"app:1.0.0 linux/amd64",
		"app:1.0.0-static-aarch64-unknown-linux-musl linux/arm64",
	}, loader.refs)

	// A second run finds both images in the cache.
	x, err = testExpansion(t, nil, gnuID).Select([]string{"oci-image"})
	require.NoError(t, err)
	again, err := r.Realize(context.Background(), x.Jobs())
	require.NoError(t, err)
	assert.Equal(t, StatusCached, again.Results[0].Status)
	assert.Equal(t, "app:1.0.0", again.Results[0].Image)
}

func TestRealizeImageFailureKeepsBinary(t *testing.T) {
	store := testStore(t)
	builder := &fakeBuilder{}
	r := &Realizer{
		Store:    store,
		Builder:  builder,
		Source:   testSource(),
		Packager: image.NewPackager(image.Config{Name: "app", Version: "1.0.0", Binary: "app", Certificates: "/nonexistent", Init: "/nonexistent"}),
	}

	x, err := testExpansion(t, nil, gnuID).Select([]string{"default", "oci-image"})
	require.NoError(t, err)

	report, err := r.Realize(context.Background(), x.Jobs())
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.Equal(t, StatusBuilt, report.Results[0].Status)
	assert.Equal(t, StatusFailed, report.Results[1].Status)
	assert.ErrorIs(t, report.Results[1].Err, image.ErrPackaging)
	assert.FileExists(t, report.Results[0].Path)
}

func TestRealizeLoadFailure(t *testing.T) {
	r := &Realizer{
		Store:    testStore(t),
		Builder:  &fakeBuilder{},
		Source:   testSource(),
		Packager: testPackager(t),
		Loader:   &fakeLoader{err: errors.New("containerd unavailable")},
	}

	x, err := testExpansion(t, nil, gnuID).Select([]string{"oci-image"})
	require.NoError(t, err)

	report, err := r.Realize(context.Background(), x.Jobs())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, StatusFailed, report.Results[0].Status)
	assert.EqualError(t, report.Results[0].Err, "containerd unavailable")
}

func TestRealizeCancelled(t *testing.T) {
	builder := &fakeBuilder{delay: time.Second}
	r := &Realizer{Store: testStore(t), Builder: builder, Source: testSource(), Jobs: 1}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	x := testExpansion(t, []variant.Allocator{variant.Default, variant.Jemalloc}, gnuID)
	report, err := r.Realize(ctx, x.Jobs())
	require.ErrorIs(t, err, context.Canceled)

	for _, res := range report.Results {
		assert.Equal(t, StatusFailed, res.Status)
	}
}
