package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cruciblehq/cruxmatrix/internal/build"
	"github.com/cruciblehq/cruxmatrix/internal/manifest"
	"github.com/cruciblehq/cruxmatrix/internal/matrix"
	"github.com/cruciblehq/cruxmatrix/internal/platform"
	"github.com/cruciblehq/cruxmatrix/internal/toolchain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testManifest = `
package:
  name: app
  version: 1.2.0
  sources: ["src/**/*.c"]
build:
  platform: x86_64-unknown-linux-gnu
  command: ["/bin/sh", "-c", "mkdir -p \"out/$BUILD_TARGET\" && printf '%s %s' \"$VERSION_EXTRA\" \"$BUILD_FEATURES\" > \"out/$BUILD_TARGET/app\""]
  artifact: out/{target}/app
matrix:
  allocators: [default, jemalloc]
  targets: [x86_64-unknown-linux-gnu, aarch64-unknown-linux-musl]
storage:
  plain: /opt/rocksdb
  jemalloc: /opt/rocksdb-jemalloc
toolchains:
  x86_64-unknown-linux-gnu:
    cc: /usr/bin/cc
    cxx: /usr/bin/c++
    lib: /usr/lib
  aarch64-unknown-linux-musl:
    cc: /opt/cross/bin/aarch64-linux-musl-gcc
    cxx: /opt/cross/bin/aarch64-linux-musl-g++
    lib: /opt/cross/lib
`

func writeProject(t *testing.T, doc string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "main.c"), []byte("int main(void) { return 0; }\n"), 0644))
	path := filepath.Join(root, manifest.DefaultFilename)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	return path
}

func openTest(t *testing.T, doc string) *Pipeline {
	t.Helper()
	p, err := Open(Options{Manifest: writeProject(t, doc), CacheDir: t.TempDir(), Jobs: 2})
	require.NoError(t, err)
	return p
}

func TestOutputs(t *testing.T) {
	p := openTest(t, testManifest)

	var names []string
	for _, o := range p.Outputs() {
		names = append(names, o.Name)
	}
	assert.Equal(t, []string{
		"default", "oci-image",
		"jemalloc", "oci-image-jemalloc",
		"static-aarch64-unknown-linux-musl", "oci-image-static-aarch64-unknown-linux-musl",
		"static-aarch64-unknown-linux-musl-jemalloc", "oci-image-static-aarch64-unknown-linux-musl-jemalloc",
	}, names)

	out := p.Outputs()[5]
	assert.Equal(t, KindImage, out.Kind)
	assert.Equal(t, "aarch64-unknown-linux-musl", out.Job)
	assert.Equal(t, "aarch64-unknown-linux-musl", out.Target)
}

func TestPlan(t *testing.T) {
	p := openTest(t, testManifest)

	plan, err := p.Plan("static-aarch64-unknown-linux-musl-jemalloc")
	require.NoError(t, err)

	// The temporary project is outside any repository.
	extra, _ := plan.Get("VERSION_EXTRA")
	assert.Equal(t, "dirty", extra)
	target, _ := plan.Get("BUILD_TARGET")
	assert.Equal(t, "aarch64-unknown-linux-musl", target)
	lib, _ := plan.Get("STORAGE_LIB_DIR")
	assert.Equal(t, "/opt/rocksdb-jemalloc/lib", lib)

	_, err = p.Plan("nope")
	assert.ErrorIs(t, err, matrix.ErrUnknownOutput)
}

func TestPlanToolchainUnavailable(t *testing.T) {
	p := openTest(t, `
package: {name: app, version: "1.0", sources: ["src/*.c"]}
build: {platform: x86_64-unknown-linux-gnu, command: ["true"], artifact: app}
matrix: {targets: [x86_64-unknown-linux-gnu, aarch64-unknown-linux-gnu]}
storage: {plain: /opt/rocksdb}
toolchains:
  x86_64-unknown-linux-gnu: {cc: /usr/bin/cc, cxx: /usr/bin/c++}
`)

	_, err := p.Plan("default")
	assert.NoError(t, err)

	_, err = p.Plan("aarch64-unknown-linux-gnu")
	assert.ErrorIs(t, err, toolchain.ErrUnavailable)
}

func TestOpenBadTarget(t *testing.T) {
	path := writeProject(t, `
package: {name: app, version: "1.0", sources: ["src/*.c"]}
build: {command: ["true"], artifact: app}
matrix: {targets: [sparc-unknown-linux-gnu]}
storage: {plain: /opt/rocksdb}
`)
	_, err := Open(Options{Manifest: path})
	assert.ErrorIs(t, err, platform.ErrParse)
}

func TestBuild(t *testing.T) {
	p := openTest(t, testManifest)

	report, err := p.Build(context.Background(), nil, false)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.Len(t, report.Results, 4)

	for _, res := range report.Results {
		assert.Equal(t, build.KindBinary, res.Kind)
		assert.Equal(t, build.StatusBuilt, res.Status)
	}

	data, err := os.ReadFile(report.Results[1].Path)
	require.NoError(t, err)
	assert.Equal(t, "dirty jemalloc", string(data))

	again, err := p.Build(context.Background(), []string{"jemalloc"}, false)
	require.NoError(t, err)
	require.Len(t, again.Results, 1)
	assert.Equal(t, build.StatusCached, again.Results[0].Status)
}

func TestBuildUnknownOutput(t *testing.T) {
	p := openTest(t, testManifest)

	_, err := p.Build(context.Background(), []string{"default", "static-default"}, false)
	assert.ErrorIs(t, err, matrix.ErrUnknownOutput)
}

func TestBuildImagesRequireInputs(t *testing.T) {
	p := openTest(t, testManifest)

	_, err := p.Build(context.Background(), []string{"oci-image"}, false)
	assert.ErrorIs(t, err, ErrImageInputs)
}
