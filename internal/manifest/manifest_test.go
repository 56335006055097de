package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cruciblehq/cruxmatrix/internal/platform"
	"github.com/cruciblehq/cruxmatrix/internal/variant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
package:
  name: conduwuit
  version: 0.4.6
  sources: ["src/**/*.rs", "Cargo.toml"]
build:
  command: ["cargo", "build", "--release"]
  artifact: target/{target}/release/conduwuit
matrix:
  allocators: [default, jemalloc]
  targets: [native, aarch64-unknown-linux-musl]
storage:
  plain: /opt/rocksdb
  jemalloc: /opt/rocksdb-jemalloc
toolchains:
  aarch64-unknown-linux-musl:
    cc: /opt/cross/bin/cc
    cxx: /opt/cross/bin/c++
    lib: /opt/cross/lib
`

// Writes files relative to a fresh directory.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return root
}

func TestParse(t *testing.T) {
	m, err := Parse([]byte(sample), "/src")
	require.NoError(t, err)

	assert.Equal(t, "conduwuit", m.Package.Name)
	assert.Equal(t, "conduwuit", m.Package.Binary)
	assert.Equal(t, "conduwuit", m.Image.Name)
	assert.Equal(t, platform.NativeID, m.Build.Platform)
	assert.Equal(t, []variant.Allocator{variant.Default, variant.Jemalloc}, m.Matrix.Allocators)
	assert.Equal(t, []string{"native", "aarch64-unknown-linux-musl"}, m.Matrix.Targets)
	assert.Equal(t, "/opt/rocksdb-jemalloc", m.Storage.Jemalloc)
	assert.Equal(t, "/opt/cross/lib", m.Toolchains["aarch64-unknown-linux-musl"].LibDir)
	assert.Equal(t, "/src", m.Root())
}

func TestParseDefaults(t *testing.T) {
	m, err := Parse([]byte(`
package: {name: app, version: "1", binary: appd, sources: ["*.c"]}
build: {command: [make], artifact: appd}
storage: {plain: /opt/db}
`), "/src")
	require.NoError(t, err)

	assert.Equal(t, "appd", m.Package.Binary)
	assert.Equal(t, []variant.Allocator{variant.Default}, m.Matrix.Allocators)
	assert.Equal(t, []string{platform.NativeID}, m.Matrix.Targets)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		target error
	}{
		{"unknown field", sample + "extra: 1\n", ErrManifest},
		{"missing name", `package: {version: "1"}`, ErrManifest},
		{"bad allocator", `
package: {name: a, version: "1", sources: ["*"]}
build: {command: [make], artifact: a}
matrix: {allocators: [tcmalloc]}
storage: {plain: /opt}
`, variant.ErrUnknownAllocator},
		{"bad target", `
package: {name: a, version: "1", sources: ["*"]}
build: {command: [make], artifact: a}
matrix: {targets: [vax-dec-vms]}
storage: {plain: /opt}
`, platform.ErrParse},
		{"bad binary", `
package: {name: a, version: "1", binary: bin/a, sources: ["*"]}
build: {command: [make], artifact: a}
storage: {plain: /opt}
`, ErrManifest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), "/src")
			require.ErrorIs(t, err, tt.target)
		})
	}
}

func TestParseCanonicalizesToolchains(t *testing.T) {
	m, err := Parse([]byte(`
package: {name: a, version: "1", sources: ["*"]}
build: {command: [make], artifact: a}
matrix: {targets: [aarch64-unknown-linux-musl, x86_64-unknown-linux-gnu+static]}
storage: {plain: /opt}
toolchains:
  aarch64-linux-musl: {cc: /opt/arm/cc, cxx: /opt/arm/c++}
  x86_64-unknown-linux-gnu+static: {cc: /opt/x86/cc, cxx: /opt/x86/c++}
`), "/src")
	require.NoError(t, err)

	assert.Len(t, m.Toolchains, 2)
	assert.NotContains(t, m.Toolchains, "aarch64-linux-musl")

	tc, err := m.Toolchains.Toolchain(platform.MustParse("aarch64-unknown-linux-musl"))
	require.NoError(t, err)
	assert.Equal(t, "/opt/arm/cc", tc.CC)

	tc, err = m.Toolchains.Toolchain(platform.MustParse("x86_64-unknown-linux-gnu+static"))
	require.NoError(t, err)
	assert.Equal(t, "/opt/x86/cc", tc.CC)
}

func TestParseRejectsDuplicateToolchains(t *testing.T) {
	_, err := Parse([]byte(`
package: {name: a, version: "1", sources: ["*"]}
build: {command: [make], artifact: a}
storage: {plain: /opt}
toolchains:
  aarch64-linux-musl: {cc: /opt/a/cc}
  aarch64-unknown-linux-musl: {cc: /opt/b/cc}
`), "/src")
	require.ErrorIs(t, err, ErrManifest)
	assert.Contains(t, err.Error(), "aarch64-unknown-linux-musl")
}

func TestLoadResolvesRoot(t *testing.T) {
	root := writeTree(t, map[string]string{DefaultFilename: sample})

	m, err := Load(filepath.Join(root, DefaultFilename))
	require.NoError(t, err)

	assert.Equal(t, root, m.Root())
	assert.Equal(t, filepath.Join(root, "certs.pem"), m.Path("certs.pem"))
	assert.Equal(t, "/abs/init", m.Path("/abs/init"))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), DefaultFilename))
	require.ErrorIs(t, err, ErrManifest)
}

func TestSources(t *testing.T) {
	root := writeTree(t, map[string]string{
		"Cargo.toml":      "[package]\n",
		"src/main.rs":     "fn main() {}\n",
		"src/net/http.rs": "// http\n",
		"README.md":       "readme\n",
	})
	m := &Manifest{root: root, Package: Package{Sources: []string{"src/**/*.rs", "Cargo.toml", "src/main.rs"}}}

	files, err := m.Sources()
	require.NoError(t, err)
	assert.Equal(t, []string{"Cargo.toml", "src/main.rs", "src/net/http.rs"}, files)
}

func TestSourcesNoMatch(t *testing.T) {
	m := &Manifest{root: t.TempDir(), Package: Package{Sources: []string{"src/**/*.rs"}}}

	_, err := m.Sources()
	require.ErrorIs(t, err, ErrSources)
}

func TestDigest(t *testing.T) {
	files := map[string]string{"src/main.rs": "fn main() {}\n", "Cargo.toml": "[package]\n"}
	pkg := Package{Name: "app", Version: "1.0.0", Sources: []string{"src/**", "Cargo.toml"}}

	a := &Manifest{root: writeTree(t, files), Package: pkg}
	b := &Manifest{root: writeTree(t, files), Package: pkg}

	da, err := a.Digest()
	require.NoError(t, err)
	db, err := b.Digest()
	require.NoError(t, err)
	assert.Equal(t, da, db, "identical trees in different directories")

	require.NoError(t, os.WriteFile(filepath.Join(b.root, "src", "main.rs"), []byte("fn main() { }\n"), 0644))
	db, err = b.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, da, db, "content change")

	c := &Manifest{root: a.root, Package: pkg}
	c.Package.Version = "1.0.1"
	dc, err := c.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, da, dc, "version change")
}
