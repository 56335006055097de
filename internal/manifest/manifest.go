package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cruciblehq/cruxmatrix/internal/envplan"
	"github.com/cruciblehq/cruxmatrix/internal/platform"
	"github.com/cruciblehq/cruxmatrix/internal/toolchain"
	"github.com/cruciblehq/cruxmatrix/internal/variant"
	"gopkg.in/yaml.v3"
)

// Conventional manifest filename.
const DefaultFilename = "cruxmatrix.yaml"

// Top-level manifest document.
type Manifest struct {
	Package    Package           `yaml:"package"`
	Build      Build             `yaml:"build"`
	Matrix     Matrix            `yaml:"matrix"`
	Storage    envplan.Storage   `yaml:"storage"`
	Toolchains toolchain.Catalog `yaml:"toolchains"`
	Image      Image             `yaml:"image"`

	root string // Directory containing the manifest.
}

// Describes the package being built.
type Package struct {
	Name    string   `yaml:"name"`    // Package name, also the image name.
	Version string   `yaml:"version"` // Package version.
	Binary  string   `yaml:"binary"`  // Executable name. Defaults to Name.
	Sources []string `yaml:"sources"` // Glob patterns of source files, relative to the root.
}

// Configures the package builder.
type Build struct {
	Platform string   `yaml:"platform"` // Build machine. Defaults to "native".
	Command  []string `yaml:"command"`  // Build command, run with the plan's environment.
	Artifact string   `yaml:"artifact"` // Artifact path relative to the build tree; "{target}" expands to the cross triple.
	Inputs   []string `yaml:"inputs"`   // Extra native build inputs added to PATH.
	Image    string   `yaml:"image"`    // Toolchain image for containerized builds.
	Search   bool     `yaml:"search"`   // Fall back to compilers found on $PATH.
}

// Matrix axes.
type Matrix struct {
	Allocators []variant.Allocator `yaml:"allocators"` // Defaults to [default].
	Targets    []string            `yaml:"targets"`    // Defaults to [native].
}

// Configures the image packager.
type Image struct {
	Name         string `yaml:"name"`         // Image name. Defaults to the package name.
	Certificates string `yaml:"certificates"` // CA bundle copied into the base layer.
	Init         string `yaml:"init"`         // Static init wrapper (e.g. tini).
}

// Reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifest, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifest, err)
	}

	m, err := Parse(data, filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parses a manifest document rooted at root.
//
// Unknown fields are rejected so that typos surface before any build starts.
func Parse(data []byte, root string) (*Manifest, error) {
	var m Manifest

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifest, err)
	}

	m.root = root
	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := m.canonicalizeToolchains(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Fills in defaults for omitted fields.
func (m *Manifest) applyDefaults() {
	if m.Package.Binary == "" {
		m.Package.Binary = m.Package.Name
	}
	if m.Build.Platform == "" {
		m.Build.Platform = platform.NativeID
	}
	if len(m.Matrix.Allocators) == 0 {
		m.Matrix.Allocators = []variant.Allocator{variant.Default}
	}
	if len(m.Matrix.Targets) == 0 {
		m.Matrix.Targets = []string{platform.NativeID}
	}
	if m.Image.Name == "" {
		m.Image.Name = m.Package.Name
	}
}

// Checks required fields and parses every platform identifier.
//
// Platform errors are returned as [platform.ParseError] so that bad
// identifiers abort before matrix expansion.
func (m *Manifest) Validate() error {
	switch {
	case m.Package.Name == "":
		return fmt.Errorf("%w: package.name is required", ErrManifest)
	case m.Package.Version == "":
		return fmt.Errorf("%w: package.version is required", ErrManifest)
	case len(m.Package.Sources) == 0:
		return fmt.Errorf("%w: package.sources is required", ErrManifest)
	case len(m.Build.Command) == 0:
		return fmt.Errorf("%w: build.command is required", ErrManifest)
	case m.Build.Artifact == "":
		return fmt.Errorf("%w: build.artifact is required", ErrManifest)
	case m.Storage.Plain == "":
		return fmt.Errorf("%w: storage.plain is required", ErrManifest)
	}

	if strings.ContainsAny(m.Package.Binary, `/\`) {
		return fmt.Errorf("%w: package.binary %q must be a file name", ErrManifest, m.Package.Binary)
	}

	if _, err := platform.Parse(m.Build.Platform); err != nil {
		return err
	}
	for _, id := range m.Matrix.Targets {
		if _, err := platform.Parse(id); err != nil {
			return err
		}
	}
	for id := range m.Toolchains {
		if _, err := platform.Parse(id); err != nil {
			return err
		}
	}

	return nil
}

// Rekeys the toolchain catalog by canonical platform identifier.
//
// Catalog lookups only match canonical strings, so an alias such as
// "aarch64-linux-musl" must be rewritten to the descriptor it names. Two keys
// naming the same descriptor are rejected.
func (m *Manifest) canonicalizeToolchains() error {
	if len(m.Toolchains) == 0 {
		return nil
	}

	catalog := make(toolchain.Catalog, len(m.Toolchains))
	keys := make(map[string]string, len(m.Toolchains))
	for id, tc := range m.Toolchains {
		d, err := platform.Parse(id)
		if err != nil {
			return err
		}
		key := d.String()
		if prev, ok := keys[key]; ok {
			a, b := min(prev, id), max(prev, id)
			return fmt.Errorf("%w: toolchains %q and %q both name %s", ErrManifest, a, b, key)
		}
		keys[key] = id
		catalog[key] = tc
	}
	m.Toolchains = catalog
	return nil
}

// Returns the directory containing the manifest.
func (m *Manifest) Root() string {
	return m.root
}

// Resolves a manifest-relative path.
func (m *Manifest) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.root, p)
}

// Returns the build machine descriptor.
func (m *Manifest) BuildPlatform() platform.Descriptor {
	// Validated on load.
	return platform.MustParse(m.Build.Platform)
}
