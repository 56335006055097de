package image

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cruciblehq/cruxmatrix/internal/paths"
	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (

	// Filename of the archive written by Package.
	ArchiveFilename = "image.tar"

	// Filename of the spec written next to the archive.
	SpecFilename = "image.json"

	// Location of the CA bundle inside the image.
	CertificatesPath = "/etc/ssl/certs/ca-certificates.crt"

	// Location of the init wrapper inside the image.
	InitPath = "/sbin/init-wrapper"

	// Directory holding the binary inside the image.
	binDir = "/bin"

	// Annotation containerd reads the image name from on import.
	containerdImageName = "io.containerd.image.name"

	// Tag of the native default cell.
	defaultLabel = "default"
)

// Inputs shared by every image of a package.
type Config struct {
	Name         string    // Image name.
	Version      string    // Package version, the tag prefix.
	Binary       string    // Executable name inside the image.
	Certificates string    // Local CA bundle.
	Init         string    // Local static init wrapper.
	Revision     string    // Source revision recorded in annotations.
	Created      time.Time // Creation time; zero means the Unix epoch.
}

// One image to package.
type Request struct {
	Artifact string           // Local path of the built binary.
	Label    string           // Variant label, appended to the tag.
	Platform ocispec.Platform // Platform the binary runs on.
}

// Describes a packaged image.
type Spec struct {
	Name       string               `json:"name"`       // Image name.
	Tag        string               `json:"tag"`        // Image tag.
	Entrypoint []string             `json:"entrypoint"` // Process started by the image.
	Created    time.Time            `json:"created"`    // Creation time.
	Platform   ocispec.Platform     `json:"platform"`   // Image platform.
	Layers     []ocispec.Descriptor `json:"layers"`     // Base layer first.
	Manifest   ocispec.Descriptor   `json:"manifest"`   // Image manifest.
	Path       string               `json:"-"`          // OCI layout archive.
}

// Returns "<name>:<tag>".
func (s *Spec) Reference() string {
	return s.Name + ":" + s.Tag
}

// Builds images from artifacts.
type Packager struct {
	cfg Config
}

// Creates a packager.
func NewPackager(cfg Config) *Packager {
	if cfg.Created.IsZero() {
		cfg.Created = time.Unix(0, 0)
	}
	cfg.Created = cfg.Created.UTC()
	return &Packager{cfg: cfg}
}

// Returns the entrypoint of the packaged images.
func (p *Packager) Entrypoint() []string {
	return []string{InitPath, "--", binDir + "/" + p.cfg.Binary}
}

// Returns the tag for a variant label.
//
// The native default cell is tagged with the bare version; other cells
// append their label. Characters not allowed in tags become "_".
func (p *Packager) Tag(label string) string {
	tag := p.cfg.Version
	if label != "" && label != defaultLabel {
		tag += "-" + label
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, tag)
}

// Packages an artifact and writes the archive into dir.
//
// The archive is an OCI image layout holding a single manifest, written to
// dir/image.tar. Failures are reported as [ErrPackaging]; the artifact is
// never modified.
func (p *Packager) Package(ctx context.Context, req Request, dir string) (*Spec, error) {
	spec, err := p.pack(ctx, req, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPackaging, req.Label, err)
	}

	slog.Info("image packaged", "image", spec.Reference(), "manifest", spec.Manifest.Digest)

	return spec, nil
}

func (p *Packager) pack(ctx context.Context, req Request, dir string) (*Spec, error) {
	layout, err := os.MkdirTemp(dir, "layout-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(layout)

	blobs := &blobWriter{dir: filepath.Join(layout, ocispec.ImageBlobsDir, digest.Canonical.String())}
	if err := os.MkdirAll(blobs.dir, paths.DefaultDirMode); err != nil {
		return nil, err
	}

	layerFiles := [][]file{
		{{Source: p.cfg.Certificates, Target: CertificatesPath, Mode: 0644}},
		{
			{Source: p.cfg.Init, Target: InitPath, Mode: 0755},
			{Source: req.Artifact, Target: binDir + "/" + p.cfg.Binary, Mode: 0755},
		},
	}

	var layers []ocispec.Descriptor
	var diffIDs []digest.Digest
	for _, files := range layerFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		desc, diffID, err := blobs.layer(files, p.cfg.Created)
		if err != nil {
			return nil, err
		}
		layers = append(layers, desc)
		diffIDs = append(diffIDs, diffID)
	}

	spec := &Spec{
		Name:       p.cfg.Name,
		Tag:        p.Tag(req.Label),
		Entrypoint: p.Entrypoint(),
		Created:    p.cfg.Created,
		Platform:   req.Platform,
		Layers:     layers,
	}

	config, err := blobs.json(ocispec.MediaTypeImageConfig, p.imageConfig(spec, diffIDs))
	if err != nil {
		return nil, err
	}

	spec.Manifest, err = blobs.json(ocispec.MediaTypeImageManifest, ocispec.Manifest{
		Versioned:   specs.Versioned{SchemaVersion: 2},
		MediaType:   ocispec.MediaTypeImageManifest,
		Config:      config,
		Layers:      layers,
		Annotations: p.annotations(),
	})
	if err != nil {
		return nil, err
	}
	spec.Manifest.Platform = &spec.Platform
	spec.Manifest.Annotations = map[string]string{
		ocispec.AnnotationRefName: spec.Tag,
		containerdImageName:       spec.Reference(),
	}

	if err := writeJSON(filepath.Join(layout, ocispec.ImageLayoutFile), ocispec.ImageLayout{Version: ocispec.ImageLayoutVersion}); err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(layout, ocispec.ImageIndexFile), ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: []ocispec.Descriptor{spec.Manifest},
	}); err != nil {
		return nil, err
	}

	spec.Path = filepath.Join(dir, ArchiveFilename)
	if err := archiveLayout(layout, spec.Path, p.cfg.Created); err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(dir, SpecFilename), spec); err != nil {
		return nil, err
	}

	return spec, nil
}

// Returns the image config.
func (p *Packager) imageConfig(spec *Spec, diffIDs []digest.Digest) ocispec.Image {
	created := spec.Created
	return ocispec.Image{
		Created:  &created,
		Platform: spec.Platform,
		Config: ocispec.ImageConfig{
			Entrypoint: spec.Entrypoint,
			Env:        []string{"SSL_CERT_FILE=" + CertificatesPath},
			Labels:     p.annotations(),
		},
		RootFS: ocispec.RootFS{Type: "layers", DiffIDs: diffIDs},
	}
}

// Returns the annotations recorded on the manifest and config.
func (p *Packager) annotations() map[string]string {
	a := map[string]string{
		ocispec.AnnotationCreated: p.cfg.Created.Format(time.RFC3339),
		ocispec.AnnotationTitle:   p.cfg.Name,
		ocispec.AnnotationVersion: p.cfg.Version,
	}
	if p.cfg.Revision != "" {
		a[ocispec.AnnotationRevision] = p.cfg.Revision
	}
	return a
}

// Reads the spec of an image packaged into dir.
func ReadSpec(dir string) (*Spec, error) {
	data, err := os.ReadFile(filepath.Join(dir, SpecFilename))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPackaging, err)
	}
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPackaging, err)
	}
	spec.Path = filepath.Join(dir, ArchiveFilename)
	return &spec, nil
}

// Digests every packaging input except the artifact.
//
// Combined with the artifact fingerprint it keys the packaged image, so a
// changed certificate bundle, init wrapper or revision date repackages.
func (p *Packager) Digest() (digest.Digest, error) {
	d := digest.Canonical.Digester()
	enc := json.NewEncoder(d.Hash())
	if err := enc.Encode(p.cfg); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPackaging, err)
	}
	for _, name := range []string{p.cfg.Certificates, p.cfg.Init} {
		f, err := os.Open(name)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrPackaging, err)
		}
		_, err = io.Copy(d.Hash(), f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrPackaging, err)
		}
	}
	return d.Digest(), nil
}

// Writes content-addressed blobs into a layout directory.
type blobWriter struct {
	dir string
}

// Writes a compressed layer blob.
func (b *blobWriter) layer(files []file, modTime time.Time) (ocispec.Descriptor, digest.Digest, error) {
	tmp, err := os.CreateTemp(b.dir, "layer-*")
	if err != nil {
		return ocispec.Descriptor{}, "", err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	desc, diffID, err := writeLayer(tmp, files, modTime)
	if err != nil {
		return ocispec.Descriptor{}, "", err
	}
	if err := tmp.Close(); err != nil {
		return ocispec.Descriptor{}, "", err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(b.dir, desc.Digest.Encoded())); err != nil {
		return ocispec.Descriptor{}, "", err
	}
	return desc, diffID, nil
}

// Serializes v and writes it as a blob.
func (b *blobWriter) json(mediaType string, v any) (ocispec.Descriptor, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	desc := ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(data),
		Size:      int64(len(data)),
	}
	if err := os.WriteFile(filepath.Join(b.dir, desc.Digest.Encoded()), data, paths.DefaultFileMode); err != nil {
		return ocispec.Descriptor{}, err
	}
	return desc, nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, paths.DefaultFileMode)
}

// Writes the layout directory as an uncompressed tar archive.
//
// Entries are written in a fixed order with the given modification time so
// that equal layouts produce equal archives.
func archiveLayout(layout, dest string, modTime time.Time) error {
	blobDir := filepath.Join(layout, ocispec.ImageBlobsDir, digest.Canonical.String())
	entries, err := os.ReadDir(blobDir)
	if err != nil {
		return err
	}

	var blobs []string
	for _, e := range entries {
		blobs = append(blobs, e.Name())
	}
	slices.Sort(blobs)

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	tw := newTarWriter(out, modTime)

	files := []string{ocispec.ImageLayoutFile, ocispec.ImageIndexFile}
	for _, name := range blobs {
		files = append(files, ocispec.ImageBlobsDir+"/"+digest.Canonical.String()+"/"+name)
	}

	for _, name := range files {
		if err := tw.copyFile(file{Source: filepath.Join(layout, filepath.FromSlash(name)), Target: name, Mode: 0644}); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return out.Close()
}
