package image

import (
	"archive/tar"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// A file placed into a layer.
type file struct {
	Source string      // Path on the local filesystem.
	Target string      // Absolute path inside the image.
	Mode   os.FileMode // Permission bits.
}

// Writes tar entries with fixed ownership and timestamps.
type tarWriter struct {
	tw      *tar.Writer
	modTime time.Time
	dirs    map[string]bool
}

func newTarWriter(w io.Writer, modTime time.Time) *tarWriter {
	return &tarWriter{tw: tar.NewWriter(w), modTime: modTime, dirs: make(map[string]bool)}
}

// Writes the parent directories of name that were not written yet.
func (t *tarWriter) mkdirAll(name string) error {
	dir := path.Dir(name)
	if dir == "." || dir == "/" || dir == "" || t.dirs[dir] {
		return nil
	}
	if err := t.mkdirAll(dir); err != nil {
		return err
	}
	t.dirs[dir] = true
	return t.tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     dir + "/",
		Mode:     0755,
		ModTime:  t.modTime,
		Format:   tar.FormatPAX,
	})
}

// Writes a regular file entry read from r.
func (t *tarWriter) writeFile(name string, mode os.FileMode, size int64, r io.Reader) error {
	if err := t.mkdirAll(name); err != nil {
		return err
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     int64(mode.Perm()),
		Size:     size,
		ModTime:  t.modTime,
		Format:   tar.FormatPAX,
	}
	if err := t.tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(t.tw, r)
	return err
}

// Copies a local file into the archive.
func (t *tarWriter) copyFile(f file) error {
	src, err := os.Open(f.Source)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return &os.PathError{Op: "package", Path: f.Source, Err: os.ErrInvalid}
	}

	return t.writeFile(strings.TrimPrefix(f.Target, "/"), f.Mode, info.Size(), src)
}

func (t *tarWriter) Close() error {
	return t.tw.Close()
}

// Writes a gzip-compressed layer holding files to w.
//
// Returns the layer descriptor, whose digest covers the compressed bytes,
// and the diff ID, which covers the uncompressed tar stream.
func writeLayer(w io.Writer, files []file, modTime time.Time) (ocispec.Descriptor, digest.Digest, error) {
	compressed := digest.Canonical.Digester()
	counter := &countingWriter{w: io.MultiWriter(w, compressed.Hash())}

	zw, err := gzip.NewWriterLevel(counter, gzip.BestCompression)
	if err != nil {
		return ocispec.Descriptor{}, "", err
	}

	uncompressed := digest.Canonical.Digester()
	tw := newTarWriter(io.MultiWriter(zw, uncompressed.Hash()), modTime)

	for _, f := range files {
		if err := tw.copyFile(f); err != nil {
			return ocispec.Descriptor{}, "", err
		}
	}
	if err := tw.Close(); err != nil {
		return ocispec.Descriptor{}, "", err
	}
	if err := zw.Close(); err != nil {
		return ocispec.Descriptor{}, "", err
	}

	desc := ocispec.Descriptor{
		MediaType: ocispec.MediaTypeImageLayerGzip,
		Digest:    compressed.Digest(),
		Size:      counter.n,
	}
	return desc, uncompressed.Digest(), nil
}

// Counts bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
