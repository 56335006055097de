package manifest

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/opencontainers/go-digest"
)

// Resolves the source globs to a sorted, deduplicated list of file paths.
//
// Paths are slash-separated and relative to the manifest root. Directories
// matched by a pattern are skipped. A pattern matching nothing is an error.
func (m *Manifest) Sources() ([]string, error) {
	fsys := os.DirFS(m.root)

	var files []string
	for _, pattern := range m.Package.Sources {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("%w: invalid pattern %q", ErrSources, pattern)
		}

		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrSources, pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%w: pattern %q matched no files", ErrSources, pattern)
		}
		files = append(files, matches...)
	}

	slices.Sort(files)
	return slices.Compact(files), nil
}

// Computes the package digest.
//
// The digest covers the package name and version and the path and contents
// of every source file. Each field is length-prefixed so that no two distinct
// packages share an encoding.
func (m *Manifest) Digest() (digest.Digest, error) {
	files, err := m.Sources()
	if err != nil {
		return "", err
	}

	d := digest.Canonical.Digester()
	h := d.Hash()

	writeField(h, []byte(m.Package.Name))
	writeField(h, []byte(m.Package.Version))

	fsys := os.DirFS(m.root)
	for _, name := range files {
		writeField(h, []byte(name))
		if err := hashFile(h, fsys, name); err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrSources, name, err)
		}
	}

	return d.Digest(), nil
}

// Writes a length-prefixed field.
func writeField(w io.Writer, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	w.Write(n[:])
	w.Write(b)
}

// Writes a length-prefixed file body.
func hashFile(w io.Writer, fsys fs.FS, name string) error {
	f, err := fsys.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(info.Size()))
	w.Write(n[:])

	_, err = io.Copy(w, f)
	return err
}
