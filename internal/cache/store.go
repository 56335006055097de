package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cruciblehq/cruxmatrix/internal/paths"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"
)

// Directory under the store root holding entries being written.
const tmpDir = "tmp"

// Writes the contents of a new entry into dir.
type ProduceFunc func(ctx context.Context, dir string) error

// A complete cache entry.
type Entry struct {
	Key digest.Digest // Input digest.
	Dir string        // Entry directory.
	Hit bool          // Whether the entry existed before the request.
}

// Returns the path of a file inside the entry.
func (e *Entry) Path(name string) string {
	return filepath.Join(e.Dir, name)
}

// Returns the total size of the files in the entry.
func (e *Entry) Size() (int64, error) {
	var total int64
	err := filepath.WalkDir(e.Dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCache, err)
	}
	return total, nil
}

// Content-addressed store of build outputs.
type Store struct {
	root  string
	group singleflight.Group
}

// Opens the store rooted at root, creating it when missing.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, tmpDir), paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}
	return &Store{root: root}, nil
}

// Returns the store root.
func (s *Store) Root() string {
	return s.root
}

// Returns the directory of the entry for key.
func (s *Store) dir(key digest.Digest) (string, error) {
	if err := key.Validate(); err != nil {
		return "", fmt.Errorf("%w %q: %w", ErrInvalid, key, err)
	}
	return filepath.Join(s.root, key.Algorithm().String(), key.Encoded()), nil
}

// Returns the entry for key if it exists.
func (s *Store) Lookup(key digest.Digest) (*Entry, bool, error) {
	dir, err := s.dir(key)
	if err != nil {
		return nil, false, err
	}

	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrCache, err)
	}
	if !info.IsDir() {
		return nil, false, fmt.Errorf("%w: %s is not a directory", ErrCache, dir)
	}

	return &Entry{Key: key, Dir: dir, Hit: true}, true, nil
}

// Returns the entry for key, producing it first when missing.
//
// At most one produce call runs per key at a time; concurrent callers for
// the same key wait for it and receive the same entry or error. A caller
// whose context is cancelled stops waiting without cancelling the shared
// production. Errors returned by produce are passed through unchanged and
// are not remembered.
func (s *Store) Realize(ctx context.Context, key digest.Digest, produce ProduceFunc) (*Entry, error) {
	if entry, ok, err := s.Lookup(key); err != nil || ok {
		return entry, err
	}

	ch := s.group.DoChan(key.String(), func() (any, error) {
		return s.produce(context.WithoutCancel(ctx), key, produce)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		entry := *res.Val.(*Entry)
		if res.Shared {
			slog.Debug("shared cache production", "key", key)
		}
		return &entry, nil
	}
}

// Runs produce into a temporary directory and moves the result into place.
func (s *Store) produce(ctx context.Context, key digest.Digest, produce ProduceFunc) (*Entry, error) {

	// Another caller may have finished between the lookup and the flight.
	if entry, ok, err := s.Lookup(key); err != nil || ok {
		return entry, err
	}

	dir, err := s.dir(key)
	if err != nil {
		return nil, err
	}

	tmp, err := os.MkdirTemp(filepath.Join(s.root, tmpDir), key.Encoded()+"-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}
	defer os.RemoveAll(tmp)

	slog.Debug("producing cache entry", "key", key, "tmp", tmp)

	if err := produce(ctx, tmp); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dir), paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}

	if err := os.Rename(tmp, dir); err != nil {

		// Another process committed the same key first.
		if entry, ok, lerr := s.Lookup(key); lerr == nil && ok {
			return entry, nil
		}
		return nil, fmt.Errorf("%w: committing %s: %w", ErrCache, key, err)
	}

	slog.Debug("cache entry committed", "key", key, "dir", dir)

	return &Entry{Key: key, Dir: dir}, nil
}
