// Package cache stores build outputs under the digest of their inputs.
//
// Each entry is a directory named after its key, written in full into a
// temporary directory and renamed into place, so an entry that exists is
// complete and never changes afterwards. Cancelling a build removes only its
// own temporary directory.
//
// Concurrent requests for the same key within a process are collapsed: the
// first caller produces the entry and every other caller waits for and shares
// its result. A failed production leaves nothing behind, so the next request
// for the key tries again.
//
// Example usage:
//
//	store, err := cache.Open(paths.Artifacts())
//	if err != nil {
//	    return err
//	}
//	entry, err := store.Realize(ctx, job.Fingerprint, func(ctx context.Context, dir string) error {
//	    return build(ctx, filepath.Join(dir, "conduwuit"))
//	})
package cache
