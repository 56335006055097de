// Package matrix expands the allocator and target axes into build jobs.
//
// Every (target, allocator) pair is one cell. Cells are named after their
// target label and allocator, so names are unique as long as the pairs are.
// Each cell becomes a [Job] carrying its variant, platform triad, environment
// plan and cache fingerprint. Plans are built lazily while iterating
// [Expansion.Jobs]; a cell whose toolchain cannot be resolved yields a job
// with Err set and the remaining cells are unaffected.
//
// An expansion can be iterated once. Output names are resolved against the
// cells with [Expansion.Select] before iterating.
//
// Example usage:
//
//	x, err := matrix.NewExpander(buildPlatform, plans, pkgDigest).
//	    Expand(manifest.Matrix.Allocators, manifest.Matrix.Targets)
//	if err != nil {
//	    return err
//	}
//	x, err = x.Select([]string{"default", "static-aarch64-unknown-linux-musl"})
//	if err != nil {
//	    return err
//	}
//	for job := range x.Jobs() {
//	    ...
//	}
package matrix
