// Package envplan composes the build environment for one matrix cell.
//
// A [Plan] is an ordered, immutable mapping of variable names to values. The
// [Builder] assembles it from a fixed sequence of rules:
//
//  1. base variables: version tag, enabled features, storage engine paths
//  2. static linking: STORAGE_STATIC and the non-PIE relocation model
//  3. cross linking: an explicit libc link when build and host differ
//  4. cross linking: libstdc++ for static non-LLVM aarch64/x86_64 targets
//  5. toolchain variables for each distinct platform of the triad
//
// Rules 2 to 4 contribute link flags that are joined into LINK_FLAGS. No rule
// may bind a variable another rule already bound; assembly fails with
// [ErrDuplicateKey] instead of silently overriding. For a given variant and
// triad the plan, and therefore its [Plan.Digest], is always identical.
package envplan
