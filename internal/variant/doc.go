// Package variant defines the cells of the build matrix.
//
// An [Allocator] selects compile-time features and the storage engine build
// linked into the artifact. A [Variant] pairs an allocator with the platform
// the artifact runs on. Variants are values: they are created once per matrix
// cell and never modified.
package variant
