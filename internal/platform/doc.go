// Package platform models the build, host, and target machines of a
// cross-compilation.
//
// A [Descriptor] is parsed from a platform identifier such as
// "aarch64-unknown-linux-musl", an OCI platform such as "linux/arm64", or the
// literal "native". Descriptors are plain values: two descriptors are equal
// exactly when their canonical strings are equal, which makes the canonical
// string a safe basis for environment variable names and cache keys.
//
// A [Triad] groups the three descriptors by [Role]. Roles may coincide (a
// native build) or differ (a cross build); the triad only records which
// machines are involved, it never decides which variables to emit.
//
// Example usage:
//
//	triad, err := platform.NewTriad("native", "", "aarch64-unknown-linux-musl")
//	if err != nil {
//	    return err
//	}
//	if triad.IsCrossCompiling() {
//	    slog.Info("cross build", "target", triad.Target)
//	}
package platform
