package envplan

import (
	"path/filepath"
	"strings"

	"github.com/cruciblehq/cruxmatrix/internal/platform"
	"github.com/cruciblehq/cruxmatrix/internal/toolchain"
	"github.com/cruciblehq/cruxmatrix/internal/variant"
)

// Variables surfaced to the package builder.
const (
	VersionExtra      = "VERSION_EXTRA"
	BuildFeatures     = "BUILD_FEATURES"
	StorageIncludeDir = "STORAGE_INCLUDE_DIR"
	StorageLibDir     = "STORAGE_LIB_DIR"
	StorageStatic     = "STORAGE_STATIC"
	LinkFlags         = "LINK_FLAGS"
	BuildTarget       = "BUILD_TARGET"
	CCForBuild        = "CC_FOR_BUILD"
	CXXForBuild       = "CXX_FOR_BUILD"
)

// Link flag fragments.
const (
	staticRelocationFlag = "-C relocation-model=static"
	libcFlag             = "-l c"
	stdCxxFlag           = "-l stdc++"
)

// Install prefixes of the two storage engine builds.
type Storage struct {
	Plain    string `yaml:"plain"`    // Storage engine built without jemalloc.
	Jemalloc string `yaml:"jemalloc"` // Storage engine built with jemalloc integration.
}

// Returns the storage engine prefix matching the allocator.
func (s Storage) Prefix(a variant.Allocator) string {
	if a.JemallocStorage() && s.Jemalloc != "" {
		return s.Jemalloc
	}
	return s.Plain
}

// Rule 1: version tag, features and storage engine paths.
func baseVars(versionExtra string, storage Storage, v variant.Variant) []Entry {
	prefix := storage.Prefix(v.Allocator)

	return []Entry{
		{Name: VersionExtra, Value: versionExtra},
		{Name: BuildFeatures, Value: strings.Join(v.Allocator.Features(), ",")},
		{Name: StorageIncludeDir, Value: filepath.Join(prefix, "include")},
		{Name: StorageLibDir, Value: filepath.Join(prefix, "lib")},
	}
}

// Rule 2: static targets link the storage engine statically and disable PIE.
//
// The C++ runtime objects of the base toolchain are not position
// independent, so a static PIE cannot be linked against them.
func staticLinkVars(t platform.Triad) ([]Entry, []string) {
	if !t.Target.Static {
		return nil, nil
	}
	return []Entry{{Name: StorageStatic, Value: ""}}, []string{staticRelocationFlag}
}

// Rule 3: some cross toolchains do not link libc implicitly.
func crossLibcFlags(t platform.Triad) []string {
	if t.Build == t.Host {
		return nil
	}
	return []string{libcFlag}
}

// Reports whether a target needs libstdc++ linked explicitly.
//
// Holds exactly for static, non-Darwin, non-LLVM aarch64 and x86_64 targets.
// Other toolchains either link it themselves or do not ship it; widening or
// narrowing the condition breaks real builds.
func NeedsStdCxxLink(d platform.Descriptor) bool {
	return (d.IsAArch64() || d.IsX86_64()) && d.Static && !d.IsDarwin() && !d.LLVM
}

// Rule 4: explicit libstdc++ link with its search path.
func stdCxxFlags(t platform.Triad, target toolchain.Resolution) ([]string, error) {
	if !NeedsStdCxxLink(t.Target) {
		return nil, nil
	}
	if target.LibDir == "" {
		return nil, &toolchain.UnavailableError{Role: platform.Target, Platform: t.Target, Tool: "libstdc++"}
	}
	return []string{stdCxxFlag, "-L " + target.LibDir}, nil
}

// Rule 5: compiler and linker bindings per resolved platform.
//
// A target that differs from host or build is selected explicitly. When host
// differs from build, build-time code generators get the build machine's
// compilers through the for-build variables.
func toolchainVars(t platform.Triad, resolutions []toolchain.Resolution) []Entry {
	vars := make([]Entry, 0, 3*len(resolutions)+3)

	for _, r := range resolutions {
		vars = append(vars,
			Entry{Name: r.CCVar, Value: r.CCPath},
			Entry{Name: r.CXXVar, Value: r.CXXPath},
			Entry{Name: r.LinkerVar, Value: r.LinkerPath},
		)
	}

	if t.Target != t.Host || t.Target != t.Build {
		vars = append(vars, Entry{Name: BuildTarget, Value: t.Target.Triple()})
	}

	if t.Host != t.Build {
		if build, ok := resolutionFor(resolutions, t.Build); ok {
			vars = append(vars,
				Entry{Name: CCForBuild, Value: build.CCPath},
				Entry{Name: CXXForBuild, Value: build.CXXPath},
			)
		}
	}

	return vars
}

// Finds the resolution for a platform.
func resolutionFor(resolutions []toolchain.Resolution, d platform.Descriptor) (toolchain.Resolution, bool) {
	for _, r := range resolutions {
		if r.Platform == d {
			return r, true
		}
	}
	return toolchain.Resolution{}, false
}
