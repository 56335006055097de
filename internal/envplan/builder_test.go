package envplan

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cruciblehq/cruxmatrix/internal/platform"
	"github.com/cruciblehq/cruxmatrix/internal/toolchain"
	"github.com/cruciblehq/cruxmatrix/internal/variant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	native = platform.MustParse("x86_64-unknown-linux-gnu")
	musl   = platform.MustParse("x86_64-unknown-linux-musl")
	arm    = platform.MustParse("aarch64-unknown-linux-musl")

	storage = Storage{Plain: "/opt/storage", Jemalloc: "/opt/storage-jemalloc"}
)

func testBuilder() *Builder {
	catalog := toolchain.Catalog{
		native.Triple(): {CC: "/usr/bin/cc", CXX: "/usr/bin/c++", LibDir: "/usr/lib"},
		musl.Triple():   {CC: "/opt/x86_64-musl/bin/cc", CXX: "/opt/x86_64-musl/bin/c++", LibDir: "/opt/x86_64-musl/lib"},
		arm.Triple():    {CC: "/opt/aarch64-musl/bin/cc", CXX: "/opt/aarch64-musl/bin/c++", LibDir: "/opt/aarch64-musl/lib"},
	}
	return NewBuilder(toolchain.NewResolver(catalog), storage, "abc1234")
}

func TestBuildNative(t *testing.T) {
	b := testBuilder()
	v := variant.Variant{Target: native, Native: true}

	plan, err := b.Build(v, platform.For(native, native))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"VERSION_EXTRA=abc1234",
		"BUILD_FEATURES=",
		"STORAGE_INCLUDE_DIR=/opt/storage/include",
		"STORAGE_LIB_DIR=/opt/storage/lib",
		"CC_X86_64_UNKNOWN_LINUX_GNU=/usr/bin/cc",
		"CXX_X86_64_UNKNOWN_LINUX_GNU=/usr/bin/c++",
		"LINKER_X86_64_UNKNOWN_LINUX_GNU=/usr/bin/cc",
	}, plan.Environ())
}

func TestBuildNativeEmitsToolchainOnce(t *testing.T) {
	plan, err := testBuilder().Build(variant.Variant{Target: native, Native: true}, platform.For(native, native))
	require.NoError(t, err)

	counts := map[string]int{}
	for _, name := range plan.Names() {
		counts[name]++
	}
	for name, n := range counts {
		assert.Equal(t, 1, n, "variable %s emitted %d times", name, n)
	}

	var toolchainVars int
	for _, e := range plan.Entries() {
		if e.Rule == RuleToolchain {
			toolchainVars++
		}
	}
	assert.Equal(t, 3, toolchainVars)
}

func TestBuildNativeJemalloc(t *testing.T) {
	plan, err := testBuilder().Build(variant.Variant{Target: native, Native: true, Allocator: variant.Jemalloc}, platform.For(native, native))
	require.NoError(t, err)

	inc, _ := plan.Get(StorageIncludeDir)
	lib, _ := plan.Get(StorageLibDir)
	features, _ := plan.Get(BuildFeatures)

	assert.Equal(t, "/opt/storage-jemalloc/include", inc)
	assert.Equal(t, "/opt/storage-jemalloc/lib", lib)
	assert.Equal(t, "jemalloc", features)
	assert.False(t, plan.Has(LinkFlags))
}

func TestBuildHardenedMallocUsesPlainStorage(t *testing.T) {
	plan, err := testBuilder().Build(variant.Variant{Target: native, Native: true, Allocator: variant.HardenedMalloc}, platform.For(native, native))
	require.NoError(t, err)

	lib, _ := plan.Get(StorageLibDir)
	assert.Equal(t, "/opt/storage/lib", lib)

	features, _ := plan.Get(BuildFeatures)
	assert.Equal(t, "hardened_malloc", features)
}

func TestBuildStaticCrossAArch64(t *testing.T) {
	plan, err := testBuilder().Build(variant.Variant{Target: arm}, platform.For(native, arm))
	require.NoError(t, err)

	assert.True(t, plan.Has(StorageStatic))
	v, _ := plan.Get(StorageStatic)
	assert.Empty(t, v)

	flags, ok := plan.Get(LinkFlags)
	require.True(t, ok)
	assert.Equal(t, "-C relocation-model=static -l c -l stdc++ -L /opt/aarch64-musl/lib", flags)

	target, _ := plan.Get(BuildTarget)
	assert.Equal(t, "aarch64-unknown-linux-musl", target)

	cc, _ := plan.Get("CC_AARCH64_UNKNOWN_LINUX_MUSL")
	assert.Equal(t, "/opt/aarch64-musl/bin/cc", cc)
	buildCC, _ := plan.Get("CC_X86_64_UNKNOWN_LINUX_GNU")
	assert.Equal(t, "/usr/bin/cc", buildCC)

	forBuild, _ := plan.Get(CCForBuild)
	assert.Equal(t, "/usr/bin/cc", forBuild)
	forBuildCXX, _ := plan.Get(CXXForBuild)
	assert.Equal(t, "/usr/bin/c++", forBuildCXX)
}

func TestBuildStaticLLVMTargetSkipsStdCxx(t *testing.T) {
	llvm := platform.MustParse("aarch64-unknown-linux-musl+llvm")
	catalog := toolchain.Catalog{
		native.Triple(): {CC: "cc", CXX: "c++"},
		llvm.Triple():   {CC: "clang", CXX: "clang++"},
	}
	b := NewBuilder(toolchain.NewResolver(catalog), storage, "abc1234")

	plan, err := b.Build(variant.Variant{Target: llvm}, platform.For(native, llvm))
	require.NoError(t, err)

	flags, _ := plan.Get(LinkFlags)
	assert.Equal(t, "-C relocation-model=static -l c", flags)
	assert.NotContains(t, flags, "stdc++")
}

func TestBuildStaticWithoutLibDirIsUnavailable(t *testing.T) {
	catalog := toolchain.Catalog{
		native.Triple(): {CC: "cc", CXX: "c++"},
		arm.Triple():    {CC: "cc", CXX: "c++"},
	}
	b := NewBuilder(toolchain.NewResolver(catalog), storage, "abc1234")

	_, err := b.Build(variant.Variant{Target: arm}, platform.For(native, arm))
	assert.ErrorIs(t, err, toolchain.ErrUnavailable)
}

func TestBuildMissingToolchain(t *testing.T) {
	riscv := platform.MustParse("riscv64-unknown-linux-gnu")

	_, err := testBuilder().Build(variant.Variant{Target: riscv}, platform.For(native, riscv))
	var uerr *toolchain.UnavailableError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, platform.Host, uerr.Role)
}

func TestStaticRelocationFlagFollowsTarget(t *testing.T) {
	targets := []platform.Descriptor{
		native,
		platform.MustParse("x86_64-unknown-linux-gnu+static"),
		musl,
		platform.MustParse("x86_64-unknown-linux-musl+shared"),
		arm,
		platform.MustParse("aarch64-unknown-linux-musl+shared"),
	}

	for _, target := range targets {
		t.Run(target.String(), func(t *testing.T) {
			catalog := toolchain.Catalog{
				native.Triple(): {CC: "cc", CXX: "c++", LibDir: "/lib"},
				target.Triple(): {CC: "tcc", CXX: "tc++", LibDir: "/tlib"},
			}
			b := NewBuilder(toolchain.NewResolver(catalog), storage, "rev")

			plan, err := b.Build(variant.Variant{Target: target}, platform.For(native, target))
			require.NoError(t, err)

			flags, _ := plan.Get(LinkFlags)
			assert.Equal(t, target.Static, strings.Contains(flags, staticRelocationFlag))
			assert.Equal(t, target.Static, plan.Has(StorageStatic))
		})
	}
}

func TestNeedsStdCxxLink(t *testing.T) {
	for _, arch := range []string{platform.AArch64, platform.I686} {
		for _, static := range []bool{false, true} {
			for _, darwin := range []bool{false, true} {
				for _, llvm := range []bool{false, true} {
					d := platform.Descriptor{Arch: arch, Vendor: "unknown", OS: platform.Linux, ABI: "musl", Static: static, LLVM: llvm}
					if darwin {
						d.Vendor, d.OS, d.ABI = "apple", platform.Darwin, ""
					}

					want := arch == platform.AArch64 && static && !darwin && !llvm
					name := fmt.Sprintf("arch=%s/static=%t/darwin=%t/llvm=%t", arch, static, darwin, llvm)
					t.Run(name, func(t *testing.T) {
						assert.Equal(t, want, NeedsStdCxxLink(d))
					})
				}
			}
		}
	}
}

func TestNeedsStdCxxLinkArchitectures(t *testing.T) {
	tests := map[string]bool{
		"x86_64-unknown-linux-musl":       true,
		"aarch64-unknown-linux-musl":      true,
		"i686-unknown-linux-musl":         false,
		"armv7-unknown-linux-musleabihf":  false,
		"riscv64-unknown-linux-musl":      false,
		"x86_64-unknown-linux-gnu":        false,
		"aarch64-apple-darwin+static":     false,
		"aarch64-apple-darwin+static+gcc": false,
	}

	for id, want := range tests {
		t.Run(id, func(t *testing.T) {
			assert.Equal(t, want, NeedsStdCxxLink(platform.MustParse(id)))
		})
	}
}

func TestCrossLibcFlags(t *testing.T) {
	assert.Empty(t, crossLibcFlags(platform.For(native, native)))
	assert.Equal(t, []string{libcFlag}, crossLibcFlags(platform.For(native, arm)))
	assert.Empty(t, crossLibcFlags(platform.Triad{Build: native, Host: native, Target: arm}))
}

func TestToolchainVarsTargetSelection(t *testing.T) {
	b := testBuilder()

	// Build and host coincide, only the target differs.
	plan, err := b.Build(variant.Variant{Target: arm}, platform.Triad{Build: native, Host: native, Target: arm})
	require.NoError(t, err)

	target, ok := plan.Get(BuildTarget)
	require.True(t, ok)
	assert.Equal(t, "aarch64-unknown-linux-musl", target)
	assert.False(t, plan.Has(CCForBuild), "for-build compilers need host != build")

	flags, _ := plan.Get(LinkFlags)
	assert.NotContains(t, flags, libcFlag)
}

func TestToolchainVarsAllDistinct(t *testing.T) {
	plan, err := testBuilder().Build(variant.Variant{Target: arm}, platform.Triad{Build: native, Host: musl, Target: arm})
	require.NoError(t, err)

	for _, key := range []string{"X86_64_UNKNOWN_LINUX_GNU", "X86_64_UNKNOWN_LINUX_MUSL", "AARCH64_UNKNOWN_LINUX_MUSL"} {
		assert.True(t, plan.Has("CC_"+key))
		assert.True(t, plan.Has("CXX_"+key))
		assert.True(t, plan.Has("LINKER_"+key))
	}
	assert.True(t, plan.Has(CCForBuild))
}

func TestBuildDeterministic(t *testing.T) {
	b := testBuilder()
	v := variant.Variant{Target: arm, Allocator: variant.Jemalloc}
	triad := platform.For(native, arm)

	first, err := b.Build(v, triad)
	require.NoError(t, err)

	for range 10 {
		again, err := b.Build(v, triad)
		require.NoError(t, err)
		assert.Equal(t, first.Environ(), again.Environ())
		assert.Equal(t, first.Digest(), again.Digest())
	}
}

func TestDigestDistinguishesAllocators(t *testing.T) {
	b := testBuilder()
	triad := platform.For(native, native)

	seen := map[string]variant.Allocator{}
	for _, a := range variant.Allocators {
		plan, err := b.Build(variant.Variant{Target: native, Native: true, Allocator: a}, triad)
		require.NoError(t, err)

		d := plan.Digest().String()
		prev, dup := seen[d]
		require.False(t, dup, "allocators %s and %s share a plan digest", prev, a)
		seen[d] = a
	}
}

func TestStorageDefaultsToPlain(t *testing.T) {
	s := Storage{Plain: "/plain"}
	assert.Equal(t, "/plain", s.Prefix(variant.Jemalloc))
}
