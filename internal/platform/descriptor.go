package platform

import (
	"strings"

	"github.com/containerd/platforms"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Canonical architecture names.
const (
	X86_64      = "x86_64"
	AArch64     = "aarch64"
	I686        = "i686"
	ARMv7       = "armv7"
	RISCV64     = "riscv64"
	PowerPC64LE = "powerpc64le"
	S390X       = "s390x"
)

// Canonical operating system names.
const (
	Linux   = "linux"
	Darwin  = "darwin"
	Windows = "windows"
	FreeBSD = "freebsd"
)

// Modifiers appended to the canonical string when a flag deviates from the
// default implied by the triple.
const (
	modStatic = "static"
	modShared = "shared"
	modLLVM   = "llvm"
	modGCC    = "gcc"
)

// Describes one machine taking part in a build.
//
// The zero value is not a valid descriptor. Use [Parse] or [Native].
type Descriptor struct {
	Arch   string // Canonical CPU architecture (e.g. "aarch64").
	Vendor string // Vendor field of the triple (e.g. "unknown", "apple").
	OS     string // Operating system family (e.g. "linux").
	ABI    string // libc/ABI, empty when the OS has none in its triple.
	Static bool   // Whether artifacts for this platform are statically linked.
	LLVM   bool   // Whether the platform's C toolchain is LLVM-based.
}

// Returns the GNU-style triple without modifiers.
func (d Descriptor) Triple() string {
	parts := []string{d.Arch, d.Vendor, d.OS}
	if d.ABI != "" {
		parts = append(parts, d.ABI)
	}
	return strings.Join(parts, "-")
}

// Returns the canonical identifier.
//
// The triple is followed by "+static", "+shared", "+llvm" or "+gcc" only when
// the corresponding flag differs from the default for that triple, so the
// result round-trips through [Parse] and distinguishes every descriptor.
func (d Descriptor) String() string {
	var b strings.Builder
	b.WriteString(d.Triple())

	if d.Static != defaultStatic(d.OS, d.ABI) {
		b.WriteByte('+')
		if d.Static {
			b.WriteString(modStatic)
		} else {
			b.WriteString(modShared)
		}
	}
	if d.LLVM != defaultLLVM(d.OS) {
		b.WriteByte('+')
		if d.LLVM {
			b.WriteString(modLLVM)
		} else {
			b.WriteString(modGCC)
		}
	}

	return b.String()
}

func (d Descriptor) IsDarwin() bool  { return d.OS == Darwin }
func (d Descriptor) IsLinux() bool   { return d.OS == Linux }
func (d Descriptor) IsAArch64() bool { return d.Arch == AArch64 }
func (d Descriptor) IsX86_64() bool  { return d.Arch == X86_64 }

// Reports whether the platform uses musl libc.
func (d Descriptor) IsMusl() bool {
	return strings.HasPrefix(d.ABI, "musl")
}

// Returns the OCI platform for images that run on this machine.
func (d Descriptor) OCI() ocispec.Platform {
	p := ocispec.Platform{OS: d.OS}

	switch d.Arch {
	case X86_64:
		p.Architecture = "amd64"
	case AArch64:
		p.Architecture = "arm64"
	case I686:
		p.Architecture = "386"
	case ARMv7:
		p.Architecture = "arm"
		p.Variant = "v7"
	case PowerPC64LE:
		p.Architecture = "ppc64le"
	default:
		p.Architecture = d.Arch
	}

	return platforms.Normalize(p)
}

// Musl targets are linked statically unless stated otherwise.
func defaultStatic(os, abi string) bool {
	return os == Linux && strings.HasPrefix(abi, "musl")
}

// Apple platforms ship an LLVM toolchain.
func defaultLLVM(os string) bool {
	return os == Darwin
}
