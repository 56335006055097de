package platform

import (
	"fmt"
	"slices"
	"strings"

	"github.com/containerd/platforms"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Identifier that selects the machine running the tool.
const NativeID = "native"

// Maps accepted spellings to canonical architecture names.
var archAliases = map[string]string{
	"x86_64":      X86_64,
	"amd64":       X86_64,
	"aarch64":     AArch64,
	"arm64":       AArch64,
	"i686":        I686,
	"i386":        I686,
	"386":         I686,
	"x86":         I686,
	"armv7":       ARMv7,
	"armv7l":      ARMv7,
	"armhf":       ARMv7,
	"riscv64":     RISCV64,
	"riscv64gc":   RISCV64,
	"powerpc64le": PowerPC64LE,
	"ppc64le":     PowerPC64LE,
	"s390x":       S390X,
}

var vendors = []string{"unknown", "apple", "pc", "w64"}

// ABIs accepted per operating system. The first entry is the default. An
// empty entry means the triple carries no ABI component.
var abis = map[string][]string{
	Linux:   {"gnu", "musl", "gnueabihf", "musleabihf"},
	Windows: {"gnu", "msvc"},
	Darwin:  {""},
	FreeBSD: {""},
}

// Parses a platform identifier into a [Descriptor].
//
// Accepted forms are GNU-style triples ("aarch64-unknown-linux-musl",
// "x86_64-linux-gnu", "aarch64-darwin", and "x86_64-musl" with Linux implied
// by the ABI), OCI platforms ("linux/arm64") and
// [NativeID]. Any form may be followed by "+static", "+shared", "+llvm" or
// "+gcc" to override the defaults implied by the triple.
func Parse(id string) (Descriptor, error) {
	s := strings.ToLower(strings.TrimSpace(id))
	if s == "" {
		return Descriptor{}, &ParseError{ID: id, Reason: "empty identifier"}
	}

	base, mods, _ := strings.Cut(s, "+")

	var (
		d   Descriptor
		err error
	)
	switch {
	case base == NativeID:
		d, err = fromOCI(platforms.DefaultSpec())
	case strings.Contains(base, "/"):
		d, err = parseOCI(base)
	default:
		d, err = parseTriple(base)
	}
	if err != nil {
		return Descriptor{}, &ParseError{ID: id, Reason: err.Error()}
	}

	if mods != "" {
		if err := applyModifiers(&d, strings.Split(mods, "+")); err != nil {
			return Descriptor{}, &ParseError{ID: id, Reason: err.Error()}
		}
	}

	return d, nil
}

// Like [Parse] but panics on error.
func MustParse(id string) Descriptor {
	d, err := Parse(id)
	if err != nil {
		panic(err)
	}
	return d
}

// Returns the descriptor of the machine running the tool.
func Native() Descriptor {
	return MustParse(NativeID)
}

// Parses "arch-vendor-os-abi" and its shorter forms.
func parseTriple(s string) (Descriptor, error) {
	parts := strings.Split(s, "-")

	arch, ok := archAliases[parts[0]]
	if !ok {
		return Descriptor{}, fmt.Errorf("unsupported architecture %q", parts[0])
	}
	rest := parts[1:]

	vendor := ""
	if len(rest) > 0 && slices.Contains(vendors, rest[0]) {
		vendor, rest = rest[0], rest[1:]
	}

	if len(rest) == 0 {
		return Descriptor{}, fmt.Errorf("missing operating system")
	}

	// "x86_64-musl" names Linux by its ABI.
	if _, isOS := abis[rest[0]]; !isOS && len(rest) == 1 && slices.Contains(abis[Linux], rest[0]) {
		rest = []string{Linux, rest[0]}
	}

	os := rest[0]
	allowed, ok := abis[os]
	if !ok {
		return Descriptor{}, fmt.Errorf("unsupported operating system %q", os)
	}
	rest = rest[1:]

	abi := allowed[0]
	switch len(rest) {
	case 0:
	case 1:
		abi = rest[0]
	default:
		return Descriptor{}, fmt.Errorf("unexpected trailing components %q", strings.Join(rest, "-"))
	}
	if !slices.Contains(allowed, abi) {
		return Descriptor{}, fmt.Errorf("unsupported ABI %q for %s", abi, os)
	}

	return newDescriptor(arch, vendor, os, abi), nil
}

// Parses an OCI platform string such as "linux/arm64/v8".
func parseOCI(s string) (Descriptor, error) {
	p, err := platforms.Parse(s)
	if err != nil {
		return Descriptor{}, err
	}
	return fromOCI(platforms.Normalize(p))
}

// Converts an OCI platform to a descriptor with the default ABI for its OS.
func fromOCI(p ocispec.Platform) (Descriptor, error) {
	arch := p.Architecture
	if arch == "arm" && p.Variant != "" && p.Variant != "v7" {
		return Descriptor{}, fmt.Errorf("unsupported arm variant %q", p.Variant)
	}
	if arch == "arm" {
		arch = ARMv7
	}

	canonical, ok := archAliases[arch]
	if !ok {
		return Descriptor{}, fmt.Errorf("unsupported architecture %q", p.Architecture)
	}

	allowed, ok := abis[p.OS]
	if !ok {
		return Descriptor{}, fmt.Errorf("unsupported operating system %q", p.OS)
	}

	abi := allowed[0]
	if canonical == ARMv7 && p.OS == Linux {
		abi = "gnueabihf"
	}

	return newDescriptor(canonical, "", p.OS, abi), nil
}

// Fills in the default vendor and link flags for a triple.
func newDescriptor(arch, vendor, os, abi string) Descriptor {
	if vendor == "" {
		switch os {
		case Darwin:
			vendor = "apple"
		case Windows:
			vendor = "pc"
		default:
			vendor = "unknown"
		}
	}

	return Descriptor{
		Arch:   arch,
		Vendor: vendor,
		OS:     os,
		ABI:    abi,
		Static: defaultStatic(os, abi),
		LLVM:   defaultLLVM(os),
	}
}

// Applies "+modifier" suffixes, rejecting contradictions.
func applyModifiers(d *Descriptor, mods []string) error {
	seen := make(map[string]bool, len(mods))

	for _, m := range mods {
		switch m {
		case modStatic:
			d.Static = true
		case modShared:
			d.Static = false
		case modLLVM:
			d.LLVM = true
		case modGCC:
			d.LLVM = false
		default:
			return fmt.Errorf("unknown modifier %q", m)
		}
		seen[m] = true
	}

	if seen[modStatic] && seen[modShared] {
		return fmt.Errorf("modifiers %q and %q are mutually exclusive", modStatic, modShared)
	}
	if seen[modLLVM] && seen[modGCC] {
		return fmt.Errorf("modifiers %q and %q are mutually exclusive", modLLVM, modGCC)
	}

	return nil
}
