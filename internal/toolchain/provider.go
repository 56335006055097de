package toolchain

import (
	"errors"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cruciblehq/cruxmatrix/internal/platform"
)

// Executables and library paths for one platform.
type Toolchain struct {
	CC     string `yaml:"cc"`     // C compiler.
	CXX    string `yaml:"cxx"`    // C++ compiler.
	Linker string `yaml:"linker"` // Linker driver. Defaults to CC when empty.
	LibDir string `yaml:"lib"`    // Directory holding the C++ runtime (libstdc++).
}

// Supplies toolchains per platform.
//
// Implementations return an [UnavailableError] (with Role left for the
// resolver to fill in) when they cannot serve the platform.
type Provider interface {
	Toolchain(d platform.Descriptor) (Toolchain, error)
}

// Toolchains declared up front, keyed by platform identifier.
//
// Lookups try the canonical string first and then the bare triple, so one
// entry can serve both the static and dynamic flavour of a triple.
type Catalog map[string]Toolchain

// Returns the declared toolchain for a platform.
func (c Catalog) Toolchain(d platform.Descriptor) (Toolchain, error) {
	if tc, ok := c[d.String()]; ok {
		return tc, nil
	}
	if tc, ok := c[d.Triple()]; ok {
		return tc, nil
	}
	return Toolchain{}, &UnavailableError{Platform: d, Tool: "toolchain"}
}

// Finds compilers on $PATH.
//
// The native platform uses "cc" and "c++". Other platforms use the
// conventional "<triple>-gcc" and "<triple>-g++" names of GNU cross
// toolchains. The library directory is the one the C++ compiler reports for
// libstdc++.a, and stays empty when the compiler has none.
type Search struct {
	Native   platform.Descriptor                               // Platform whose toolchain is unprefixed.
	LookPath func(file string) (string, error)                 // Defaults to exec.LookPath.
	Output   func(name string, args ...string) ([]byte, error) // Defaults to running the command.
}

// Returns the toolchain found on $PATH for a platform.
func (s Search) Toolchain(d platform.Descriptor) (Toolchain, error) {
	cc, cxx := "cc", "c++"
	if d != s.Native {
		cc, cxx = d.Triple()+"-gcc", d.Triple()+"-g++"
	}

	ccPath, err := s.lookPath(cc)
	if err != nil {
		return Toolchain{}, &UnavailableError{Platform: d, Tool: cc}
	}

	cxxPath, err := s.lookPath(cxx)
	if err != nil {
		return Toolchain{}, &UnavailableError{Platform: d, Tool: cxx}
	}

	return Toolchain{CC: ccPath, CXX: cxxPath, Linker: ccPath, LibDir: s.libDir(cxxPath)}, nil
}

// Asks a C++ compiler where its libstdc++.a lives.
//
// GCC echoes the bare file name when the library is not installed.
func (s Search) libDir(cxx string) string {
	output := s.Output
	if output == nil {
		output = func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).Output()
		}
	}

	out, err := output(cxx, "-print-file-name=libstdc++.a")
	if err != nil {
		return ""
	}
	lib := strings.TrimSpace(string(out))
	if !filepath.IsAbs(lib) {
		return ""
	}
	return filepath.Dir(lib)
}

func (s Search) lookPath(file string) (string, error) {
	if s.LookPath != nil {
		return s.LookPath(file)
	}
	return exec.LookPath(file)
}

// Tries providers in order and returns the first toolchain found.
type Chain []Provider

// Returns the first available toolchain, or the last unavailability error.
func (c Chain) Toolchain(d platform.Descriptor) (Toolchain, error) {
	err := error(&UnavailableError{Platform: d, Tool: "toolchain"})

	for _, p := range c {
		tc, perr := p.Toolchain(d)
		if perr == nil {
			return tc, nil
		}
		if !errors.Is(perr, ErrUnavailable) {
			return Toolchain{}, perr
		}
		err = perr
	}

	return Toolchain{}, err
}
