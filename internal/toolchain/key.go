package toolchain

import (
	"strings"

	"github.com/cruciblehq/cruxmatrix/internal/platform"
)

// Environment variable suffix identifying one platform's toolchain.
type Key string

// Returns the key for a platform.
//
// The canonical platform string is upper-cased and every rune outside
// [A-Za-z0-9] becomes an underscore. Canonical strings are built from closed
// sets of components, so the mapping is injective over valid descriptors.
func KeyFor(d platform.Descriptor) Key {
	return Key(normalize(d.String()))
}

// Name of the C compiler variable (CC_<KEY>).
func (k Key) CC() string {
	return "CC_" + string(k)
}

// Name of the C++ compiler variable (CXX_<KEY>).
func (k Key) CXX() string {
	return "CXX_" + string(k)
}

// Name of the linker variable (LINKER_<KEY>).
func (k Key) Linker() string {
	return "LINKER_" + string(k)
}

func (k Key) String() string {
	return string(k)
}

func normalize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}
