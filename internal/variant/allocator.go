package variant

import (
	"fmt"
	"strings"
)

// Memory allocator linked into the artifact.
type Allocator int

const (
	Default        Allocator = iota // System allocator.
	Jemalloc                        // jemalloc, with a jemalloc-enabled storage engine.
	HardenedMalloc                  // GrapheneOS hardened_malloc.
)

// All allocators in matrix order.
var Allocators = []Allocator{Default, Jemalloc, HardenedMalloc}

// Returns the label used in output names.
func (a Allocator) String() string {
	switch a {
	case Default:
		return "default"
	case Jemalloc:
		return "jemalloc"
	case HardenedMalloc:
		return "hmalloc"
	default:
		return fmt.Sprintf("allocator(%d)", int(a))
	}
}

// Returns the compile-time features enabling the allocator.
func (a Allocator) Features() []string {
	switch a {
	case Jemalloc:
		return []string{"jemalloc"}
	case HardenedMalloc:
		return []string{"hardened_malloc"}
	default:
		return nil
	}
}

// Reports whether the storage engine must be built with jemalloc support.
func (a Allocator) JemallocStorage() bool {
	return a == Jemalloc
}

// Parses an allocator label.
//
// Accepts the output labels as well as "hardened_malloc" and "hardened".
func ParseAllocator(s string) (Allocator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "default", "":
		return Default, nil
	case "jemalloc":
		return Jemalloc, nil
	case "hmalloc", "hardened_malloc", "hardened":
		return HardenedMalloc, nil
	default:
		return 0, fmt.Errorf("%w %q", ErrUnknownAllocator, s)
	}
}

// Supports decoding allocator labels from YAML and flags.
func (a *Allocator) UnmarshalText(text []byte) error {
	parsed, err := ParseAllocator(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Allocator) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}
