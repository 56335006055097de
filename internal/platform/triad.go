package platform

import "fmt"

// Identifies which machine a descriptor plays in a cross-compilation.
type Role int

const (
	Build  Role = iota // Machine running the compiler.
	Host               // Machine the compiled tools run on.
	Target             // Machine the final artifact runs on.
)

// All roles in emission order.
var Roles = []Role{Build, Host, Target}

func (r Role) String() string {
	switch r {
	case Build:
		return "build"
	case Host:
		return "host"
	case Target:
		return "target"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// The build, host and target machines of one build.
type Triad struct {
	Build  Descriptor
	Host   Descriptor
	Target Descriptor
}

// Parses a triad from platform identifiers.
//
// Empty host and target identifiers default to the build platform. Any
// unparseable identifier is reported as a [ParseError].
func NewTriad(build, host, target string) (Triad, error) {
	b, err := Parse(build)
	if err != nil {
		return Triad{}, err
	}

	h := b
	if host != "" {
		if h, err = Parse(host); err != nil {
			return Triad{}, err
		}
	}

	t := b
	if target != "" {
		if t, err = Parse(target); err != nil {
			return Triad{}, err
		}
	}

	return Triad{Build: b, Host: h, Target: t}, nil
}

// Returns the triad for building on build an artifact that runs on target.
//
// The host is pinned to the target: the compiled program is the artifact.
func For(build, target Descriptor) Triad {
	return Triad{Build: build, Host: target, Target: target}
}

// Returns the descriptor playing the given role.
func (t Triad) Get(r Role) Descriptor {
	switch r {
	case Host:
		return t.Host
	case Target:
		return t.Target
	default:
		return t.Build
	}
}

// Reports whether two roles are played by the same platform.
func (t Triad) Same(a, b Role) bool {
	return t.Get(a) == t.Get(b)
}

// Reports whether any role differs from another.
func (t Triad) IsCrossCompiling() bool {
	return t.Host != t.Target || t.Build != t.Host
}

func (t Triad) String() string {
	return fmt.Sprintf("build=%s host=%s target=%s", t.Build, t.Host, t.Target)
}
