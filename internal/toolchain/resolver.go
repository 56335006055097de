package toolchain

import (
	"errors"

	"github.com/cruciblehq/cruxmatrix/internal/platform"
)

// Variable bindings for one platform role.
type Resolution struct {
	Role       platform.Role       // First role that requested this platform.
	Platform   platform.Descriptor // Platform the toolchain targets.
	Key        Key                 // Variable name suffix.
	CCVar      string              // CC_<KEY>
	CCPath     string              // C compiler executable.
	CXXVar     string              // CXX_<KEY>
	CXXPath    string              // C++ compiler executable.
	LinkerVar  string              // LINKER_<KEY>
	LinkerPath string              // Linker executable.
	LibDir     string              // C++ runtime library directory, may be empty.
}

// Maps platform roles to toolchain variables using a [Provider].
type Resolver struct {
	provider Provider
}

// Creates a resolver backed by the given provider.
func NewResolver(p Provider) *Resolver {
	return &Resolver{provider: p}
}

// Resolves the toolchain for one role.
//
// Fails with an [UnavailableError] naming the role when the provider has no
// toolchain for the platform or the toolchain lacks a compiler.
func (r *Resolver) Resolve(role platform.Role, d platform.Descriptor) (Resolution, error) {
	tc, err := r.provider.Toolchain(d)
	if err != nil {
		var uerr *UnavailableError
		if errors.As(err, &uerr) {
			return Resolution{}, &UnavailableError{Role: role, Platform: d, Tool: uerr.Tool}
		}
		return Resolution{}, err
	}

	if tc.CC == "" {
		return Resolution{}, &UnavailableError{Role: role, Platform: d, Tool: "cc"}
	}
	if tc.CXX == "" {
		return Resolution{}, &UnavailableError{Role: role, Platform: d, Tool: "cxx"}
	}

	linker := tc.Linker
	if linker == "" {
		linker = tc.CC
	}

	key := KeyFor(d)
	return Resolution{
		Role:       role,
		Platform:   d,
		Key:        key,
		CCVar:      key.CC(),
		CCPath:     tc.CC,
		CXXVar:     key.CXX(),
		CXXPath:    tc.CXX,
		LinkerVar:  key.Linker(),
		LinkerPath: linker,
		LibDir:     tc.LibDir,
	}, nil
}

// Resolves every distinct platform of a triad.
//
// Roles are visited in Build, Host, Target order and a platform already
// resolved for an earlier role is skipped, so a native triad yields exactly
// one resolution and no variable is ever bound twice.
func (r *Resolver) ResolveTriad(t platform.Triad) ([]Resolution, error) {
	seen := make(map[platform.Descriptor]bool, len(platform.Roles))
	resolutions := make([]Resolution, 0, len(platform.Roles))

	for _, role := range platform.Roles {
		d := t.Get(role)
		if seen[d] {
			continue
		}
		seen[d] = true

		res, err := r.Resolve(role, d)
		if err != nil {
			return nil, err
		}
		resolutions = append(resolutions, res)
	}

	return resolutions, nil
}
