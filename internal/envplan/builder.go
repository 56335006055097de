package envplan

import (
	"strings"

	"github.com/cruciblehq/cruxmatrix/internal/platform"
	"github.com/cruciblehq/cruxmatrix/internal/toolchain"
	"github.com/cruciblehq/cruxmatrix/internal/variant"
)

// Builds environment plans.
//
// A builder holds only immutable inputs and can be shared between goroutines.
type Builder struct {
	resolver     *toolchain.Resolver
	storage      Storage
	versionExtra string
}

// Creates a builder.
//
// versionExtra is the revision tag surfaced as VERSION_EXTRA.
func NewBuilder(resolver *toolchain.Resolver, storage Storage, versionExtra string) *Builder {
	return &Builder{
		resolver:     resolver,
		storage:      storage,
		versionExtra: versionExtra,
	}
}

// Composes the plan for a variant built on the given triad.
//
// Fails with a [toolchain.UnavailableError] when a role has no toolchain and
// with [ErrDuplicateKey] when two rules bind the same variable.
func (b *Builder) Build(v variant.Variant, t platform.Triad) (*Plan, error) {
	resolutions, err := b.resolver.ResolveTriad(t)
	if err != nil {
		return nil, err
	}

	target, _ := resolutionFor(resolutions, t.Target)

	staticVars, staticFlags := staticLinkVars(t)

	cxxFlags, err := stdCxxFlags(t, target)
	if err != nil {
		return nil, err
	}

	var flags []string
	flags = append(flags, staticFlags...)
	flags = append(flags, crossLibcFlags(t)...)
	flags = append(flags, cxxFlags...)

	a := newAssembler()
	a.setAll(RuleBase, baseVars(b.versionExtra, b.storage, v))
	a.setAll(RuleStaticLink, staticVars)
	if len(flags) > 0 {
		a.set(RuleLinkFlags, LinkFlags, strings.Join(flags, " "))
	}
	a.setAll(RuleToolchain, toolchainVars(t, resolutions))

	return a.finish()
}
