package matrix

import (
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/cruciblehq/cruxmatrix/internal/envplan"
	"github.com/cruciblehq/cruxmatrix/internal/platform"
	"github.com/cruciblehq/cruxmatrix/internal/variant"
	"github.com/opencontainers/go-digest"
)

// Expands matrices for one package on one build machine.
type Expander struct {
	build platform.Descriptor
	plans *envplan.Builder
	pkg   digest.Digest
}

// Creates an expander.
//
// build is the machine running the package builder, plans composes the
// environment of each cell and pkg is the package digest mixed into every
// fingerprint.
func NewExpander(build platform.Descriptor, plans *envplan.Builder, pkg digest.Digest) *Expander {
	return &Expander{build: build, plans: plans, pkg: pkg}
}

// Output selection of one cell.
type cell struct {
	variant variant.Variant
	binary  bool
	image   bool
}

// A lazily realized matrix.
type Expansion struct {
	expander *Expander
	cells    []cell
	used     atomic.Bool
}

// Enumerates the cells of allocators × targets.
//
// Duplicate allocators and targets are dropped, keeping first occurrence
// order. A target is native when it is "native" or names the build machine.
// Every target identifier is parsed up front; the first bad one aborts the
// expansion with a [platform.ParseError]. All binary outputs start selected.
func (e *Expander) Expand(allocators []variant.Allocator, targets []string) (*Expansion, error) {
	var descriptors []platform.Descriptor
	for _, id := range targets {
		d, err := platform.Parse(id)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(descriptors, d) {
			descriptors = append(descriptors, d)
		}
	}

	var unique []variant.Allocator
	for _, a := range allocators {
		if !slices.Contains(unique, a) {
			unique = append(unique, a)
		}
	}

	x := &Expansion{expander: e}
	for _, d := range descriptors {
		for _, a := range unique {
			v := variant.Variant{Target: d, Native: d == e.build, Allocator: a}
			x.cells = append(x.cells, cell{variant: v, binary: true})
		}
	}
	return x, nil
}

// Returns the number of cells.
func (x *Expansion) Len() int {
	return len(x.cells)
}

// Returns the cell variants in expansion order.
func (x *Expansion) Variants() []variant.Variant {
	vs := make([]variant.Variant, len(x.cells))
	for i, c := range x.cells {
		vs[i] = c.variant
	}
	return vs
}

// Returns every output name, binary then image for each cell.
func (x *Expansion) Outputs() []string {
	names := make([]string, 0, 2*len(x.cells))
	for _, c := range x.cells {
		names = append(names, c.variant.BinaryOutput(), c.variant.ImageOutput())
	}
	return names
}

// Reports whether any cell has its image output selected.
func (x *Expansion) HasImages() bool {
	return slices.ContainsFunc(x.cells, func(c cell) bool { return c.image })
}

// Restricts the expansion to the named outputs.
//
// Selecting an image output also realizes the cell's binary, but only
// reports the binary when it was named too. Unknown names fail with
// [ErrUnknownOutput]; the first one is reported.
func (x *Expansion) Select(names []string) (*Expansion, error) {
	byName := make(map[string]int, 2*len(x.cells))
	for i, c := range x.cells {
		byName[c.variant.BinaryOutput()] = i
		byName[c.variant.ImageOutput()] = i
	}

	selected := make([]cell, len(x.cells))
	for i, c := range x.cells {
		selected[i] = cell{variant: c.variant}
	}

	for _, name := range names {
		i, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownOutput, name)
		}
		if name == x.cells[i].variant.ImageOutput() {
			selected[i].image = true
		} else {
			selected[i].binary = true
		}
	}

	out := &Expansion{expander: x.expander}
	for _, c := range selected {
		if c.binary || c.image {
			out.cells = append(out.cells, c)
		}
	}
	return out, nil
}

// Selects every binary and image output.
func (x *Expansion) All() *Expansion {
	out := &Expansion{expander: x.expander, cells: slices.Clone(x.cells)}
	for i := range out.cells {
		out.cells[i].binary = true
		out.cells[i].image = true
	}
	return out
}

// Yields one job per cell.
//
// Plans are built as the sequence is consumed. The sequence can be ranged
// over once; later iterations yield nothing.
func (x *Expansion) Jobs() iter.Seq[*Job] {
	return func(yield func(*Job) bool) {
		if !x.used.CompareAndSwap(false, true) {
			slog.Debug("expansion already consumed")
			return
		}
		for _, c := range x.cells {
			if !yield(x.expander.job(c)) {
				return
			}
		}
	}
}

// Builds the job for one cell.
func (e *Expander) job(c cell) *Job {
	v := c.variant
	job := &Job{
		ID:      v.ID(),
		Variant: v,
		Triad:   platform.For(e.build, v.Target),
		Binary:  c.binary,
		Image:   c.image,
	}

	plan, err := e.plans.Build(v, job.Triad)
	if err != nil {
		slog.Warn("cell skipped", "job", job.ID, "error", err)
		job.Err = err
		return job
	}

	job.Plan = plan
	job.Fingerprint = Fingerprint(e.pkg, plan.Digest())

	slog.Debug("job expanded", "job", job.ID, "triad", job.Triad, "fingerprint", job.Fingerprint)

	return job
}

// Builds the plan of a single named output without consuming an expansion.
func (x *Expansion) Lookup(name string) (*Job, error) {
	for _, c := range x.cells {
		if name == c.variant.BinaryOutput() || name == c.variant.ImageOutput() {
			return x.expander.job(c), nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownOutput, name)
}
