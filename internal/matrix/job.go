package matrix

import (
	"github.com/cruciblehq/cruxmatrix/internal/envplan"
	"github.com/cruciblehq/cruxmatrix/internal/platform"
	"github.com/cruciblehq/cruxmatrix/internal/variant"
	"github.com/opencontainers/go-digest"
)

// One realized matrix cell.
//
// When the plan could not be built, Err holds the cause and Plan and
// Fingerprint are empty. The failure belongs to this job alone.
type Job struct {
	ID          string          // Cell identifier.
	Variant     variant.Variant // Target and allocator.
	Triad       platform.Triad  // Platform roles of the build.
	Plan        *envplan.Plan   // Build environment.
	Fingerprint digest.Digest   // Cache key of the artifact.
	Binary      bool            // Whether the binary output was selected.
	Image       bool            // Whether the image output was selected.
	Err         error           // Cause of a failed expansion.
}

// Returns the binary output name.
func (j *Job) BinaryOutput() string {
	return j.Variant.BinaryOutput()
}

// Returns the image output name.
func (j *Job) ImageOutput() string {
	return j.Variant.ImageOutput()
}

// Returns the target triple passed to the package builder.
//
// Native jobs build for the default target and return an empty string.
func (j *Job) CrossTarget() string {
	if j.Variant.Native {
		return ""
	}
	return j.Variant.Target.Triple()
}

// Computes the cache key of an artifact.
//
// The key covers the package digest and the plan digest, the complete input
// set of a build.
func Fingerprint(pkg, plan digest.Digest) digest.Digest {
	d := digest.Canonical.Digester()
	h := d.Hash()
	h.Write([]byte(pkg.String()))
	h.Write([]byte{0})
	h.Write([]byte(plan.String()))
	return d.Digest()
}
