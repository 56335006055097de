package variant

import "github.com/cruciblehq/cruxmatrix/internal/platform"

// Label of the native target and of the native default-allocator cell.
const NativeLabel = "default"

// Prefix of image output names.
const imagePrefix = "oci-image"

// One cell of the build matrix.
type Variant struct {
	Target    platform.Descriptor // Platform the artifact runs on.
	Native    bool                // Whether Target is the build machine itself.
	Allocator Allocator           // Allocator linked into the artifact.
}

// Returns the label of the target axis.
//
// The native target is "default"; cross targets use the canonical platform
// string.
func (v Variant) TargetLabel() string {
	if v.Native {
		return NativeLabel
	}
	return v.Target.String()
}

// Returns the job identifier.
//
// Cross cells are "<target>[-<allocator>]". Native cells drop the target
// label when an allocator is selected, giving "default", "jemalloc" and
// "hmalloc".
func (v Variant) ID() string {
	if v.Allocator == Default {
		return v.TargetLabel()
	}
	if v.Native {
		return v.Allocator.String()
	}
	return v.TargetLabel() + "-" + v.Allocator.String()
}

// Returns the name of the binary output.
//
// Statically linked cross cells are prefixed with "static-".
func (v Variant) BinaryOutput() string {
	if !v.Native && v.Target.Static {
		return "static-" + v.ID()
	}
	return v.ID()
}

// Returns the name of the image output.
//
// The native default cell is "oci-image"; every other cell appends its binary
// output name.
func (v Variant) ImageOutput() string {
	if v.Native && v.Allocator == Default {
		return imagePrefix
	}
	return imagePrefix + "-" + v.BinaryOutput()
}
