// Package build realizes matrix jobs into cached artifacts and images.
//
// A [Builder] runs the package's build command with a job's environment plan
// and copies the produced artifact to a requested path. [Local] runs the
// command on this machine in a private copy of the source tree; [Container]
// runs it inside a containerd container started from a toolchain image.
// A failing command yields a [FailureError] carrying the compiler and linker
// diagnostics as printed.
//
// The [Realizer] executes jobs concurrently. Every artifact goes through the
// content-addressed cache, so identical fingerprints build once and completed
// artifacts survive cancellation. A job's image is packaged only after its
// own artifact exists. Failures are confined to the job that produced them
// and are collected into a [Report].
//
// Example usage:
//
//	r := &build.Realizer{
//	    Store:    store,
//	    Builder:  &build.Local{},
//	    Source:   source,
//	    Packager: packager,
//	    Jobs:     4,
//	}
//	report, err := r.Realize(ctx, expansion.Jobs())
//	if err != nil {
//	    return err
//	}
//	report.Write(os.Stdout)
//	return report.Err()
package build
