// Package pipeline wires a manifest to the matrix, the builders and the
// cache.
//
// [Open] loads the manifest, reads the repository revision, digests the
// package sources and expands the variant matrix. The resulting [Pipeline]
// lists outputs, prints per-output environment plans and realizes selected
// outputs into a [build.Report]. Builds run locally unless the manifest names
// a toolchain image, in which case they run in containerd containers.
//
// Example usage:
//
//	p, err := pipeline.Open(pipeline.Options{Manifest: "cruxmatrix.yaml", Jobs: 4})
//	if err != nil {
//	    return err
//	}
//	report, err := p.Build(ctx, []string{"default", "oci-image"}, false)
//	if err != nil {
//	    return err
//	}
//	report.Write(os.Stdout)
//	return report.Err()
package pipeline
