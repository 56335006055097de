// Package image wraps build artifacts into minimal OCI images.
//
// An image has two layers. The base layer holds only a CA certificate
// bundle. The application layer holds a static init wrapper and the binary,
// and the entrypoint runs the binary under the wrapper so that signals are
// forwarded and children are reaped.
//
// Images are reproducible: the creation time comes from the commit date of
// the source tree, truncated to a day, and is used for the image config, the
// manifest annotations and every tar header. Layers are gzip-compressed
// without timestamps. Packaging the same artifact at the same revision yields
// a byte-identical archive.
//
// The result is an OCI image layout written as a single tar archive, which
// can be imported into containerd or any OCI-compatible registry client.
//
// Example usage:
//
//	p := image.NewPackager(image.Config{
//	    Name:         "conduwuit",
//	    Version:      "0.4.6",
//	    Binary:       "conduwuit",
//	    Certificates: "/etc/ssl/certs/ca-certificates.crt",
//	    Init:         "/usr/bin/tini-static",
//	    Created:      rev.Date(),
//	})
//	spec, err := p.Package(ctx, image.Request{
//	    Artifact: entry.Path("conduwuit"),
//	    Label:    job.BinaryOutput(),
//	    Platform: job.Variant.Target.OCI(),
//	}, dir)
package image
