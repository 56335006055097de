// Package runtime runs build containers and loads images through containerd.
//
// A [Runtime] connects to a containerd daemon, retrying while the daemon
// starts. Toolchain images are pulled by reference or imported from OCI
// archives, unpacked for the requested platform and used to create
// containers with fresh snapshots. Packaged images can be imported under a
// reference so that they are available to containerd clients.
//
// Each [Container] wraps a running containerd task. Commands run inside it as
// additional exec processes with their own environment and working
// directory, and files are copied in and out as tar streams. When the
// container is no longer needed it should be destroyed to release its
// snapshot and task resources.
//
// Example usage:
//
//	rt, err := runtime.New(ctx, runtime.Options{})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	ctr, err := rt.StartContainer(ctx, "docker.io/library/rust:1", "build-default", "linux/amd64")
//	if err != nil {
//	    return err
//	}
//	defer ctr.Destroy(ctx)
//
//	result, err := ctr.Exec(ctx, runtime.Process{
//	    Args: []string{"cargo", "build", "--release"},
//	    Env:  plan.Environ(),
//	    Dir:  "/src",
//	})
package runtime
