// Package protocol defines the messages exchanged over the daemon socket.
//
// Every message is a single line of JSON holding an [Envelope]: a command
// name and a command-specific payload. A client writes one request envelope,
// the server answers with one response envelope whose command is either
// [CmdOK] or [CmdError], and the connection is closed.
//
// Example usage:
//
//	var result protocol.BuildResult
//	err := protocol.Call(ctx, paths.Socket(), protocol.CmdBuild, &protocol.BuildRequest{
//	    Manifest: "/src/app/cruxmatrix.yaml",
//	    Outputs:  []string{"default", "oci-image"},
//	}, &result)
package protocol
