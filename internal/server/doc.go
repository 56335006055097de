// Package server implements the cruxmatrix daemon.
//
// The daemon listens on a Unix domain socket for JSON-encoded commands.
// Each connection carries a single request-response exchange: the client
// sends a newline-delimited [protocol.Envelope], the server dispatches the
// command, and writes the result back before closing the connection.
//
// Supported commands are build, list, status and shutdown. Builds open the
// requested manifest through the pipeline package and share one artifact
// cache, so concurrent requests for the same fingerprint build once. A
// client disconnecting stops waiting on its build; artifacts already in
// flight still land in the cache.
//
// Example usage:
//
//	srv, err := server.New(server.Config{
//	    CacheDir: paths.Artifacts(),
//	    Jobs:     4,
//	})
//	if err != nil {
//	    return err
//	}
//
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	srv.Wait()
package server
