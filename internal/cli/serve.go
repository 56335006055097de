package cli

import (
	"context"
	"log/slog"

	"github.com/cruciblehq/cruxmatrix/internal/paths"
	"github.com/cruciblehq/cruxmatrix/internal/server"
)

// Represents the 'cruxmatrix serve' command.
type ServeCmd struct {
	Jobs       int             `short:"j" help:"Default concurrent jobs per build." default:"${jobs}"`
	Containerd ContainerdFlags `embed:"" prefix:"containerd-"`
}

// Executes the serve command.
//
// Starts the daemon on a Unix domain socket and blocks until the context is
// cancelled (e.g. via SIGINT or SIGTERM) or a client requests shutdown.
func (c *ServeCmd) Run(ctx context.Context) error {
	srv, err := server.New(server.Config{
		SocketPath: RootCmd.Socket,
		CacheDir:   RootCmd.Cache,
		Jobs:       c.Jobs,
		Runtime:    c.Containerd.options(),
	})
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}

	slog.Info("cruxmatrix daemon is running")

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case <-waitServer(srv):
	}

	return srv.Stop()
}

// Returns a channel closed when the server stops.
func waitServer(srv *server.Server) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		srv.Wait()
		close(done)
	}()
	return done
}

// Returns the daemon socket path.
func socketPath() string {
	if RootCmd.Socket != "" {
		return RootCmd.Socket
	}
	return paths.Socket()
}
