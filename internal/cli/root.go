package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	goruntime "runtime"
	"strconv"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/cruciblehq/cruxmatrix/internal"
	"github.com/cruciblehq/cruxmatrix/internal/manifest"
	"github.com/cruciblehq/cruxmatrix/internal/runtime"
)

// Represents the root command for cruxmatrix.
var RootCmd struct {
	Quiet    bool       `short:"q" help:"Suppress informational output."`
	Verbose  bool       `short:"v" help:"Enable verbose output."`
	Debug    bool       `short:"d" help:"Enable debug output."`
	Manifest string     `short:"f" help:"Manifest path." default:"${manifest}" env:"CRUXMATRIX_MANIFEST" type:"path"`
	Socket   string     `short:"s" help:"Override the default Unix socket path." placeholder:"PATH"`
	Cache    string     `help:"Override the artifact cache directory." placeholder:"DIR" env:"CRUXMATRIX_CACHE"`
	List     ListCmd    `cmd:"" help:"List the outputs of the matrix."`
	Env      EnvCmd     `cmd:"" help:"Print the environment plan of an output."`
	Build    BuildCmd   `cmd:"" help:"Build outputs of the matrix."`
	Serve    ServeCmd   `cmd:"" help:"Run the daemon."`
	Version  VersionCmd `cmd:"" help:"Show version information."`
}

// Containerd connection flags.
type ContainerdFlags struct {
	Address     string `help:"Containerd socket address." default:"${containerd_address}" env:"CONTAINERD_ADDRESS"`
	Namespace   string `help:"Containerd namespace for images and containers." default:"${containerd_namespace}"`
	Snapshotter string `help:"Snapshotter for build containers." default:"${containerd_snapshotter}"`
}

// Returns the runtime options for the flags.
func (f ContainerdFlags) options() runtime.Options {
	return runtime.Options{
		Address:     f.Address,
		Namespace:   f.Namespace,
		Snapshotter: f.Snapshotter,
	}
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("Expands a package's allocator and target matrix, resolves each cell's cross-compilation environment, and builds binaries and OCI images through a content-addressed cache."),
		kong.UsageOnError(),
		kong.Vars{
			"version":                internal.VersionString(),
			"manifest":               manifest.DefaultFilename,
			"jobs":                   strconv.Itoa(goruntime.NumCPU()),
			"containerd_address":     runtime.DefaultAddress,
			"containerd_namespace":   runtime.DefaultNamespace,
			"containerd_snapshotter": runtime.DefaultSnapshotter,
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Configures the global logger based on CLI flags.
func configureLogger() {
	internal.SetDebug(RootCmd.Debug || internal.IsDebug())
	internal.SetQuiet(RootCmd.Quiet || internal.IsQuiet())
	internal.SetVerbose(RootCmd.Verbose || internal.IsVerbose())

	slog.SetDefault(NewLogger())
}

// Creates the logger writing to standard error.
//
// Terminals get text output, anything else JSON lines. Verbose mode adds
// source locations. The level follows [internal.LogLevel].
func NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     internal.LogLevel(),
		AddSource: internal.IsVerbose(),
	}

	var handler slog.Handler
	if isatty(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler).With("app", internal.Name)
}

// Whether the given file is an interactive terminal.
func isatty(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
