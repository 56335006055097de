// Parses flags, configures logging and runs cruxmatrix commands.
//
// The command line accepts the following global flags:
//
//	-q, --quiet      Suppress informational output.
//	-v, --verbose    Enable verbose output, including build command output.
//	-d, --debug      Enable debug output.
//	-f, --manifest   Manifest path.
//	-s, --socket     Unix socket path of the daemon.
//	    --cache      Artifact cache directory.
//
// Commands:
//
//	list                     List the outputs of the matrix.
//	env <output>             Print the environment plan of an output.
//	build [outputs...]       Realize outputs (--all, --jobs, --load, --daemon).
//	serve                    Run the daemon.
//	version                  Show version information.
//
// Flags override build-time defaults set via linker flags. After parsing, the
// global logger is reconfigured to reflect the final level and verbosity before
// the command runs.
package cli
