package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	appName = "cruxmatrix"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the directory for cached data.
//
//	Linux:   $XDG_CACHE_HOME/cruxmatrix or ~/.cache/cruxmatrix
//	macOS:   ~/Library/Caches/cruxmatrix
func Cache() string {
	return filepath.Join(xdg.CacheHome, appName)
}

// Path to the content-addressed artifact store.
//
//	Linux:   $XDG_CACHE_HOME/cruxmatrix/artifacts
//	macOS:   ~/Library/Caches/cruxmatrix/artifacts
func Artifacts() string {
	return filepath.Join(Cache(), "artifacts")
}

// Path to the directory for runtime files (sockets, PIDs).
//
//	Linux:   $XDG_RUNTIME_DIR/cruxmatrix or /run/user/<uid>/cruxmatrix
//	macOS:   ~/Library/Caches/cruxmatrix/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, appName)
	}
	return filepath.Join(Cache(), "run")
}

// Default path to the Unix domain socket for CLI-to-daemon communication.
//
//	Linux:   $XDG_RUNTIME_DIR/cruxmatrix/cruxmatrix.sock
//	macOS:   ~/Library/Caches/cruxmatrix/run/cruxmatrix.sock
func Socket() string {
	return filepath.Join(Runtime(), appName+".sock")
}

// Default path to the PID file.
//
//	Linux:   $XDG_RUNTIME_DIR/cruxmatrix/cruxmatrix.pid
//	macOS:   ~/Library/Caches/cruxmatrix/run/cruxmatrix.pid
func PIDFile() string {
	return filepath.Join(Runtime(), appName+".pid")
}
