package internal

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/containerd/platforms"
)

const (

	// Program name, used for the CLI, the logger group and runtime paths.
	Name = "cruxmatrix"

	undefined  = "(undefined)"
	localBuild = "(local)"

	// Release branch; omitted from version strings.
	releaseStage = "main"

	// Length of abbreviated commit hashes.
	shortCommit = 12
)

// Set with -ldflags "-X github.com/cruciblehq/cruxmatrix/internal.version=..."
// by release pipelines.
var (
	version = "" // Release version, with or without a "v" prefix.
	stage   = "" // Branch the release was cut from.
	commit  = "" // Full commit hash.

	rawQuiet   = "false" // Default for --quiet.
	rawDebug   = "false" // Default for --debug.
	rawVerbose = "false" // Default for --verbose.
)

// Returns the release version without its "v" prefix, or "(undefined)".
func Version() string {
	v := strings.ToLower(strings.TrimSpace(version))
	if v == "" {
		return undefined
	}
	return strings.TrimPrefix(v, "v")
}

// Returns the abbreviated commit the binary was built from.
//
// Falls back to the VCS stamp the Go toolchain embeds when the linker
// variable is unset, and to "(undefined)" when neither is available.
func Commit() string {
	c := strings.TrimSpace(commit)
	if c == "" {
		c = stampedRevision()
	}
	if c == "" {
		return undefined
	}
	if len(c) > shortCommit {
		c = c[:shortCommit]
	}
	return c
}

// Returns the revision recorded by "go build" in a VCS checkout.
func stampedRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}

// Reports whether the binary was built outside a release pipeline, i.e.
// without a version stamped in.
func IsLocal() bool {
	return strings.TrimSpace(version) == ""
}

// Returns the version line printed by "cruxmatrix version".
//
// Release builds print "<version>[+<stage>] <commit> [<os>/<arch>]", where the
// stage is omitted for the release branch. Local builds print "(local)".
func VersionString() string {
	if IsLocal() {
		return localBuild
	}

	v := Version()
	if s := strings.ToLower(strings.TrimSpace(stage)); s != "" && s != releaseStage {
		v += "+" + s
	}
	return fmt.Sprintf("%s %s [%s]", v, Commit(), platforms.DefaultString())
}
