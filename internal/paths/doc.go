// Provides platform-appropriate paths for the tool and its daemon.
//
// All paths follow XDG conventions on Linux and platform-native conventions
// on macOS and Windows. The name "cruxmatrix" is used as the subdirectory
// under each base path. Build artifacts live in the cache directory so that
// clearing it only costs rebuilds.
package paths
