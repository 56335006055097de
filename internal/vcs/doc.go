// Package vcs reads revision metadata from the repository being built.
//
// The revision provides the version tag surfaced to the package builder and
// the creation date stamped on images. Both derive only from repository
// state, never from the wall clock, so rebuilding a revision reproduces them.
package vcs
