package vcs

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-git/go-git/v5"
)

const (

	// Length of abbreviated commit hashes.
	shortLength = 7

	// Suffix marking a worktree with uncommitted changes.
	dirtyMarker = "dirty"
)

// Repository state at build time.
//
// The zero value describes a source tree outside any repository.
type Revision struct {
	Commit string    // Full commit hash of HEAD, empty outside a repository.
	Dirty  bool      // Whether the worktree has uncommitted changes.
	Time   time.Time // Committer time of HEAD.
}

// Reads the revision of the repository containing dir.
//
// Parent directories are searched for the repository root. A directory
// outside any repository yields the zero [Revision] and no error.
func Open(dir string) (Revision, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			slog.Debug("no repository found", "dir", dir)
			return Revision{}, nil
		}
		return Revision{}, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	head, err := repo.Head()
	if err != nil {
		return Revision{}, fmt.Errorf("%w: reading HEAD: %w", ErrRepository, err)
	}

	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return Revision{}, fmt.Errorf("%w: reading commit %s: %w", ErrRepository, head.Hash(), err)
	}

	dirty, err := isDirty(repo)
	if err != nil {
		return Revision{}, err
	}

	return Revision{
		Commit: commit.Hash.String(),
		Dirty:  dirty,
		Time:   commit.Committer.When,
	}, nil
}

// Reports whether the worktree differs from HEAD. Bare repositories are clean.
func isDirty(repo *git.Repository) (bool, error) {
	wt, err := repo.Worktree()
	if err != nil {
		if errors.Is(err, git.ErrIsBareRepository) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("%w: reading status: %w", ErrRepository, err)
	}

	return !status.IsClean(), nil
}

// Reports whether the source tree belongs to a repository.
func (r Revision) Known() bool {
	return r.Commit != ""
}

// Returns the abbreviated commit hash.
func (r Revision) ShortRev() string {
	if len(r.Commit) > shortLength {
		return r.Commit[:shortLength]
	}
	return r.Commit
}

// Returns the version tag for the build.
//
// A clean worktree yields the short revision, a dirty one "<rev>-dirty", and
// a tree outside any repository just "dirty".
func (r Revision) VersionExtra() string {
	switch {
	case !r.Known():
		return dirtyMarker
	case r.Dirty:
		return r.ShortRev() + "-" + dirtyMarker
	default:
		return r.ShortRev()
	}
}

// Returns the commit date at midnight UTC, or the Unix epoch when unknown.
func (r Revision) Date() time.Time {
	if !r.Known() || r.Time.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return r.Time.UTC().Truncate(24 * time.Hour)
}
