package vcs

import "errors"

var (
	ErrRepository = errors.New("repository error")
)
