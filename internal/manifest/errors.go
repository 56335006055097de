package manifest

import "errors"

var (
	ErrManifest = errors.New("invalid manifest")
	ErrSources  = errors.New("source resolution failed")
)
