package envplan

import "errors"

var (
	ErrDuplicateKey = errors.New("duplicate environment variable")
)
