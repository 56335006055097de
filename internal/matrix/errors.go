package matrix

import "errors"

var (
	ErrUnknownOutput = errors.New("unknown output")
)
