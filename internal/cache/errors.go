package cache

import "errors"

var (
	ErrCache   = errors.New("artifact cache error")
	ErrInvalid = errors.New("invalid cache key")
)
