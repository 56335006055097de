package variant

import "errors"

var (
	ErrUnknownAllocator = errors.New("unknown allocator")
)
