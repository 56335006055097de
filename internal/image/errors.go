package image

import "errors"

var (
	ErrPackaging = errors.New("image packaging failed")
)
