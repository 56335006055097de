package pipeline

import "errors"

var (
	ErrImageInputs = errors.New("image outputs require image.certificates and image.init")
)
