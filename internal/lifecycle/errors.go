package lifecycle

import "errors"

var (
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrBuildEngine          = errors.New("part build failed")
	ErrPack                 = errors.New("cannot pack image")
)
