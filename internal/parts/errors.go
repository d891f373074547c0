package parts

import "errors"

var (
	ErrUnsupportedPlugin = errors.New("unsupported plugin")
	ErrUnsupportedSource = errors.New("unsupported source")
	ErrUnknownPart       = errors.New("unknown part")
	ErrDependencyCycle   = errors.New("circular part dependency")
	ErrStep              = errors.New("step failed")
)
