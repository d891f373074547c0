package image

import "errors"

var (
	ErrBaseImageFetch   = errors.New("cannot fetch base image")
	ErrPlatformNotFound = errors.New("platform not provided by image")
	ErrLayer            = errors.New("cannot create layer")
	ErrConfigure        = errors.New("cannot configure image")
	ErrExport           = errors.New("cannot export image")
)
