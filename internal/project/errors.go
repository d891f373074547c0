package project

import "errors"

var (
	ErrConfiguration = errors.New("invalid project configuration")
)
