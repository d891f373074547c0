package provider

import (
	"errors"
	"fmt"
)

var (
	ErrProviderExecution = errors.New("isolated instance failed")
)

// Reports a command that ran inside the instance and exited non-zero.
type ExitError struct {
	Code int // Exit status of the command.
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with status %d", e.Code)
}
