package lifecycle

import (
	"context"
	"os"
	"os/exec"
)

// Shell used by [InteractiveShell].
const shellPath = "/bin/bash"

// Opens an interactive shell in dir attached to the current terminal.
func InteractiveShell(ctx context.Context, dir string) error {
	cmd := exec.CommandContext(ctx, shellPath)
	cmd.Dir = dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
