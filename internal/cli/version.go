package cli

import (
	"context"
	"fmt"

	"github.com/cruciblehq/rockcraft/internal"
)

// Represents the 'rockcraft version' command.
type VersionCmd struct{}

// Prints the version string.
func (c *VersionCmd) Run(ctx context.Context) error {
	fmt.Println(internal.VersionString())
	return nil
}
