package cli

import (
	"context"
	"fmt"

	"github.com/cruciblehq/cruxmatrix/internal"
)

// Represents the 'cruxmatrix version' command.
type VersionCmd struct {
	Short bool `help:"Print only the version number."`
}

// Prints the version line, or the bare version with --short.
func (c *VersionCmd) Run(ctx context.Context) error {
	if c.Short {
		fmt.Println(internal.Version())
		return nil
	}
	fmt.Println(internal.Name, internal.VersionString())
	return nil
}
