package cli

import (
	"context"
	"fmt"

	"github.com/cruciblehq/cruxmatrix/internal/pipeline"
)

// Represents the 'cruxmatrix env' command.
type EnvCmd struct {
	Output string `arg:"" help:"Output name, as printed by 'list'."`
	Rules  bool   `help:"Annotate each variable with the rule that produced it."`
}

// Executes the env command.
//
// Prints the plan as KEY=VALUE lines in plan order. An unknown output name
// is an error.
func (c *EnvCmd) Run(ctx context.Context) error {
	p, err := pipeline.Open(pipeline.Options{Manifest: RootCmd.Manifest, CacheDir: RootCmd.Cache})
	if err != nil {
		return err
	}

	plan, err := p.Plan(c.Output)
	if err != nil {
		return err
	}

	for _, e := range plan.Entries() {
		if c.Rules {
			fmt.Printf("%s=%s\t# %s\n", e.Name, e.Value, e.Rule)
			continue
		}
		fmt.Printf("%s=%s\n", e.Name, e.Value)
	}
	return nil
}
