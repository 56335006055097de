package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/cruciblehq/cruxmatrix/internal/pipeline"
	"github.com/cruciblehq/cruxmatrix/internal/protocol"
)

// Represents the 'cruxmatrix list' command.
type ListCmd struct {
	Daemon bool `help:"Ask the running daemon instead of expanding locally."`
}

// Executes the list command.
//
// Prints every output of the matrix, binary then image for each cell.
func (c *ListCmd) Run(ctx context.Context) error {
	var outputs []protocol.Output

	if c.Daemon {
		var result protocol.ListResult
		if err := protocol.Call(ctx, socketPath(), protocol.CmdList, &protocol.ListRequest{Manifest: RootCmd.Manifest}, &result); err != nil {
			return err
		}
		outputs = result.Outputs
	} else {
		p, err := pipeline.Open(pipeline.Options{Manifest: RootCmd.Manifest, CacheDir: RootCmd.Cache})
		if err != nil {
			return err
		}
		for _, o := range p.Outputs() {
			outputs = append(outputs, protocol.Output{Name: o.Name, Kind: o.Kind, Job: o.Job, Target: o.Target})
		}
	}

	return writeOutputs(os.Stdout, outputs)
}

// Writes the output table.
func writeOutputs(w io.Writer, outputs []protocol.Output) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OUTPUT\tKIND\tJOB\tTARGET")
	for _, o := range outputs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.Name, o.Kind, o.Job, o.Target)
	}
	return tw.Flush()
}
