package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/cruciblehq/cruxmatrix/internal/build"
	"github.com/cruciblehq/cruxmatrix/internal/pipeline"
	"github.com/cruciblehq/cruxmatrix/internal/protocol"
	"github.com/dustin/go-humanize"
)

// Represents the 'cruxmatrix build' command.
type BuildCmd struct {
	Outputs    []string        `arg:"" optional:"" help:"Outputs to build. Defaults to every binary output."`
	All        bool            `help:"Build every binary and image output."`
	Jobs       int             `short:"j" help:"Concurrent jobs." default:"${jobs}"`
	Load       bool            `help:"Import packaged images into containerd."`
	Keep       bool            `help:"Keep local build trees for inspection."`
	Daemon     bool            `help:"Delegate the build to the running daemon."`
	Containerd ContainerdFlags `embed:"" prefix:"containerd-"`
}

// Executes the build command.
//
// Prints a status table for every selected output. The command fails when
// any output failed; completed outputs stay in the cache.
func (c *BuildCmd) Run(ctx context.Context) error {
	if c.Daemon {
		return c.remote(ctx)
	}

	var log io.Writer
	if RootCmd.Verbose {
		log = os.Stderr
	}

	p, err := pipeline.Open(pipeline.Options{
		Manifest: RootCmd.Manifest,
		CacheDir: RootCmd.Cache,
		Jobs:     c.Jobs,
		Load:     c.Load,
		Keep:     c.Keep,
		Runtime:  c.Containerd.options(),
		Log:      log,
	})
	if err != nil {
		return err
	}

	report, err := p.Build(ctx, c.Outputs, c.All)
	if report != nil {
		if werr := report.Write(os.Stdout); werr != nil && err == nil {
			err = werr
		}
	}
	if err != nil {
		return err
	}

	return report.Err()
}

// Sends the build to the daemon and prints its results.
func (c *BuildCmd) remote(ctx context.Context) error {
	var result protocol.BuildResult
	err := protocol.Call(ctx, socketPath(), protocol.CmdBuild, &protocol.BuildRequest{
		Manifest: RootCmd.Manifest,
		Outputs:  c.Outputs,
		All:      c.All,
		Jobs:     c.Jobs,
		Load:     c.Load,
	}, &result)
	if err != nil {
		return err
	}

	if err := writeResults(os.Stdout, result.Results); err != nil {
		return err
	}
	if result.Failed > 0 {
		return fmt.Errorf("%w: %d of %d", build.ErrCellsFailed, result.Failed, len(result.Results))
	}
	return nil
}

// Writes the status table of a remote build.
func writeResults(w io.Writer, results []protocol.OutputResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OUTPUT\tSTATUS\tSIZE\tTIME\tDETAIL")
	for _, r := range results {
		size, detail := "-", r.Path
		if r.Error == "" {
			size = humanize.IBytes(uint64(r.Size))
		} else {
			detail = r.Error
		}
		if r.Image != "" && r.Error == "" {
			detail = r.Image
		}
		duration := r.Duration
		if duration == "" {
			duration = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Output, r.Status, size, duration, detail)
	}
	return tw.Flush()
}
