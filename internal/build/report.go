package build

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cruciblehq/cruxmatrix/internal/cache"
	"github.com/dustin/go-humanize"
)

// Kind of a reported output.
type Kind string

const (
	KindBinary Kind = "binary"
	KindImage  Kind = "image"
)

// Outcome of a reported output.
type Status string

const (
	StatusBuilt  Status = "built"  // Produced by this run.
	StatusCached Status = "cached" // Found in the cache.
	StatusFailed Status = "failed" // See Result.Err.
)

// Outcome of one selected output.
type Result struct {
	Job      string        // Job identifier.
	Output   string        // Output name.
	Kind     Kind          // Binary or image.
	Status   Status        // Outcome.
	Path     string        // Artifact or image archive in the cache.
	Image    string        // Image reference, for images.
	Loaded   bool          // Whether the image was imported into the runtime.
	Size     int64         // Size of Path in bytes.
	Duration time.Duration // Time spent producing or finding the output.
	Err      error         // Cause of a failure.
}

// Records a completed output.
func (r *Result) record(entry *cache.Entry, path string, d time.Duration) {
	r.Status = StatusBuilt
	if entry.Hit {
		r.Status = StatusCached
	}
	r.Path = path
	r.Duration = d
	if info, err := os.Stat(path); err == nil {
		r.Size = info.Size()
	}
}

// Per-output outcome of a realization, in expansion order.
type Report struct {
	Results []Result
}

// Returns the failed results.
func (r *Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			failed = append(failed, res)
		}
	}
	return failed
}

// Returns [ErrCellsFailed] when any output failed, nil otherwise.
func (r *Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	names := make([]string, len(failed))
	for i, res := range failed {
		names[i] = res.Output
	}
	return fmt.Errorf("%w: %d of %d: %s", ErrCellsFailed, len(failed), len(r.Results), strings.Join(names, ", "))
}

// Writes the status table followed by the diagnostics of failed builds.
//
// Diagnostics are printed as the build command wrote them.
func (r *Report) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OUTPUT\tSTATUS\tSIZE\tTIME\tDETAIL")
	for _, res := range r.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", res.Output, res.Status, size(res), elapsed(res), detail(res))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, res := range r.Results {
		var failure *FailureError
		if !errors.As(res.Err, &failure) || failure.Diagnostics == "" {
			continue
		}
		fmt.Fprintf(w, "\n--- %s (exit code %d) ---\n", res.Output, failure.ExitCode)
		io.WriteString(w, failure.Diagnostics)
		if !strings.HasSuffix(failure.Diagnostics, "\n") {
			io.WriteString(w, "\n")
		}
	}
	return nil
}

func size(res Result) string {
	if res.Status == StatusFailed {
		return "-"
	}
	return humanize.IBytes(uint64(res.Size))
}

func elapsed(res Result) string {
	if res.Status == StatusCached {
		return "-"
	}
	return res.Duration.Round(time.Millisecond).String()
}

func detail(res Result) string {
	switch {
	case res.Err != nil:
		return res.Err.Error()
	case res.Kind == KindImage && res.Loaded:
		return res.Image + " (loaded)"
	case res.Kind == KindImage:
		return res.Image
	}
	return res.Path
}
