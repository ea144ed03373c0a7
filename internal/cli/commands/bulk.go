package commands

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/polyindex/polyindex/internal/cliopt"
	"github.com/polyindex/polyindex/internal/cliutil"
	"github.com/polyindex/polyindex/polyindex/ops"
)

// RunBulkIndex streams every row of the selected apps into the index.
func RunBulkIndex(g cliopt.GlobalOptions, argv []string) int {
	fs := flag.NewFlagSet("bulk-index", flag.ContinueOnError)
	fs.SetOutput(g.Stderr)
	var opts ops.BulkOptions
	fs.IntVar(&opts.BatchSize, "chunk", 0, "documents per bulk request (default reindex.batch_size)")
	fs.StringVar(&opts.Suffix, "index-suffix", "", "write into the <index>_<suffix> generation")
	apps, err := cliutil.ParseInterspersed(fs, argv)
	if err != nil {
		return 2
	}
	if opts.BatchSize < 0 {
		fmt.Fprintln(g.Stderr, "--chunk must be positive")
		return 2
	}
	opts.Apps = apps
	opts.Progress = g.Stdout

	ctx := context.Background()
	s, err := open(ctx, g)
	if err != nil {
		return cliutil.Fail(g.Stderr, err)
	}
	defer s.Close()

	res, err := s.client.BulkIndex(ctx, opts)
	if err != nil {
		var mismatch *ops.BulkMismatchError
		if errors.As(err, &mismatch) {
			fmt.Fprintf(g.Stderr, "Bulk index halted after %d items: %s\n", res.Processed, mismatch)
			return 1
		}
		return cliutil.Fail(g.Stderr, err)
	}
	if cliutil.ParseOutputFormat(g.Format) == cliutil.FormatJSON {
		cliutil.PrintJSON(g.Stdout, map[string]any{
			"run":       res.RunID.String(),
			"processed": res.Processed,
			"flushes":   res.Flushes,
		})
	}
	return 0
}
