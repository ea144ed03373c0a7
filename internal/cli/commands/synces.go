package commands

import (
	"context"
	"flag"
	"fmt"

	"github.com/polyindex/polyindex/internal/cliopt"
	"github.com/polyindex/polyindex/internal/cliutil"
	"github.com/polyindex/polyindex/polyindex/ops"
)

// RunSynces creates or updates every family index and installs its mappings.
func RunSynces(g cliopt.GlobalOptions, argv []string) int {
	fs := flag.NewFlagSet("synces", flag.ContinueOnError)
	fs.SetOutput(g.Stderr)
	var opts ops.SyncOptions
	fs.BoolVar(&opts.DropExisting, "drop-existing-indexes", false, "delete the suffixed indices before creating them")
	fs.BoolVar(&opts.Force, "force", false, "close indices to apply non-dynamic settings")
	args, err := cliutil.ParseInterspersed(fs, argv)
	if err != nil {
		return 2
	}
	if len(args) > 1 {
		fmt.Fprintln(g.Stderr, "usage: synces [suffix] [--drop-existing-indexes] [--force]")
		return 2
	}
	if len(args) == 1 {
		opts.Suffix = args[0]
	}
	if opts.DropExisting && opts.Suffix == "" {
		fmt.Fprintln(g.Stderr, "--drop-existing-indexes needs a suffix; the live index is never dropped")
		return 2
	}

	ctx := context.Background()
	s, err := open(ctx, g)
	if err != nil {
		return cliutil.Fail(g.Stderr, err)
	}
	defer s.Close()

	report, err := s.client.Sync(ctx, opts)
	if cliutil.ParseOutputFormat(g.Format) == cliutil.FormatJSON {
		cliutil.PrintJSON(g.Stdout, syncJSON(report))
	} else {
		for _, f := range report.Families {
			if f.Err != nil {
				fmt.Fprintf(g.Stderr, "%s\n", f.Err)
				continue
			}
			fmt.Fprintf(g.Stdout, "%s: %s (%d document types)\n", f.Index, f.Final(), len(f.DocTypes))
		}
	}
	if err != nil {
		return 1
	}
	return 0
}

type familyJSON struct {
	Family   string            `json:"family"`
	Index    string            `json:"index"`
	States   []ops.SyncState   `json:"states"`
	DocTypes map[string]string `json:"doc_types"`
	Error    string            `json:"error,omitempty"`
}

func syncJSON(r *ops.SyncReport) []familyJSON {
	out := make([]familyJSON, 0, len(r.Families))
	for _, f := range r.Families {
		fj := familyJSON{Family: f.Root.QualifiedName(), Index: f.Index, States: f.States, DocTypes: map[string]string{}}
		for _, d := range f.DocTypes {
			fj.DocTypes[d.Name] = "ok"
			if d.Err != nil {
				fj.DocTypes[d.Name] = d.Err.Error()
			}
		}
		if f.Err != nil {
			fj.Error = f.Err.Error()
		}
		out = append(out, fj)
	}
	return out
}
