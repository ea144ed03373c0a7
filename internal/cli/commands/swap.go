package commands

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/polyindex/polyindex/internal/cliopt"
	"github.com/polyindex/polyindex/internal/cliutil"
)

// RunSwapAliases points each family alias at its <suffix> generation.
func RunSwapAliases(g cliopt.GlobalOptions, argv []string) int {
	fs := flag.NewFlagSet("swap-aliases", flag.ContinueOnError)
	fs.SetOutput(g.Stderr)
	args, err := cliutil.ParseInterspersed(fs, argv)
	if err != nil {
		return 2
	}
	if len(args) != 1 || args[0] == "" {
		fmt.Fprintln(g.Stderr, "usage: swap-aliases <suffix>")
		return 2
	}

	ctx := context.Background()
	s, err := open(ctx, g)
	if err != nil {
		return cliutil.Fail(g.Stderr, err)
	}
	defer s.Close()

	cutovers, err := s.client.SwapAliases(ctx, args[0])
	for _, c := range cutovers {
		prev := "(none)"
		if len(c.Previous) > 0 {
			prev = strings.Join(c.Previous, ", ")
		}
		fmt.Fprintf(g.Stdout, "%s: %s -> %s\n", c.Alias, prev, c.Index)
	}
	if err != nil {
		return cliutil.Fail(g.Stderr, err)
	}
	return 0
}
