package commands

import (
	"context"
	"fmt"

	"github.com/polyindex/polyindex/internal/cliopt"
	"github.com/polyindex/polyindex/internal/cliutil"
)

func RunMigrate(g cliopt.GlobalOptions, argv []string) int {
	if len(argv) > 0 {
		fmt.Fprintln(g.Stderr, "usage: migrate")
		return 2
	}
	ctx := context.Background()
	s, err := open(ctx, g)
	if err != nil {
		return cliutil.Fail(g.Stderr, err)
	}
	defer s.Close()

	if err := s.client.Migrate(ctx); err != nil {
		return cliutil.Fail(g.Stderr, err)
	}
	fmt.Fprintf(g.Stdout, "migrated %d types\n", len(s.client.Types()))
	return 0
}
