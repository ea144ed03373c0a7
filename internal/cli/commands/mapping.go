package commands

import (
	"context"
	"fmt"

	"github.com/polyindex/polyindex/internal/cliopt"
	"github.com/polyindex/polyindex/internal/cliutil"
	"github.com/polyindex/polyindex/polyindex/engine"
	"github.com/polyindex/polyindex/polyindex/model"
)

// RunMapping prints the mapping of one type, or of every registered type keyed
// by document type name.
func RunMapping(g cliopt.GlobalOptions, argv []string) int {
	if len(argv) > 1 {
		fmt.Fprintln(g.Stderr, "usage: mapping [type]")
		return 2
	}
	ctx := context.Background()
	s, err := open(ctx, g)
	if err != nil {
		return cliutil.Fail(g.Stderr, err)
	}
	defer s.Close()

	types := s.client.Registry().Types()
	if len(argv) == 1 {
		t, err := s.client.LookupType(argv[0])
		if err != nil {
			return cliutil.Fail(g.Stderr, err)
		}
		types = []*model.Type{t}
	}
	out := make(map[string]engine.Mapping, len(types))
	for _, t := range types {
		m, err := s.client.Mapping(t)
		if err != nil {
			return cliutil.Fail(g.Stderr, err)
		}
		out[t.DocTypeName()] = m
	}
	cliutil.PrintJSON(g.Stdout, out)
	return 0
}
