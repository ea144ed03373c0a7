package commands

import (
	"context"
	"fmt"

	"github.com/polyindex/polyindex/internal/cliopt"
	"github.com/polyindex/polyindex/internal/cliutil"
)

type familyInfo struct {
	Family   string   `json:"family"`
	Index    string   `json:"index"`
	DocTypes []string `json:"doc_types"`
}

// RunTypes lists every registered family with its index and document types.
func RunTypes(g cliopt.GlobalOptions, argv []string) int {
	if len(argv) > 0 {
		fmt.Fprintln(g.Stderr, "usage: types")
		return 2
	}
	ctx := context.Background()
	s, err := open(ctx, g)
	if err != nil {
		return cliutil.Fail(g.Stderr, err)
	}
	defer s.Close()

	reg := s.client.Registry()
	var out []familyInfo
	for _, root := range reg.Roots() {
		fi := familyInfo{Family: root.QualifiedName(), Index: s.client.Naming().Index(root)}
		for _, t := range reg.Family(root) {
			fi.DocTypes = append(fi.DocTypes, t.DocTypeName())
		}
		out = append(out, fi)
	}
	if cliutil.ParseOutputFormat(g.Format) == cliutil.FormatJSON {
		cliutil.PrintJSON(g.Stdout, out)
		return 0
	}
	for _, fi := range out {
		fmt.Fprintf(g.Stdout, "%s -> %s\n", fi.Family, fi.Index)
		for _, d := range fi.DocTypes {
			fmt.Fprintf(g.Stdout, "  %s\n", d)
		}
	}
	return 0
}
