package cliutil

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/polyindex/polyindex/polyindex"
)

type OutputFormat string

const (
	FormatPretty OutputFormat = "pretty"
	FormatJSON   OutputFormat = "json"
)

func ParseOutputFormat(s string) OutputFormat {
	switch OutputFormat(s) {
	case FormatPretty, FormatJSON:
		return OutputFormat(s)
	default:
		return FormatPretty
	}
}

func PrintJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(b))
}

// ParseInterspersed parses fs allowing flags after positional arguments, so
// "synces v2 --force" and "synces --force v2" mean the same.
func ParseInterspersed(fs *flag.FlagSet, argv []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(argv); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		if rest[0] == "--" {
			return append(positional, rest[1:]...), nil
		}
		positional = append(positional, rest[0])
		argv = rest[1:]
	}
}

// Fail prints err and returns the exit code for it.
func Fail(w io.Writer, err error) int {
	if polyindex.IsCode(err, polyindex.ErrConfig) {
		fmt.Fprintln(w, "configuration error:", err)
		return 1
	}
	fmt.Fprintln(w, err)
	return 1
}
