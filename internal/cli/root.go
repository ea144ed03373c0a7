package cli

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/polyindex/polyindex/internal/cli/commands"
	"github.com/polyindex/polyindex/internal/cliopt"
)

// Execute runs the CLI and returns an exit code.
func Execute(argv []string) int {
	return ExecuteIO(argv, os.Stdout, os.Stderr)
}

// ExecuteIO is Execute with explicit output streams.
func ExecuteIO(argv []string, stdout, stderr io.Writer) int {
	globalFS := flag.NewFlagSet("polyindex", flag.ContinueOnError)
	globalFS.SetOutput(stderr)
	g := cliopt.DefaultGlobalOptions()
	g.Stdout, g.Stderr = stdout, stderr
	cliopt.BindGlobalFlags(globalFS, &g)

	if err := globalFS.Parse(argv); err != nil {
		// flag package already printed the error
		return 2
	}

	args := globalFS.Args()
	if len(args) == 0 {
		PrintRootHelp(stdout)
		return 0
	}

	verb := args[0]
	rest := args[1:]

	switch verb {
	case "--help", "-h", "help":
		PrintRootHelp(stdout)
		return 0
	case "synces":
		return commands.RunSynces(g, rest)
	case "bulk-index":
		return commands.RunBulkIndex(g, rest)
	case "swap-aliases":
		return commands.RunSwapAliases(g, rest)
	case "migrate":
		return commands.RunMigrate(g, rest)
	case "types":
		return commands.RunTypes(g, rest)
	case "mapping":
		return commands.RunMapping(g, rest)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n\n", verb)
		PrintRootHelp(stderr)
		return 2
	}
}
