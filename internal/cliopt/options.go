package cliopt

import (
	"flag"
	"io"
	"os"
)

// GlobalOptions are parsed once at the CLI root and passed to subcommands.
//
// NOTE: This is a separate package to avoid import cycles between the root
// command router and per-command code.
type GlobalOptions struct {
	ConfigPath string
	// LogLevel overrides log.level from the config when set.
	LogLevel string
	Format   string

	Stdout io.Writer
	Stderr io.Writer
}

func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{
		ConfigPath: "polyindex.yaml",
		Format:     "pretty",
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}
}

func BindGlobalFlags(fs *flag.FlagSet, g *GlobalOptions) {
	fs.StringVar(&g.ConfigPath, "config", g.ConfigPath, "YAML config file; environment variables override it")
	fs.StringVar(&g.LogLevel, "log-level", g.LogLevel, "log level: debug|info|warn|error")
	fs.StringVar(&g.Format, "format", g.Format, "output format: pretty|json")
}
