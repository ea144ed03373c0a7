package cli

import (
	"fmt"
	"io"
)

func PrintRootHelp(w io.Writer) {
	fmt.Fprintln(w, `polyindex: keeps a search index in step with a polymorphic relational model

USAGE
  polyindex [global flags] <command> [args]

GLOBAL FLAGS
  --config <file.yaml>   (default polyindex.yaml; POLYINDEX_* env vars override it)
  --log-level debug|info|warn|error
  --format pretty|json

COMMANDS
  synces [suffix] [--drop-existing-indexes] [--force]
      create indices and install the settings and mappings of every family
  bulk-index [--chunk 250] [--index-suffix <suffix>] [app...]
      reindex every row of the given apps (all when none given)
  swap-aliases <suffix>
      point every family alias at its <suffix> generation
  migrate
      create or extend the store tables
  types
      list families, their index and document types
  mapping [type]
      print the mapping of one type or of all of them

EXIT CODES
  0 done, 1 failed or halted, 2 usage error`)
}
