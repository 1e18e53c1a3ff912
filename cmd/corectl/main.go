// Command corectl is a demo command-line dispatcher for corestore: it
// drives a corestore.Store through a canned counter scenario and reports
// the dispatch trace, journal contents, and mixin policy documents.
package main

import (
	"os"

	"github.com/kesterly/corestore/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
