/*
main.go - Application entry point

PURPOSE:
  Runs the fulfillment engine command line. All wiring lives in the cli
  package so commands can be exercised in tests.

EXAMPLES:
  # Serve on the default port with a SQLite file
  ./server serve

  # Serve from the in-memory store
  FULFILLMENT_DATABASE_PATH=memory ./server serve

  # One-shot replay against a config file
  ./server replay --config ./fulfillment.yaml

SEE ALSO:
  - cli/root.go: Commands
  - config/config.go: Configuration keys
*/
package main

import (
	"os"

	"github.com/warp/fulfillment-engine/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
