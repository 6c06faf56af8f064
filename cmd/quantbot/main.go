// Command quantbot runs a single trading bot, a fleet of bots or the
// read-side query server, and offers offline tools over the state root.
package main

import (
	"os"

	"github.com/alanyoungcy/quantbot/cmd/quantbot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
