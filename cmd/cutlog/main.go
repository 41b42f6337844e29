// Command cutlog is the offline-first haircut tracker.
package main

import (
	"os"

	"github.com/kimhsiao/cutlog/internal/cli"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	cli.Version = Version
	os.Exit(cli.Execute())
}
