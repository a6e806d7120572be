// Command picomasterd supervises a configured set of worker processes
// and exposes control over a UNIX socket.
package main

import (
	"os"

	"picomasterd/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
