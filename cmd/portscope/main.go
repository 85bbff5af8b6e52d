// Command portscope is a multi-technique port scanner.
package main

import "github.com/anstrom/portscope/cmd/cli"

// Build information, set by ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
