package main

import (
	"os"

	"github.com/nerdneilsfield/dreamforge/cmd"
)

// Injected at build time with -ldflags "-X main.version=...".
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := cmd.Execute(version, buildTime, gitCommit); err != nil {
		os.Exit(1)
	}
}
