package main

import (
	"os"

	"github.com/lodgepole/farmsight/internal/cmd"
)

// Build metadata injected via -ldflags at release time.
var (
	version   = "dev"
	commit    = "HEAD"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	os.Exit(cmd.Execute())
}
