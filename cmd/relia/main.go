package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jonwraymond/relia/internal/cli"
)

// Set via -ldflags "-X main.version=... -X main.commit=... -X main.buildDate=...".
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, buildDate)

	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "relia:", err)
		os.Exit(1)
	}
}
