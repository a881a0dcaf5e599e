package main

import (
	"os"

	"quiver.io/incremental-query-runtime/internal/buildinfo"
	"quiver.io/incremental-query-runtime/internal/cli"
)

var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

func main() {
	info := buildinfo.BuildInfo{Version: version, CommitHash: commitHash, BuildDate: buildDate}
	if err := cli.New(info).Execute(); err != nil {
		os.Exit(1)
	}
}
