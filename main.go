package main

import (
	"fmt"
	"os"

	"github.com/bnema/wlproto/cmd"
)

// Set by the linker: -X main.version=... -X main.commit=... -X main.date=...
var (
	version string
	commit  string
	date    string
)

func main() {
	if version != "" {
		cmd.Version = version
	}
	if commit != "" {
		cmd.Commit = commit
	}
	if date != "" {
		cmd.Date = date
	}
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
