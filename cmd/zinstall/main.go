package main

import (
	_ "embed"
	"fmt"
	"os"
)

// Version will be set at build time via -ldflags
var Version = "v0.0.1-alpha"

//go:embed bootstrap.toml
var bootstrapTOML []byte

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
