// Package main provides the entry point for the dirindex CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/dirindex/cmd/dirindex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
