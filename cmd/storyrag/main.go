// Package main provides the entry point for the storyrag CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/storyrag/cmd/storyrag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
