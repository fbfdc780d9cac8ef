// Package main is the entry point for the tvstream application.
package main

import (
	"os"

	"github.com/jmylchreest/tvstream/cmd/tvstream/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
