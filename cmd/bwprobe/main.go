package main

import (
	"errors"
	"os"

	"github.com/bwprobe/bwprobe/internal/orchestrator"
	"github.com/bwprobe/bwprobe/internal/output"
)

func main() {
	rootCmd := NewRootCmd()

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, orchestrator.ErrInterrupted) {
			output.Error("%v", err)
		}
		os.Exit(1)
	}
}
