package main

import (
	"github.com/spf13/cobra"

	"github.com/bwprobe/bwprobe/internal/output"
)

// Build metadata, injected via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output.Info("bwprobe %s (commit %s, built %s)", version, commit, date)
		},
	}
}
