package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bwprobe/bwprobe/internal/config"
	"github.com/bwprobe/bwprobe/internal/output"
	"github.com/bwprobe/bwprobe/internal/prereq"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate required tools and writable log paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(homeDir, configPath, output.DefaultLogger)
			cfg, err := loader.Load()
			if err != nil {
				return err
			}

			checker := prereq.NewChecker()
			if len(cfg.Remotes) > 0 {
				checker.RequireSSH()
			}

			results, checkErr := checker.Check()
			for _, r := range results {
				if r.Found {
					output.Success("%s: %s", r.Name, r.Message)
				} else {
					output.DefaultLogger.Failure("%s: %s", r.Name, r.Message)
					if r.Suggestion != "" {
						output.Info("  hint: %s", r.Suggestion)
					}
				}
			}

			if err := checkLogDir(cfg.LogDir); err != nil {
				output.DefaultLogger.Failure("log directory: %v", err)
				return fmt.Errorf("log path validation failed")
			}
			output.Success("log directory %s is writable", cfg.LogDir)

			if checkErr != nil {
				return fmt.Errorf("prerequisite checks failed")
			}
			output.Success("all checks passed")
			return nil
		},
	}
}

// checkLogDir verifies the log directory exists (creating it with
// fixed permissions if absent) and is writable.
func checkLogDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".write-check")
	if err := os.WriteFile(probe, nil, 0644); err != nil {
		return err
	}
	return os.Remove(probe)
}
