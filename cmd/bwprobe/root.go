package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bwprobe/bwprobe/internal/output"
)

// Global configuration variables
var (
	homeDir    string
	jsonMode   bool
	noColor    bool
	verbose    bool
	configPath string // Path to config.toml file (--config flag)
)

// DefaultHomeDir returns the default home directory for bwprobe data.
func DefaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bwprobe"
	}
	return filepath.Join(home, ".bwprobe")
}

// NewRootCmd builds the bwprobe root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bwprobe",
		Short: "Orchestrate bidirectional network-throughput tests",
		Long: `bwprobe coordinates iperf3 throughput measurements between this
host, a fixed set of SSH-reachable remote nodes, and a catalog of
public test servers, producing a pass/fail record per pairing.

Examples:
  # Generate a configuration interactively
  bwprobe config init

  # Verify required tools and writable log paths
  bwprobe check

  # Run all tests
  bwprobe run

  # Show what would run without executing anything
  bwprobe run --dry-run`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if envHome := os.Getenv("BWPROBE_HOME"); envHome != "" && !cmd.Flags().Changed("home") {
				homeDir = envHome
			}
			if os.Getenv("NO_COLOR") != "" && !cmd.Flags().Changed("no-color") {
				noColor = true
			}
			// Not a terminal: drop color codes from the output.
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				noColor = true
			}

			output.DefaultLogger.SetNoColor(noColor)
			output.DefaultLogger.SetVerbose(verbose)
			output.DefaultLogger.SetJSONMode(jsonMode)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&homeDir, "home", DefaultHomeDir(), "bwprobe home directory")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	cmd.PersistentFlags().BoolVar(&jsonMode, "json", false, "suppress text output (JSON mode)")

	cmd.AddCommand(
		newRunCmd(),
		newCheckCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	return cmd
}
