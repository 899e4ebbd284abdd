package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bwprobe/bwprobe/internal/config"
	"github.com/bwprobe/bwprobe/internal/orchestrator"
	"github.com/bwprobe/bwprobe/internal/output"
)

func newRunCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full throughput test suite",
		Long: `Run validates the environment, starts iperf3 servers on every
configured node, tests each remote in both directions, attempts one
opportunistic test against the external server catalog, and tears
everything down.

Exit code is 0 on full success (external-catalog exhaustion included)
and 1 on any fatal condition.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(homeDir, configPath, output.DefaultLogger)
			cfg, err := loader.Load()
			if err != nil {
				return err
			}

			orch, err := orchestrator.Build(cfg, output.DefaultLogger, dryRun)
			if err != nil {
				return err
			}

			// SIGINT/SIGTERM cancel the context so no further
			// operation starts; the orchestrator still runs cleanup.
			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return orch.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log commands without executing them")
	return cmd
}
