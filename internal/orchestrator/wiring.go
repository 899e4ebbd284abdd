package orchestrator

import (
	"os"

	"github.com/bwprobe/bwprobe/internal/config"
	"github.com/bwprobe/bwprobe/internal/discovery"
	"github.com/bwprobe/bwprobe/internal/iperf"
	"github.com/bwprobe/bwprobe/internal/output"
	"github.com/bwprobe/bwprobe/internal/prereq"
	"github.com/bwprobe/bwprobe/internal/remote"
	"github.com/bwprobe/bwprobe/internal/retry"
	"github.com/bwprobe/bwprobe/internal/runlog"
	"github.com/bwprobe/bwprobe/internal/runner"
	"github.com/bwprobe/bwprobe/internal/server"
)

// Build wires a full Orchestrator from validated configuration.
// dryRun swaps every executor for a logging stand-in, so no command
// runs anywhere.
func Build(cfg *config.Config, console *output.Logger, dryRun bool) (*Orchestrator, error) {
	if console == nil {
		console = output.DefaultLogger
	}

	logs, err := runlog.Open(cfg.LogDir)
	if err != nil {
		return nil, err
	}

	engine := retry.New(console, logs).WithMaxRetries(cfg.MaxRetries)

	// One executor per node, shared by the manager and the runners.
	executors := make(map[string]remote.Executor, len(cfg.Remotes)+1)
	var closers []func()

	newExecutor := func(name string, real func() remote.Executor) remote.Executor {
		if dryRun {
			return remote.NewDryRunExecutor(name, console, logs)
		}
		e := real()
		closers = append(closers, func() { e.Close() })
		return e
	}

	executors[server.LocalNode] = newExecutor(server.LocalNode, func() remote.Executor {
		return remote.NewLocalExecutor()
	})
	for _, node := range cfg.Remotes {
		node := node
		executors[node.Address] = newExecutor(node.Address, func() remote.Executor {
			return remote.NewSSHExecutor(remote.SSHConfig{
				Address:        node.Address,
				User:           node.User,
				Port:           node.SSHPort,
				KeyPath:        cfg.SSHKeyPath,
				KnownHostsPath: cfg.KnownHostsPath,
				DialTimeout:    cfg.ProbeTimeout(),
			})
		})
	}

	manager := server.NewManager(server.Options{
		Console:   console,
		Logs:      logs,
		Engine:    engine,
		Executors: executors,
		Port:      cfg.ServerPort,
		Settle:    cfg.SettleDelay(),
		DryRun:    dryRun,
	})

	localRunner := iperf.NewExecRunner(executors[server.LocalNode])
	remoteRunners := make(map[string]iperf.Runner, len(cfg.Remotes))
	for _, node := range cfg.Remotes {
		remoteRunners[node.Address] = iperf.NewExecRunner(executors[node.Address])
	}

	pairwise := runner.New(runner.Options{
		Console:       console,
		Logs:          logs,
		Engine:        engine,
		LocalRunner:   localRunner,
		RemoteRunners: remoteRunners,
		LocalAddress:  cfg.LocalAddress,
		ServerPort:    cfg.ServerPort,
		Duration:      cfg.TestDuration(),
	})

	excluded, err := config.LoadExcludeFile(cfg.ExcludeFile)
	if err != nil {
		logs.Close()
		return nil, err
	}
	catalog := discovery.NewCatalog(cfg.External, excluded)

	cascade := discovery.NewCascade(discovery.CascadeOptions{
		Catalog:      catalog,
		Runner:       localRunner,
		Console:      console,
		Logs:         logs,
		ProbeTimeout: cfg.ProbeTimeout(),
		Duration:     cfg.TestDuration(),
		DryRun:       dryRun,
	})

	validate := func() error {
		checker := prereq.NewChecker()
		if len(cfg.Remotes) > 0 {
			checker.RequireSSH()
		}
		_, err := checker.Check()
		return err
	}

	return &Orchestrator{
		cfg:      cfg,
		console:  console,
		logs:     logs,
		engine:   engine,
		validate: validate,
		manager:  manager,
		pairwise: pairwise,
		cascade:  cascade,
		catalog:  catalog,
		watcher:  NewWatcher(),
		dryRun:   dryRun,
		origArgs: os.Args,
		closers:  closers,
		execve:   defaultExec,
	}, nil
}
