package main

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/bwprobe/bwprobe/internal/config"
	"github.com/bwprobe/bwprobe/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage bwprobe configuration",
	}
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactively generate config.toml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := promptConfig()
			if err != nil {
				return err
			}

			path := filepath.Join(homeDir, "config.toml")
			if err := config.Write(cfg, path, force); err != nil {
				return err
			}
			output.Success("wrote %s", path)
			output.Info("edit it to add [[external]] catalog entries if desired")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config.toml")
	return cmd
}

// promptConfig collects the minimum viable configuration.
func promptConfig() (*config.Config, error) {
	localPrompt := promptui.Prompt{
		Label:    "Local address (remotes connect back to this)",
		Validate: validateAddress,
	}
	localAddr, err := localPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("prompt cancelled: %w", err)
	}

	remotesPrompt := promptui.Prompt{
		Label: "Remote node addresses (comma separated)",
		Validate: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("at least one remote is required")
			}
			return nil
		},
	}
	remotesRaw, err := remotesPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("prompt cancelled: %w", err)
	}

	keyPrompt := promptui.Prompt{
		Label:   "SSH private key path",
		Default: filepath.Join(DefaultHomeDir(), "id_ed25519"),
	}
	keyPath, err := keyPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("prompt cancelled: %w", err)
	}

	logPrompt := promptui.Prompt{
		Label:   "Log directory",
		Default: filepath.Join(DefaultHomeDir(), "logs"),
	}
	logDir, err := logPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("prompt cancelled: %w", err)
	}

	cfg := &config.Config{
		LocalAddress: localAddr,
		SSHKeyPath:   keyPath,
		LogDir:       logDir,
	}
	for _, addr := range strings.Split(remotesRaw, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		cfg.Remotes = append(cfg.Remotes, config.RemoteNode{Address: addr})
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// validateAddress accepts an IP or a resolvable-looking hostname.
func validateAddress(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("address must not be empty")
	}
	if net.ParseIP(s) != nil {
		return nil
	}
	if strings.ContainsAny(s, " /") {
		return fmt.Errorf("invalid address")
	}
	return nil
}
