package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/bwprobe/bwprobe/internal/output"
)

// Loader is responsible for locating and loading configuration.
type Loader struct {
	homeDir    string
	configPath string // Explicit --config path
	logger     *output.Logger
}

// NewLoader creates a new Loader.
func NewLoader(homeDir, configPath string, logger *output.Logger) *Loader {
	if logger == nil {
		logger = output.DefaultLogger
	}
	return &Loader{
		homeDir:    homeDir,
		configPath: configPath,
		logger:     logger,
	}
}

// findConfigFile searches for config.toml in the following order:
// 1. Explicit path (--config flag)
// 2. Current directory (./config.toml)
// 3. Home directory (~/.bwprobe/config.toml)
func (l *Loader) findConfigFile() (string, error) {
	if l.configPath != "" {
		if _, err := os.Stat(l.configPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", l.configPath)
		}
		return l.configPath, nil
	}

	if _, err := os.Stat("./config.toml"); err == nil {
		return "./config.toml", nil
	}

	homePath := filepath.Join(l.homeDir, "config.toml")
	if _, err := os.Stat(homePath); err == nil {
		return homePath, nil
	}

	return "", fmt.Errorf("no config.toml found (searched --config, ., %s); run 'bwprobe config init'", l.homeDir)
}

// Load locates, parses, defaults and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	path, err := l.findConfigFile()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	l.logger.Debug("Using config file: %s", path)
	return &cfg, nil
}

// LoadExcludeFile reads the exclusion file and returns the set of
// excluded hostnames. A missing file is not an error: it simply means
// nothing is excluded. Lines starting with '#' and blank lines are
// ignored.
func LoadExcludeFile(path string) (map[string]struct{}, error) {
	excluded := make(map[string]struct{})
	if path == "" {
		return excluded, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return excluded, nil
		}
		return nil, fmt.Errorf("failed to open exclude file %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		excluded[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read exclude file %s: %w", path, err)
	}

	return excluded, nil
}
