package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/toolgate/internal/common"
	"github.com/bobmcallan/toolgate/internal/config"
)

// loadConfig resolves configuration with priority:
// defaults -> files -> TOOLGATE_* env -> flags.
func loadConfig(cmd *cobra.Command) (*config.Config, []string, error) {
	configFiles, _ := cmd.Flags().GetStringArray("config")

	// Auto-discover config file if not specified.
	if len(configFiles) == 0 {
		for _, path := range configSearchPaths() {
			if _, err := os.Stat(path); err == nil {
				configFiles = append(configFiles, path)
				break
			}
		}
	}

	cfg, err := config.LoadFromFiles(configFiles...)
	if err != nil {
		return nil, nil, err
	}

	port := 0
	host := ""
	if f := cmd.Flags().Lookup("port"); f != nil {
		port, _ = cmd.Flags().GetInt("port")
	}
	if f := cmd.Flags().Lookup("host"); f != nil {
		host, _ = cmd.Flags().GetString("host")
	}
	upstreamURL, _ := cmd.Flags().GetString("upstream-url")
	catalogPath, _ := cmd.Flags().GetString("catalog")
	config.ApplyFlagOverrides(cfg, port, host, upstreamURL, catalogPath)

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}

	return cfg, configFiles, nil
}

// configSearchPaths returns TOML files to auto-discover (first match wins).
// Binary-relative paths are tried first, with CWD fallbacks after.
// Paths are deduplicated via filepath.Abs.
func configSearchPaths() []string {
	candidates := []string{
		"toolgate.toml",
		"config/toolgate.toml",
	}

	exe, err := os.Executable()
	if err != nil {
		return candidates
	}
	binDir := filepath.Dir(exe)

	paths := []string{
		filepath.Join(binDir, "toolgate.toml"),
		filepath.Join(binDir, "config", "toolgate.toml"),
	}
	paths = append(paths, candidates...)

	// Deduplicate via absolute path.
	seen := make(map[string]bool, len(paths))
	deduped := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		deduped = append(deduped, p)
	}
	return deduped
}

// setupLogger creates the arbor logger; it always writes to stderr so stdout
// stays free for command output and the stdio transport.
func setupLogger(cfg *config.Config) *common.Logger {
	return common.NewLoggerFromConfig(cfg.Logging)
}

func describeFiles(files []string) string {
	if len(files) == 0 {
		return "(defaults)"
	}
	return fmt.Sprintf("%v", files)
}
