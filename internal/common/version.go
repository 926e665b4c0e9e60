package common

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version variables injected at build time via ldflags
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// BuildInfo describes the running binary. It is served on /version and
// printed by the version command.
type BuildInfo struct {
	Version   string `json:"version"`
	Build     string `json:"build"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
}

// String formats the version with its build details.
func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (build: %s, commit: %s)", b.Version, b.Build, b.GitCommit)
}

// GetVersion returns the semantic version string
func GetVersion() string {
	return Version
}

// Info returns the current build information.
func Info() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Build:     Build,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
	}
}

// LoadVersionFromFile fills build values that ldflags left at their defaults.
// It reads a .version file next to the binary, then falls back to the VCS
// stamp the Go toolchain embeds in module builds.
func LoadVersionFromFile() {
	if exe, err := os.Executable(); err == nil {
		loadVersionFile(filepath.Join(filepath.Dir(exe), ".version"))
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		applyBuildSettings(bi.Settings)
	}
}

// versionTargets maps .version keys to the variable each one fills and the
// default that marks it unset.
func versionTargets() map[string]struct {
	dst   *string
	unset string
} {
	return map[string]struct {
		dst   *string
		unset string
	}{
		"version": {&Version, "dev"},
		"build":   {&Build, "unknown"},
		"commit":  {&GitCommit, "unknown"},
	}
}

// loadVersionFile reads "key: value" lines. Unknown keys, comments and
// malformed lines are ignored.
func loadVersionFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	targets := versionTargets()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		target, known := targets[strings.TrimSpace(key)]
		if !known || *target.dst != target.unset {
			continue
		}
		*target.dst = strings.TrimSpace(val)
	}
}

// applyBuildSettings uses the embedded VCS revision and time when nothing
// else set them.
func applyBuildSettings(settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if GitCommit == "unknown" && s.Value != "" {
				GitCommit = s.Value
				if len(GitCommit) > 12 {
					GitCommit = GitCommit[:12]
				}
			}
		case "vcs.time":
			if Build == "unknown" && s.Value != "" {
				Build = s.Value
			}
		}
	}
}
