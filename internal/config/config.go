// Package config resolves swarm's on-disk layout and operator defaults:
// SWARM_HOME, an optional swarm.toml, and the directories/files spec §6
// describes ($SWARM_HOME/state.json, logs/, ralph/).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// EnvHome names the environment variable that overrides the state directory
// root, per spec §6 ("The state directory is configurable through an
// environment variable").
const EnvHome = "SWARM_HOME"

const defaultHomeDirName = ".swarm"

// Defaults mirror the flag defaults named in spec §6 (ralph spawn). Other
// ambient timings (readiness polling, kill grace, send-keys debounce, the
// monitor's inner-poll cadence) are owned by the packages that use them
// (internal/readiness, internal/process, internal/tmux, internal/ralph) —
// they aren't operator-configurable, so they don't belong in swarm.toml.
const (
	DefaultMaxIterations     = 50
	DefaultInactivityTimeout = 60 // seconds; resolves the §9 Open Question
	DefaultInactivityMode    = "output"
)

// File is the parsed shape of swarm.toml (§2.4 of SPEC_FULL.md). Every field
// is optional; zero values mean "use the built-in default."
type File struct {
	StateDir                 string `toml:"state_dir"`
	TmuxSocket               string `toml:"tmux_socket"`
	DefaultInactivityTimeout int    `toml:"default_inactivity_timeout"`
	DefaultMaxIterations     int    `toml:"default_max_iterations"`
	DefaultInactivityMode    string `toml:"default_inactivity_mode"`
	LogDir                   string `toml:"log_dir"`
}

// Config is the resolved, ready-to-use configuration: file values layered
// under environment/flag overrides, with built-in defaults filled in.
type Config struct {
	StateDir                 string
	TmuxSocket               string
	DefaultInactivityTimeout int
	DefaultMaxIterations     int
	DefaultInactivityMode    string
	LogDir                   string
}

// Load resolves the configuration. configPathOverride (from --config) takes
// priority over $SWARM_HOME/swarm.toml; stateDirOverride (from --state-dir)
// takes priority over both the file and $SWARM_HOME, and $SWARM_HOME takes
// priority over the file's state_dir. Missing files are not errors —
// defaults apply.
func Load(configPathOverride, stateDirOverride string) (*Config, error) {
	home := defaultHome()

	cfgPath := configPathOverride
	if cfgPath == "" {
		cfgPath = filepath.Join(home, "swarm.toml")
	}

	var f File
	if data, err := os.ReadFile(cfgPath); err == nil {
		if _, err := toml.Decode(string(data), &f); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", cfgPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", cfgPath, err)
	}

	cfg := &Config{
		StateDir:                 firstNonEmpty(stateDirOverride, os.Getenv(EnvHome), f.StateDir, home),
		TmuxSocket:               f.TmuxSocket,
		DefaultInactivityTimeout: firstPositive(f.DefaultInactivityTimeout, DefaultInactivityTimeout),
		DefaultMaxIterations:     firstPositive(f.DefaultMaxIterations, DefaultMaxIterations),
		DefaultInactivityMode:    firstNonEmpty(f.DefaultInactivityMode, DefaultInactivityMode),
		LogDir:                   f.LogDir,
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.StateDir, "logs")
	}
	return cfg, nil
}

// defaultHome returns $SWARM_HOME, or ~/.swarm when unset.
func defaultHome() string {
	if h := os.Getenv(EnvHome); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultHomeDirName
	}
	return filepath.Join(home, defaultHomeDirName)
}

// StatePath returns the registry file path for a config.
func (c *Config) StatePath() string { return filepath.Join(c.StateDir, "state.json") }

// LockPath returns the registry's sibling lock file path.
func (c *Config) LockPath() string { return filepath.Join(c.StateDir, "state.json.lock") }

// RalphDir returns the per-worker ralph state directory root.
func (c *Config) RalphDir() string { return filepath.Join(c.StateDir, "ralph") }

// RalphWorkerDir returns the ralph state directory for one worker.
func (c *Config) RalphWorkerDir(name string) string { return filepath.Join(c.RalphDir(), name) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
