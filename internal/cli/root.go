// Package cli wires the swarm command-line surface: spawn, ls, status,
// send, interrupt, eof, attach, logs, peek, kill, wait, clean, respawn, and
// the ralph subtree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/agentswarm/swarm/internal/config"
	"github.com/agentswarm/swarm/internal/store"
	"github.com/agentswarm/swarm/internal/swarmerr"
	"github.com/agentswarm/swarm/internal/util"
	"github.com/agentswarm/swarm/internal/worker"
)

var (
	flagConfigPath string
	flagStateDir   string
	flagTmuxSocket string
)

var rootCmd = &cobra.Command{
	Use:   "swarm",
	Short: "Supervise long-running interactive agent commands",
	Long: `swarm spawns, tracks, and controls agent worker processes, each
optionally isolated in a tmux window and/or a git worktree, and drives an
autonomous restart loop ("ralph") that re-prompts an agent with a fresh
context window between iterations.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to swarm.toml (default $SWARM_HOME/swarm.toml)")
	rootCmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", "", "override the state directory (default $SWARM_HOME)")
	rootCmd.PersistentFlags().StringVar(&flagTmuxSocket, "tmux-socket", "", "tmux -L socket name (default the shared tmux server)")
}

// notFoundIsTwoCommands holds the full command paths whose NotFound errors
// map to exit code 2 (spec §6/§7: top-level "status"/"peek" only — every
// other verb, including "ralph status", treats a missing worker as a
// generic error, exit 1).
var notFoundIsTwoCommands = map[string]bool{
	"swarm status": true,
	"swarm peek":   true,
}

// Execute runs the root command and returns the process exit code. Table
// and status output fall back to a plain, uncolored rendering whenever
// stdout isn't a terminal (piped to a file, captured by another process) —
// lipgloss's termenv backend honors NO_COLOR.
func Execute() int {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		os.Setenv("NO_COLOR", "1")
	}
	cmd, err := rootCmd.ExecuteC()
	if err != nil {
		swarmerr.PrintError(err)
		return swarmerr.ExitCode(err, notFoundIsTwoCommands[cmd.CommandPath()])
	}
	return 0
}

// loadConfig resolves configuration from the persistent flags, applied by
// every subcommand before touching the registry.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(util.ExpandHome(flagConfigPath), util.ExpandHome(flagStateDir))
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindInvalidArgument, "loading configuration", err)
	}
	if flagTmuxSocket != "" {
		cfg.TmuxSocket = flagTmuxSocket
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindTransient, "creating state directory", err)
	}
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindTransient, "creating log directory", err)
	}
	return cfg, nil
}

// newManager builds a worker.Manager from the resolved configuration.
func newManager(cfg *config.Config) *worker.Manager {
	st := store.New(cfg.StateDir)
	return worker.NewManager(st, cfg.TmuxSocket, cfg.LogDir, cfg.StateDir)
}

// swarmBinaryPath returns the path to the currently-running executable, for
// `ralph spawn`'s background monitor re-exec.
func swarmBinaryPath() (string, error) {
	p, err := os.Executable()
	if err != nil {
		return "", swarmerr.Wrap(swarmerr.KindTransient, "locating swarm executable", err)
	}
	return p, nil
}

func parseTags(raw []string) []string {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func parseEnv(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(raw))
	for _, kv := range raw {
		k, v, ok := splitKV(kv)
		if !ok {
			return nil, swarmerr.New(swarmerr.KindInvalidArgument, fmt.Sprintf("invalid --env %q, expected KEY=VALUE", kv))
		}
		env[k] = v
	}
	return env, nil
}

func splitKV(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
