package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentswarm/swarm/internal/util"
	"github.com/agentswarm/swarm/internal/worker"
)

var (
	spawnCwd         string
	spawnBaseRepo    string
	spawnBranch      string
	spawnTags        []string
	spawnEnv         []string
	spawnUseTmux     bool
	spawnUseWorktree bool
	spawnNoReadyWait bool
)

var spawnCmd = &cobra.Command{
	Use:   "spawn NAME -- CMD [ARGS...]",
	Short: "Spawn a new supervised worker",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSpawn,
}

func init() {
	spawnCmd.Flags().StringVar(&spawnCwd, "cwd", "", "working directory for the worker")
	spawnCmd.Flags().StringVar(&spawnBaseRepo, "base-repo", "", "base git repo for --worktree")
	spawnCmd.Flags().StringVar(&spawnBranch, "branch", "", "branch name for --worktree (default swarm/NAME)")
	spawnCmd.Flags().StringArrayVar(&spawnTags, "tag", nil, "attach a tag (repeatable)")
	spawnCmd.Flags().StringArrayVar(&spawnEnv, "env", nil, "KEY=VALUE environment override (repeatable)")
	spawnCmd.Flags().BoolVar(&spawnUseTmux, "tmux", false, "run the worker in a tmux window")
	spawnCmd.Flags().BoolVar(&spawnUseWorktree, "worktree", false, "isolate the worker in a new git worktree")
	spawnCmd.Flags().BoolVar(&spawnNoReadyWait, "no-ready-wait", false, "don't block until the agent clears its startup pickers")
	rootCmd.AddCommand(spawnCmd)
}

func runSpawn(cmd *cobra.Command, args []string) error {
	name := args[0]
	command := args[1:]
	if len(command) == 0 {
		return fmt.Errorf("a command is required after --")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	env, err := parseEnv(spawnEnv)
	if err != nil {
		return err
	}
	mgr := newManager(cfg)

	rec, err := mgr.Spawn(worker.SpawnOptions{
		Name:        name,
		Cmd:         command,
		Cwd:         util.ExpandHome(spawnCwd),
		Env:         env,
		Tags:        parseTags(spawnTags),
		UseTmux:     spawnUseTmux,
		UseWorktree: spawnUseWorktree,
		BaseRepo:    util.ExpandHome(spawnBaseRepo),
		Branch:      spawnBranch,
		ReadyWait:   !spawnNoReadyWait,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "spawned %s (status=%s)\n", rec.Name, rec.Status)
	return nil
}
