package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentswarm/swarm/internal/config"
	"github.com/agentswarm/swarm/internal/ralph"
	"github.com/agentswarm/swarm/internal/style"
	"github.com/agentswarm/swarm/internal/swarmerr"
	"github.com/agentswarm/swarm/internal/tui"
	"github.com/agentswarm/swarm/internal/util"
)

var ralphCmd = &cobra.Command{
	Use:   "ralph",
	Short: "Autonomous restart loop: re-prompt an agent with fresh context each iteration",
}

func init() {
	rootCmd.AddCommand(ralphCmd)
}

func newController(cfg *config.Config) *ralph.Controller {
	return ralph.NewController(newManager(cfg), cfg.RalphDir())
}

// --- ralph init / template ---

func runRalphInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path, err := newController(cfg).Init(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

var ralphInitCmd = &cobra.Command{
	Use:   "init NAME",
	Short: "Seed a prompt.md template for a new ralph worker",
	Args:  cobra.ExactArgs(1),
	RunE:  runRalphInit,
}

var ralphTemplateCmd = &cobra.Command{
	Use:   "template NAME",
	Short: "Alias for `ralph init`",
	Args:  cobra.ExactArgs(1),
	RunE:  runRalphInit,
}

func init() {
	ralphCmd.AddCommand(ralphInitCmd)
	ralphCmd.AddCommand(ralphTemplateCmd)
}

// --- ralph spawn ---

var (
	ralphCwd                 string
	ralphBaseRepo            string
	ralphBranch              string
	ralphTags                []string
	ralphEnv                 []string
	ralphUseWorktree         bool
	ralphPromptFile          string
	ralphMaxIterations       int
	ralphInactivityTimeout   int
	ralphInactivityMode      string
	ralphDonePattern         string
	ralphCheckDoneContinuous bool
	ralphNoCheckDone         bool
	ralphMaxContext          int
	ralphForeground          bool
	ralphNoRun               bool
	ralphReplace             bool
	ralphCleanState          bool
)

var ralphSpawnCmd = &cobra.Command{
	Use:   "spawn NAME -- CMD [ARGS...]",
	Short: "Spawn a new ralph-supervised worker",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRalphSpawn,
}

func init() {
	f := ralphSpawnCmd.Flags()
	f.StringVar(&ralphCwd, "cwd", "", "working directory for the worker")
	f.StringVar(&ralphBaseRepo, "base-repo", "", "base git repo for --worktree")
	f.StringVar(&ralphBranch, "branch", "", "branch name for --worktree (default swarm/NAME)")
	f.StringArrayVar(&ralphTags, "tag", nil, "attach a tag (repeatable)")
	f.StringArrayVar(&ralphEnv, "env", nil, "KEY=VALUE environment override (repeatable)")
	f.BoolVar(&ralphUseWorktree, "worktree", false, "isolate the worker in a new git worktree")
	f.StringVar(&ralphPromptFile, "prompt-file", "", "file re-read and re-sent each iteration (required)")
	f.IntVar(&ralphMaxIterations, "max-iterations", config.DefaultMaxIterations, "stop after this many iterations (default_max_iterations in swarm.toml if unset)")
	f.IntVar(&ralphInactivityTimeout, "inactivity-timeout", config.DefaultInactivityTimeout, "seconds of no activity before ending an iteration (default_inactivity_timeout in swarm.toml if unset)")
	f.StringVar(&ralphInactivityMode, "inactivity-mode", config.DefaultInactivityMode, "output|ready|both (default_inactivity_mode in swarm.toml if unset)")
	f.StringVar(&ralphDonePattern, "done-pattern", "", "regex that marks the task complete")
	f.BoolVar(&ralphCheckDoneContinuous, "check-done-continuous", false, "poll for done_pattern during the iteration, not just at its end")
	f.BoolVar(&ralphNoCheckDone, "no-check-done-continuous", false, "disable continuous done-pattern checking")
	f.IntVar(&ralphMaxContext, "max-context", 0, "context-window percent threshold for the wrap-up nudge")
	f.BoolVar(&ralphForeground, "foreground", false, "run the monitor loop in this process instead of backgrounding it")
	f.BoolVar(&ralphNoRun, "no-run", false, "create the worker and state but don't start the monitor")
	f.BoolVar(&ralphReplace, "replace", false, "kill and clean an existing worker of the same name first")
	f.BoolVar(&ralphCleanState, "clean-state", false, "clear any saved ralph state for this name before spawning")
	ralphCmd.AddCommand(ralphSpawnCmd)
}

func runRalphSpawn(cmd *cobra.Command, args []string) error {
	name := args[0]
	command := args[1:]
	if len(command) == 0 {
		return fmt.Errorf("a command is required after --")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	env, err := parseEnv(ralphEnv)
	if err != nil {
		return err
	}

	var checkDone *bool
	switch {
	case ralphCheckDoneContinuous && ralphNoCheckDone:
		return fmt.Errorf("--check-done-continuous and --no-check-done-continuous are mutually exclusive")
	case ralphCheckDoneContinuous:
		v := true
		checkDone = &v
	case ralphNoCheckDone:
		v := false
		checkDone = &v
	}

	// CLI flags always override swarm.toml; a flag the caller never set
	// falls back to the file's default_* key instead of the bare cobra
	// flag default, per SPEC_FULL.md §2.4.
	maxIterations := ralphMaxIterations
	if !cmd.Flags().Changed("max-iterations") {
		maxIterations = cfg.DefaultMaxIterations
	}
	inactivityTimeout := ralphInactivityTimeout
	if !cmd.Flags().Changed("inactivity-timeout") {
		inactivityTimeout = cfg.DefaultInactivityTimeout
	}
	inactivityMode := ralphInactivityMode
	if !cmd.Flags().Changed("inactivity-mode") {
		inactivityMode = cfg.DefaultInactivityMode
	}

	ctrl := newController(cfg)
	st, err := ctrl.Spawn(ralph.SpawnOptions{
		Name:                name,
		Cmd:                 command,
		Cwd:                 util.ExpandHome(ralphCwd),
		BaseRepo:            util.ExpandHome(ralphBaseRepo),
		Branch:              ralphBranch,
		Tags:                parseTags(ralphTags),
		Env:                 env,
		UseWorktree:         ralphUseWorktree,
		PromptFile:          util.ExpandHome(ralphPromptFile),
		MaxIterations:       maxIterations,
		InactivityTimeout:   inactivityTimeout,
		InactivityMode:      ralph.InactivityMode(inactivityMode),
		DonePattern:         ralphDonePattern,
		CheckDoneContinuous: checkDone,
		MaxContext:          ralphMaxContext,
		Replace:             ralphReplace,
		CleanState:          ralphCleanState,
		NoRun:               ralphNoRun,
		Foreground:          ralphForeground,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "spawned ralph worker %s (max_iterations=%d)\n", name, st.MaxIterations)
	if ralphNoRun {
		return nil
	}
	if ralphForeground {
		return ctrl.RunForeground(name)
	}
	bin, err := swarmBinaryPath()
	if err != nil {
		return err
	}
	pid, err := ctrl.StartBackground(name, bin)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "monitor running in background (pid %d)\n", pid)
	return nil
}

// --- ralph run (internal re-exec entry point + explicit foreground run) ---

var ralphRunInternal bool

var ralphRunCmd = &cobra.Command{
	Use:   "run NAME",
	Short: "Run the monitor loop for an existing ralph worker in this process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return newController(cfg).RunForeground(args[0])
	},
}

func init() {
	ralphRunCmd.Flags().BoolVar(&ralphRunInternal, "internal", false, "marks this invocation as the re-exec'd background monitor process")
	ralphCmd.AddCommand(ralphRunCmd)
}

// --- ralph status / list ---

var ralphStatusJSON bool

var ralphStatusCmd = &cobra.Command{
	Use:   "status NAME",
	Short: "Show one ralph worker's state",
	Args:  cobra.ExactArgs(1),
	RunE:  runRalphStatus,
}

func init() {
	ralphStatusCmd.Flags().BoolVar(&ralphStatusJSON, "json", false, "emit machine-readable JSON")
	ralphCmd.AddCommand(ralphStatusCmd)
}

func runRalphStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := newController(cfg).Status(args[0])
	if err != nil {
		return err
	}
	if st == nil {
		return swarmerr.New(swarmerr.KindNotFound, fmt.Sprintf("no ralph state for %q", args[0]))
	}
	if ralphStatusJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(st)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "name:                %s\n", st.Name)
	fmt.Fprintf(cmd.OutOrStdout(), "status:              %s\n", style.ForStatus(string(st.Status)).Render(string(st.Status)))
	fmt.Fprintf(cmd.OutOrStdout(), "iteration:           %d / %d\n", st.Iteration, st.MaxIterations)
	fmt.Fprintf(cmd.OutOrStdout(), "consecutive_failures: %d\n", st.ConsecutiveFailures)
	fmt.Fprintf(cmd.OutOrStdout(), "total_failures:      %d\n", st.TotalFailures)
	if st.ExitReason != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "exit_reason:         %s\n", st.ExitReason)
	}
	return nil
}

var ralphListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all ralph workers' states",
	RunE:    runRalphList,
}

func init() {
	ralphCmd.AddCommand(ralphListCmd)
}

func runRalphList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	states, err := newController(cfg).List()
	if err != nil {
		return err
	}
	t := style.NewTable(
		style.Column{Name: "NAME", Width: 20},
		style.Column{Name: "STATUS", Width: 10},
		style.Column{Name: "ITERATION", Width: 12},
		style.Column{Name: "FAILURES", Width: 10},
	)
	for _, st := range states {
		t.AddRow(st.Name, string(st.Status), fmt.Sprintf("%d/%d", st.Iteration, st.MaxIterations), fmt.Sprintf("%d", st.ConsecutiveFailures))
	}
	fmt.Fprint(cmd.OutOrStdout(), t.Render())
	return nil
}

// --- ralph pause / resume / stop ---

var ralphPauseCmd = &cobra.Command{
	Use:   "pause NAME",
	Short: "Pause a running ralph loop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return newController(cfg).Pause(args[0])
	},
}

var ralphResumeCmd = &cobra.Command{
	Use:   "resume NAME",
	Short: "Resume a paused ralph loop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return newController(cfg).Resume(args[0])
	},
}

var ralphStopCmd = &cobra.Command{
	Use:   "stop NAME",
	Short: "Stop a ralph loop and signal its monitor process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return newController(cfg).Stop(args[0])
	},
}

func init() {
	ralphCmd.AddCommand(ralphPauseCmd)
	ralphCmd.AddCommand(ralphResumeCmd)
	ralphCmd.AddCommand(ralphStopCmd)
}

// --- ralph logs / clean ---

var ralphLogsLive bool

var ralphLogsCmd = &cobra.Command{
	Use:   "logs NAME",
	Short: "Print a ralph worker's iteration log",
	Args:  cobra.ExactArgs(1),
	RunE:  runRalphLogs,
}

func init() {
	ralphLogsCmd.Flags().BoolVar(&ralphLogsLive, "live", false, "open a scrollable live viewer instead of printing once")
}

func runRalphLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctrl := newController(cfg)
	name := args[0]

	if ralphLogsLive {
		return tui.Run(fmt.Sprintf("ralph logs %s (q to quit)", name), time.Second, func() (string, error) {
			lines, err := ctrl.Logs(name)
			if err != nil {
				return "", err
			}
			return joinLines(lines), nil
		})
	}

	lines, err := ctrl.Logs(name)
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Fprintln(cmd.OutOrStdout(), l)
	}
	return nil
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

var ralphCleanStateToo bool

var ralphCleanCmd = &cobra.Command{
	Use:   "clean NAME",
	Short: "Remove a ralph worker's underlying registry entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return newController(cfg).Clean(args[0], ralphCleanStateToo)
	},
}

func init() {
	ralphCleanCmd.Flags().BoolVar(&ralphCleanStateToo, "clean-state", false, "also remove the saved RalphState and iteration log")
	ralphCmd.AddCommand(ralphLogsCmd)
	ralphCmd.AddCommand(ralphCleanCmd)
}
