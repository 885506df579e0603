package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentswarm/swarm/internal/swarmerr"
	"github.com/agentswarm/swarm/internal/tui"
)

func openLog(path string) (*os.File, error) {
	return os.Open(path)
}

var (
	sendNoEnter  bool
	sendPreClear bool
)

var sendCmd = &cobra.Command{
	Use:   "send NAME TEXT",
	Short: "Send text to a worker's pane",
	Args:  cobra.ExactArgs(2),
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().BoolVar(&sendNoEnter, "no-enter", false, "don't append Enter after the text")
	sendCmd.Flags().BoolVar(&sendPreClear, "pre-clear", true, "clear the input line before sending")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mgr := newManager(cfg)
	return mgr.Send(args[0], args[1], !sendNoEnter, sendPreClear)
}

var interruptCmd = &cobra.Command{
	Use:   "interrupt NAME",
	Short: "Send Ctrl-C to a worker's pane",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return newManager(cfg).Interrupt(args[0])
	},
}

var eofCmd = &cobra.Command{
	Use:   "eof NAME",
	Short: "Send Ctrl-D (EOF) to a worker's pane",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return newManager(cfg).EOF(args[0])
	},
}

var (
	peekHistoryLines int
	peekLive         bool
)

var peekCmd = &cobra.Command{
	Use:   "peek NAME",
	Short: "Print a worker's current pane content",
	Args:  cobra.ExactArgs(1),
	RunE:  runPeek,
}

func init() {
	peekCmd.Flags().IntVar(&peekHistoryLines, "history", 0, "extra scrollback lines to include")
	peekCmd.Flags().BoolVar(&peekLive, "live", false, "open a scrollable live viewer instead of printing once")
	rootCmd.AddCommand(peekCmd)
}

func runPeek(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mgr := newManager(cfg)
	name := args[0]

	if peekLive {
		return tui.Run(fmt.Sprintf("peek %s (q to quit)", name), 500*time.Millisecond, func() (string, error) {
			return mgr.Peek(name, peekHistoryLines)
		})
	}

	content, err := mgr.Peek(name, peekHistoryLines)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), content)
	return nil
}

var logsStderr bool

var logsCmd = &cobra.Command{
	Use:   "logs NAME",
	Short: "Print a worker's captured stdout/stderr",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().BoolVar(&logsStderr, "stderr", false, "show stderr instead of stdout")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stdout, stderr := newManager(cfg).LogPaths(args[0])
	path := stdout
	if logsStderr {
		path = stderr
	}
	f, err := openLog(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(cmd.OutOrStdout(), f)
	return err
}

var killCmd = &cobra.Command{
	Use:   "kill NAME",
	Short: "Terminate a worker, escalating SIGTERM to SIGKILL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return newManager(cfg).Kill(args[0])
	},
}

var waitTimeout time.Duration

var waitCmd = &cobra.Command{
	Use:   "wait NAME",
	Short: "Block until a worker exits",
	Args:  cobra.ExactArgs(1),
	RunE:  runWait,
}

func init() {
	waitCmd.Flags().DurationVar(&waitTimeout, "timeout", 0, "give up after this long (0 = no limit)")
	rootCmd.AddCommand(waitCmd)
}

func runWait(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	exited, err := newManager(cfg).Wait(args[0], waitTimeout)
	if err != nil {
		return err
	}
	if !exited {
		return fmt.Errorf("timed out waiting for %q to exit", args[0])
	}
	return nil
}

var cleanCmd = &cobra.Command{
	Use:   "clean NAME...",
	Short: "Remove stopped workers and their worktrees/logs",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mgr := newManager(cfg)
	cleaned, skipped, err := mgr.CleanBatch(args)
	if err != nil {
		return err
	}
	for _, n := range cleaned {
		fmt.Fprintf(cmd.OutOrStdout(), "cleaned %s\n", n)
	}
	for _, n := range skipped {
		swarmerr.PrintWarning("skipping '%s' (still running)", n)
	}
	return nil
}

var respawnClean bool

var respawnCmd = &cobra.Command{
	Use:   "respawn NAME",
	Short: "Spawn a worker again with its saved cmd/cwd/env/tags",
	Args:  cobra.ExactArgs(1),
	RunE:  runRespawn,
}

func init() {
	respawnCmd.Flags().BoolVar(&respawnClean, "clean-first", false, "remove the stopped record before respawning")
	rootCmd.AddCommand(respawnCmd)
}

func runRespawn(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rec, err := newManager(cfg).Respawn(args[0], respawnClean)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "respawned %s (status=%s)\n", rec.Name, rec.Status)
	return nil
}

func init() {
	rootCmd.AddCommand(interruptCmd)
	rootCmd.AddCommand(eofCmd)
	rootCmd.AddCommand(killCmd)
}
