package cli

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentswarm/swarm/internal/swarmerr"
)

func envList() []string { return os.Environ() }

var attachCmd = &cobra.Command{
	Use:   "attach NAME",
	Short: "Attach to a tmux-backed worker's window",
	Args:  cobra.ExactArgs(1),
	RunE:  runAttach,
}

func init() {
	rootCmd.AddCommand(attachCmd)
}

// runAttach replaces the current process with tmux via syscall.Exec so the
// terminal is handed over directly, the same way the attach helper in this
// codebase's tmux-facing commands always have.
func runAttach(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mgr := newManager(cfg)

	tmuxArgs, err := mgr.AttachArgs(args[0])
	if err != nil {
		return err
	}

	bin, err := exec.LookPath("tmux")
	if err != nil {
		return swarmerr.Wrap(swarmerr.KindMultiplexerError, "locating tmux binary", err)
	}
	argv := append([]string{"tmux"}, tmuxArgs...)
	return syscall.Exec(bin, argv, envList())
}
