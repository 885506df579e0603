package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentswarm/swarm/internal/store"
	"github.com/agentswarm/swarm/internal/style"
)

var lsJSON bool
var lsTag string

var lsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List known workers",
	RunE:    runLs,
}

func init() {
	lsCmd.Flags().BoolVar(&lsJSON, "json", false, "emit machine-readable JSON")
	lsCmd.Flags().StringVar(&lsTag, "tag", "", "only show workers carrying this tag")
	rootCmd.AddCommand(lsCmd)
}

func runLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mgr := newManager(cfg)

	workers, err := mgr.List()
	if err != nil {
		return err
	}
	if lsTag != "" {
		filtered := workers[:0]
		for _, w := range workers {
			if w.HasTag(lsTag) {
				filtered = append(filtered, w)
			}
		}
		workers = filtered
	}

	if lsJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(workers)
	}

	t := style.NewTable(
		style.Column{Name: "NAME", Width: 20},
		style.Column{Name: "STATUS", Width: 10},
		style.Column{Name: "TAGS", Width: 20},
		style.Column{Name: "CMD", Width: 30},
	)
	for _, w := range workers {
		t.AddRow(w.Name, string(w.Status), joinTags(w), joinCmd(w))
	}
	fmt.Fprint(cmd.OutOrStdout(), t.Render())
	return nil
}

func joinTags(w *store.WorkerRecord) string {
	out := ""
	for i, tag := range w.Tags {
		if i > 0 {
			out += ","
		}
		out += tag
	}
	return out
}

func joinCmd(w *store.WorkerRecord) string {
	out := ""
	for i, part := range w.Cmd {
		if i > 0 {
			out += " "
		}
		out += part
	}
	return out
}

var statusCmd = &cobra.Command{
	Use:   "status NAME",
	Short: "Show one worker's current record",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit machine-readable JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mgr := newManager(cfg)

	w, err := mgr.Get(args[0])
	if err != nil {
		return err
	}
	if statusJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(w)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "name:    %s\n", w.Name)
	fmt.Fprintf(cmd.OutOrStdout(), "status:  %s\n", style.ForStatus(string(w.Status)).Render(string(w.Status)))
	fmt.Fprintf(cmd.OutOrStdout(), "cmd:     %s\n", joinCmd(w))
	fmt.Fprintf(cmd.OutOrStdout(), "cwd:     %s\n", w.Cwd)
	if w.Tmux != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "tmux:    %s:%s\n", w.Tmux.Session, w.Tmux.Window)
	}
	if w.Worktree != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "worktree: %s (%s)\n", w.Worktree.Path, w.Worktree.Branch)
	}
	if w.PID != 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "pid:     %d\n", w.PID)
	}
	return nil
}
