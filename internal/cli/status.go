package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drydock-sh/drydock/internal/style"
)

var statusCmd = &cobra.Command{
	Use:   "status <session>",
	Short: "Show one session's reconciled status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mgr, err := managerFor(cfg, false)
	if err != nil {
		return err
	}
	id, err := resolveSessionID(mgr, args[0])
	if err != nil {
		return err
	}

	sess, err := mgr.Get(id)
	if err != nil {
		return err
	}
	sess, err = mgr.Reconcile(sess)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s\n", style.Header.Render("Session"), sess.ID)
	fmt.Printf("  Status:    %s\n", renderStatus(sess.Status))
	fmt.Printf("  Worktree:  %s\n", sess.Worktree)
	if sess.Branch != "" {
		fmt.Printf("  Branch:    %s\n", sess.Branch)
	}
	if sess.Agent != "" {
		fmt.Printf("  Agent:     %s\n", sess.Agent)
	}
	fmt.Printf("  Created:   %s\n", relativeTime(sess.CreatedAt))
	fmt.Printf("  Activity:  %s\n", relativeTime(sess.LastActivity))

	if len(sess.Processes) == 0 {
		fmt.Printf("  Processes: %s\n", style.Dim.Render("none"))
		return nil
	}
	fmt.Println("  Processes:")
	for _, p := range sess.Processes {
		where := ""
		switch {
		case p.DaemonID != "":
			where = "daemon " + shortID(p.DaemonID)
		case p.Terminal != nil:
			where = fmt.Sprintf("%s window %s", p.Terminal.Backend, p.Terminal.WindowID)
		case p.PID > 0:
			where = fmt.Sprintf("pid %d", p.PID)
		}
		name := p.Agent
		if name == "" {
			name = p.Command
		}
		fmt.Printf("    %s %s (%s, opened %s)\n", style.Dim.Render("•"), name, where, relativeTime(p.OpenedAt))
	}
	return nil
}
