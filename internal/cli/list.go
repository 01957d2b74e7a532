package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drydock-sh/drydock/internal/session"
	"github.com/drydock-sh/drydock/internal/style"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sessions",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mgr, err := managerFor(cfg, false)
	if err != nil {
		return err
	}

	sessions, errs := mgr.List()
	if len(sessions) == 0 && len(errs) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	tbl := style.NewTable(
		style.Column{Name: "ID", Width: 8},
		style.Column{Name: "STATUS", Width: 8},
		style.Column{Name: "AGENT", Width: 10},
		style.Column{Name: "PROCS", Width: 5, Align: style.AlignRight},
		style.Column{Name: "ACTIVITY", Width: 10},
		style.Column{Name: "WORKTREE", Width: 40},
	)
	for _, s := range sessions {
		tbl.AddRow(
			shortID(s.ID),
			renderStatus(s.Status),
			s.Agent,
			fmt.Sprintf("%d", len(s.Processes)),
			relativeTime(s.LastActivity),
			s.Worktree,
		)
	}
	fmt.Print(tbl.Render())

	for _, err := range errs {
		fmt.Printf("  %s %v\n", style.WarningPrefix, err)
	}
	return nil
}

func renderStatus(s session.Status) string {
	switch s {
	case session.StatusRunning:
		return style.Success.Render(string(s))
	case session.StatusStopped:
		return style.Dim.Render(string(s))
	case session.StatusCreating:
		return style.Warning.Render(string(s))
	default:
		return style.Warning.Render(string(s))
	}
}
