package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/drydock-sh/drydock/internal/session"
	"github.com/drydock-sh/drydock/internal/style"
)

var (
	createWorktree string
	createBranch   string
	createAgent    string
	createCols     int
	createRows     int
)

var createCmd = &cobra.Command{
	Use:   "create [flags] -- command [args...]",
	Short: "Create a session and start its agent",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCreate,
}

func init() {
	createCmd.Flags().StringVarP(&createWorktree, "worktree", "w", "", "worktree path (default: current directory)")
	createCmd.Flags().StringVarP(&createBranch, "branch", "b", "", "branch name")
	createCmd.Flags().StringVar(&createAgent, "agent", "", "agent name recorded on the session")
	createCmd.Flags().IntVar(&createCols, "cols", 120, "initial terminal width")
	createCmd.Flags().IntVar(&createRows, "rows", 40, "initial terminal height")
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mgr, err := managerFor(cfg, true)
	if err != nil {
		return err
	}

	wt := createWorktree
	if wt == "" {
		if wt, err = os.Getwd(); err != nil {
			return fmt.Errorf("resolving current directory: %w", err)
		}
	}

	sess, err := mgr.Create(session.CreateOptions{
		Worktree: wt,
		Branch:   createBranch,
		Agent:    createAgent,
		Command:  args[0],
		Args:     args[1:],
		Cols:     createCols,
		Rows:     createRows,
	})
	if err != nil {
		var early *session.EarlyExitError
		if errors.As(err, &early) {
			fmt.Printf("%s Agent exited immediately (code %d)\n", style.ErrorPrefix, early.ExitCode)
			for _, line := range early.Tail {
				fmt.Printf("  %s\n", style.Dim.Render(line))
			}
			return fmt.Errorf("session not created")
		}
		return err
	}

	fmt.Printf("%s Session %s created in %s\n", style.SuccessPrefix, style.Bold.Render(shortID(sess.ID)), sess.Worktree)
	fmt.Printf("  %s\n", style.Dim.Render("dock attach "+shortID(sess.ID)))
	return nil
}
