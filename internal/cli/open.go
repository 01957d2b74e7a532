package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drydock-sh/drydock/internal/session"
	"github.com/drydock-sh/drydock/internal/style"
)

var (
	openAgent    string
	openTerminal string
	openCols     int
	openRows     int
)

var openCmd = &cobra.Command{
	Use:   "open <session> -- command [args...]",
	Short: "Start an agent process in an existing session",
	Long: `Open starts an agent in an existing session. A stopped session is
restarted under the daemon; --terminal opens an additional agent in a
terminal window alongside whatever is already running.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runOpen,
}

func init() {
	openCmd.Flags().StringVar(&openAgent, "agent", "", "agent name for the new process")
	openCmd.Flags().StringVar(&openTerminal, "terminal", "", "open in a terminal backend instead of the daemon")
	openCmd.Flags().IntVar(&openCols, "cols", 120, "initial terminal width")
	openCmd.Flags().IntVar(&openRows, "rows", 40, "initial terminal height")
	rootCmd.AddCommand(openCmd)
}

func runOpen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mgr, err := managerFor(cfg, openTerminal == "")
	if err != nil {
		return err
	}
	id, err := resolveSessionID(mgr, args[0])
	if err != nil {
		return err
	}

	opts := session.CreateOptions{
		Agent:   openAgent,
		Command: args[1],
		Args:    args[2:],
		Cols:    openCols,
		Rows:    openRows,
	}
	if openTerminal != "" {
		opts.Mode = session.ModeTerminal
		opts.Backend = openTerminal
	}

	sess, err := mgr.Open(id, opts)
	if err != nil {
		return err
	}

	fmt.Printf("%s Session %s now has %d process(es)\n",
		style.SuccessPrefix, style.Bold.Render(shortID(sess.ID)), len(sess.Processes))
	return nil
}
