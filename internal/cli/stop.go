package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drydock-sh/drydock/internal/session"
	"github.com/drydock-sh/drydock/internal/style"
)

var (
	stopAll   bool
	stopForce bool
)

var stopCmd = &cobra.Command{
	Use:   "stop [session]",
	Short: "Stop a session's processes",
	Long: `Stop terminates every process tracked by a session and clears its
process list. With --all every session is stopped except the one the
caller is running inside, which is skipped and reported.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStop,
}

func init() {
	stopCmd.Flags().BoolVar(&stopAll, "all", false, "stop every session except this one")
	stopCmd.Flags().BoolVar(&stopForce, "force", false, "clear records even when termination fails")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	if stopAll == (len(args) == 1) {
		return fmt.Errorf("specify a session id or --all")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mgr, err := managerFor(cfg, false)
	if err != nil {
		return err
	}

	if stopAll {
		return runStopAll(mgr)
	}

	id, err := resolveSessionID(mgr, args[0])
	if err != nil {
		return err
	}

	// Stopping your own session is allowed, but deliberate.
	sessions, _ := session.LoadAll(mgr.Store())
	if selfID, how := mgr.Self(sessions); selfID == id {
		fmt.Printf("%s Stopping the session you are running in (identified by %s)\n",
			style.WarningPrefix, how)
	}

	if err := mgr.Stop(id, session.StopOptions{Force: stopForce}); err != nil {
		return err
	}
	fmt.Printf("%s Session %s stopped\n", style.SuccessPrefix, shortID(id))
	return nil
}

func runStopAll(mgr *session.Manager) error {
	report := mgr.StopAll(session.StopOptions{Force: stopForce})

	for _, id := range report.Stopped {
		fmt.Printf("  %s %s stopped\n", style.SuccessPrefix, shortID(id))
	}
	if report.ExcludedSelf != "" {
		fmt.Printf("  %s %s skipped (your own session)\n", style.Dim.Render("○"), shortID(report.ExcludedSelf))
	}
	for id, err := range report.Failures {
		fmt.Printf("  %s %s: %v\n", style.ErrorPrefix, shortID(id), err)
	}
	for _, err := range report.LoadErrors {
		fmt.Printf("  %s %v\n", style.ErrorPrefix, err)
	}

	if !report.OK() {
		return fmt.Errorf("some sessions failed to stop")
	}
	fmt.Printf("%s All sessions stopped\n", style.Bold.Render("✓"))
	return nil
}
