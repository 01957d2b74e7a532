package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drydock-sh/drydock/internal/session"
	"github.com/drydock-sh/drydock/internal/style"
)

var destroyForce bool

var destroyCmd = &cobra.Command{
	Use:   "destroy <session>",
	Short: "Stop a session and delete its record",
	Args:  cobra.ExactArgs(1),
	RunE:  runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyForce, "force", false, "delete the record even when termination fails")
	rootCmd.AddCommand(destroyCmd)
}

func runDestroy(cmd *cobra.Command, args []string) error {
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

	if err := mgr.Destroy(id, session.StopOptions{Force: destroyForce}); err != nil {
		return err
	}
	fmt.Printf("%s Session %s destroyed\n", style.SuccessPrefix, shortID(id))
	return nil
}
