package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drydock-sh/drydock/internal/client"
	"github.com/drydock-sh/drydock/internal/style"
)

var (
	resizeCols int
	resizeRows int
)

var resizeCmd = &cobra.Command{
	Use:   "resize <session>",
	Short: "Change a session's terminal size",
	Args:  cobra.ExactArgs(1),
	RunE:  runResize,
}

func init() {
	resizeCmd.Flags().IntVar(&resizeCols, "cols", 0, "terminal width")
	resizeCmd.Flags().IntVar(&resizeRows, "rows", 0, "terminal height")
	_ = resizeCmd.MarkFlagRequired("cols")
	_ = resizeCmd.MarkFlagRequired("rows")
	rootCmd.AddCommand(resizeCmd)
}

func runResize(cmd *cobra.Command, args []string) error {
	if resizeCols <= 0 || resizeRows <= 0 {
		return fmt.Errorf("cols and rows must be positive")
	}

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
	daemonID, err := daemonSessionID(sess)
	if err != nil {
		return err
	}

	c, err := client.Shared(cfg.SocketPath)
	if err != nil {
		return err
	}
	if err := c.Resize(daemonID, resizeCols, resizeRows); err != nil {
		return err
	}
	fmt.Printf("%s Resized %s to %dx%d\n", style.SuccessPrefix, shortID(id), resizeCols, resizeRows)
	return nil
}
