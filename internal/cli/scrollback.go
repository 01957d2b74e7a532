package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drydock-sh/drydock/internal/client"
)

var scrollbackLines int

var scrollbackCmd = &cobra.Command{
	Use:   "scrollback <session>",
	Short: "Print a session's buffered output",
	Args:  cobra.ExactArgs(1),
	RunE:  runScrollback,
}

func init() {
	scrollbackCmd.Flags().IntVarP(&scrollbackLines, "lines", "n", 0, "only the last N lines")
	rootCmd.AddCommand(scrollbackCmd)
}

func runScrollback(cmd *cobra.Command, args []string) error {
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
	data, err := c.Scrollback(daemonID)
	if err != nil {
		return err
	}

	if scrollbackLines > 0 {
		lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		if len(lines) > scrollbackLines {
			lines = lines[len(lines)-scrollbackLines:]
		}
		fmt.Println(strings.Join(lines, "\n"))
		return nil
	}
	_, err = os.Stdout.Write(data)
	return err
}
