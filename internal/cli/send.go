package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drydock-sh/drydock/internal/client"
	"github.com/drydock-sh/drydock/internal/style"
)

var sendNoNewline bool

var sendCmd = &cobra.Command{
	Use:   "send <session> <text>...",
	Short: "Write text to a session's terminal",
	Long: `Send types text into a session's PTY as if entered at the keyboard.
A trailing newline is appended unless --no-newline is given.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().BoolVarP(&sendNoNewline, "no-newline", "n", false, "do not append a newline")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
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

	text := strings.Join(args[1:], " ")
	if !sendNoNewline {
		text += "\n"
	}

	c, err := client.Shared(cfg.SocketPath)
	if err != nil {
		return err
	}
	if err := c.SendInput(daemonID, []byte(text)); err != nil {
		return err
	}
	fmt.Printf("%s Sent to %s\n", style.SuccessPrefix, shortID(id))
	return nil
}
