package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/drydock-sh/drydock/internal/client"
	"github.com/drydock-sh/drydock/internal/style"
)

// detachKey ends an attach without stopping the session (Ctrl-]).
const detachKey = 0x1d

var attachCmd = &cobra.Command{
	Use:   "attach <session>",
	Short: "Attach this terminal to a session",
	Long: `Attach connects the current terminal to a session's PTY: scrollback is
replayed, output streams live, and keystrokes go to the agent. Detach
with Ctrl-] without stopping the session.`,
	Args: cobra.ExactArgs(1),
	RunE: runAttach,
}

func init() {
	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mgr, err := managerFor(cfg, true)
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

	// Streaming owns a connection; don't take over the shared one.
	conn, err := client.Dial(cfg.SocketPath)
	if err != nil {
		return err
	}
	stream, err := conn.Attach(daemonID)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer func() { _ = stream.Close() }()

	fmt.Printf("%s\n", style.Dim.Render("attached to "+shortID(id)+" (detach: Ctrl-])"))

	stdinFD := int(os.Stdin.Fd())
	var restore func()
	if term.IsTerminal(stdinFD) {
		oldState, err := term.MakeRaw(stdinFD)
		if err != nil {
			return fmt.Errorf("entering raw mode: %w", err)
		}
		restore = func() { _ = term.Restore(stdinFD, oldState) }
		defer restore()

		// Size the PTY to this terminal now and on every SIGWINCH.
		if cols, rows, err := term.GetSize(stdinFD); err == nil {
			_ = stream.Resize(cols, rows)
		}
		winch := make(chan os.Signal, 1)
		signal.Notify(winch, syscall.SIGWINCH)
		defer signal.Stop(winch)
		go func() {
			for range winch {
				if cols, rows, err := term.GetSize(stdinFD); err == nil {
					_ = stream.Resize(cols, rows)
				}
			}
		}()
	}

	_, _ = os.Stdout.Write(stream.Snapshot)

	// Keystrokes: forward everything except the detach key.
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				for i := 0; i < n; i++ {
					if buf[i] == detachKey {
						_ = stream.Detach()
						return
					}
				}
				if serr := stream.SendInput(buf[:n]); serr != nil {
					return
				}
			}
			if err != nil {
				_ = stream.Detach()
				return
			}
		}
	}()

	for {
		msg, err := stream.Next()
		if err != nil {
			return fmt.Errorf("stream ended: %w", err)
		}
		switch {
		case msg.Output != nil:
			_, _ = os.Stdout.Write(msg.Output)
		case msg.Dropped:
			fmt.Fprintf(os.Stderr, "\r\n%s\r\n", style.WarningPrefix+" output dropped (client too slow)")
		case msg.Exited:
			if restore != nil {
				restore()
				restore = nil
			}
			code := "unknown"
			if msg.ExitCode != nil {
				code = fmt.Sprintf("%d", *msg.ExitCode)
			}
			fmt.Printf("\n%s session process exited (code %s)\n", style.Dim.Render("--"), code)
			return nil
		case msg.Detached:
			if restore != nil {
				restore()
				restore = nil
			}
			fmt.Printf("\n%s detached\n", style.Dim.Render("--"))
			return nil
		}
	}
}
