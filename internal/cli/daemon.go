package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/drydock-sh/drydock/internal/client"
	"github.com/drydock-sh/drydock/internal/daemon"
	"github.com/drydock-sh/drydock/internal/style"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the background daemon",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon state",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

var (
	daemonLogsLines  int
	daemonLogsFollow bool
)

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the daemon log",
	Args:  cobra.NoArgs,
	RunE:  runDaemonLogs,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Stop the daemon and start a fresh one",
	Args:  cobra.NoArgs,
	RunE:  runDaemonRestart,
}

// daemonRunCmd is the foreground entry the detached spawn execs. Hidden:
// users start the daemon with `dock daemon start`.
var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the daemon in the foreground",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return daemon.RunForeground(cfg)
	},
}

func init() {
	daemonLogsCmd.Flags().IntVarP(&daemonLogsLines, "lines", "n", 50, "number of trailing lines")
	daemonLogsCmd.Flags().BoolVarP(&daemonLogsFollow, "follow", "f", false, "keep printing as the log grows")

	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd, daemonLogsCmd, daemonRestartCmd, daemonRunCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if c, err := client.Dial(cfg.SocketPath); err == nil {
		_ = c.Close()
		_, pid := daemon.IsRunning(cfg.PidFile())
		fmt.Printf("%s Daemon already running (pid %d)\n", style.SuccessPrefix, pid)
		return nil
	}

	c, err := client.StartDaemon(cfg)
	if err != nil {
		// Two starts can race through the singleton lock: the loser's
		// child exits immediately while the winner is fine.
		var crash *client.CrashError
		if errors.As(err, &crash) {
			if running, pid := daemon.IsRunning(cfg.PidFile()); running {
				fmt.Printf("%s Daemon already running (pid %d)\n", style.SuccessPrefix, pid)
				return nil
			}
		}
		return err
	}
	defer func() { _ = c.Close() }()

	_, pid := daemon.IsRunning(cfg.PidFile())
	fmt.Printf("%s Daemon started (pid %d, socket %s)\n", style.SuccessPrefix, pid, cfg.SocketPath)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if running, _ := daemon.IsRunning(cfg.PidFile()); !running {
		fmt.Println("Daemon is not running.")
		return nil
	}
	if err := daemon.StopRunning(cfg, 10*time.Second); err != nil {
		return err
	}
	client.InvalidateShared()
	fmt.Printf("%s Daemon stopped\n", style.SuccessPrefix)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	running, pid := daemon.IsRunning(cfg.PidFile())
	if !running {
		fmt.Printf("%s Daemon is not running\n", style.Dim.Render("○"))
		return nil
	}

	fmt.Printf("%s Daemon running (pid %d)\n", style.SuccessPrefix, pid)
	fmt.Printf("  Socket: %s\n", cfg.SocketPath)
	fmt.Printf("  Log:    %s\n", cfg.LogFile())

	c, err := client.Dial(cfg.SocketPath)
	if err != nil {
		fmt.Printf("  %s socket not answering: %v\n", style.WarningPrefix, err)
		return nil
	}
	defer func() { _ = c.Close() }()
	if err := c.Ping(2 * time.Second); err != nil {
		fmt.Printf("  %s ping failed: %v\n", style.WarningPrefix, err)
		return nil
	}

	sessions, err := c.List()
	if err == nil {
		fmt.Printf("  Sessions: %d\n", len(sessions))
	}
	return nil
}

func runDaemonLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := cfg.LogFile()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No log file yet.")
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	offset, err := printLogTail(f, daemonLogsLines)
	if err != nil {
		return err
	}
	if !daemonLogsFollow {
		return nil
	}

	// Follow by polling for growth. Truncation (log rotation) resets to the
	// new end of file.
	for {
		time.Sleep(500 * time.Millisecond)
		fi, err := os.Stat(path)
		if err != nil {
			return err
		}
		size := fi.Size()
		if size < offset {
			offset = size
			continue
		}
		if size == offset {
			continue
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return err
		}
		n, err := io.Copy(os.Stdout, f)
		if err != nil {
			return err
		}
		offset += n
	}
}

// printLogTail writes the last n lines of f to stdout and returns the file
// size, so a follower can pick up from there.
func printLogTail(f *os.File, n int) (int64, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return 0, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	if len(lines) > 0 && lines[0] != "" {
		fmt.Println(strings.Join(lines, "\n"))
	}
	return int64(len(data)), nil
}

func runDaemonRestart(cmd *cobra.Command, args []string) error {
	if err := runDaemonStop(cmd, args); err != nil {
		return err
	}
	return runDaemonStart(cmd, args)
}
