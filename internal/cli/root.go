// Package cli implements the dock command tree.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/drydock-sh/drydock/internal/client"
	"github.com/drydock-sh/drydock/internal/config"
	"github.com/drydock-sh/drydock/internal/protocol"
	"github.com/drydock-sh/drydock/internal/session"
	"github.com/drydock-sh/drydock/internal/store"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "dock",
	Short: "Manage agent sessions",
	Long: `Dock runs interactive agent processes in named sessions backed by a
local daemon, so any number of tools can create, watch, and tear them
down without owning the process themselves.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose error output")
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if verbose {
			fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureHome(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// managerFor builds a session manager. needDaemon controls what happens
// when no daemon is running: start one (autostart path) or carry on with a
// nil daemon client, which treats daemon processes as dead.
func managerFor(cfg *config.Config, needDaemon bool) (*session.Manager, error) {
	st, err := store.New(cfg.SessionsDir())
	if err != nil {
		return nil, err
	}

	var daemonClient session.DaemonClient
	if needDaemon {
		c, err := client.EnsureDaemon(cfg)
		if err != nil {
			return nil, err
		}
		daemonClient = c
	} else {
		c, err := client.Shared(cfg.SocketPath)
		if err == nil {
			daemonClient = c
		} else if !errors.Is(err, protocol.ErrDaemonNotRunning) {
			return nil, err
		}
	}

	return session.NewManager(st, daemonClient, cfg.StopGrace()), nil
}

// resolveSessionID expands a possibly-shortened session id to the unique
// record it names.
func resolveSessionID(mgr *session.Manager, prefix string) (string, error) {
	if mgr.Store().Exists(prefix) {
		return prefix, nil
	}
	ids, err := mgr.Store().List()
	if err != nil {
		return "", err
	}
	var matches []string
	for _, id := range ids {
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no session matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q is ambiguous: matches %d sessions", prefix, len(matches))
	}
}

// daemonSessionID finds the daemon-backed process of a session record.
func daemonSessionID(sess *session.Session) (string, error) {
	for _, p := range sess.Processes {
		if p.DaemonID != "" {
			return p.DaemonID, nil
		}
	}
	return "", fmt.Errorf("session %s has no daemon process (is it stopped?)", shortID(sess.ID))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func relativeTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
