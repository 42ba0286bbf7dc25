// Package commands implements the boardctl command line client.
package commands

import (
	"context"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"prism-board/client"
)

var (
	serverURL string
	token     string
	timeout   time.Duration
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "boardctl",
	Short: "Command line client for collaborative boards",
	Long: `boardctl talks to a board server over its HTTP API and realtime channel.

Authenticate with "boardctl login" and export the printed token as
BOARD_TOKEN, or pass it with --token.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("BOARD_SERVER", "http://localhost:4001"), "Board server base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("BOARD_TOKEN"), "Bearer token (defaults to $BOARD_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "How long to wait for the server")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log realtime traffic")
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func logger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	if verbose {
		l.SetOutput(os.Stderr)
		l.SetLevel(log.DebugLevel)
	}
	return l
}

func api() *client.API {
	return client.NewAPI(serverURL, token)
}

func requireToken() error {
	if token == "" {
		return Error("not logged in", "No token was provided.", []string{"Log in and export the token:\n  export BOARD_TOKEN=$(boardctl login --email you@example.com --password ... --quiet)"})
	}
	return nil
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}
