package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"prism-board/board"
	"prism-board/client"
)

var watchClear bool

var watchCmd = &cobra.Command{
	Use:   "watch <boardId>",
	Short: "Render a board and follow live changes",
	Long: `Render a board and redraw it whenever anyone changes it.

Failures of your own commands and the deletion of the board are reported
as they happen. Stop with Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchClear, "clear", true, "Clear the screen before each redraw")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	w := cmd.OutOrStdout()

	conn, err := client.New(serverURL, logger())
	if err != nil {
		return err
	}
	if err := conn.Connect(ctx, token); err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return Error("not authorized", "The server refused the token.", nil)
		}
		return Error("connection failed", err.Error(), nil)
	}
	defer conn.Disconnect()

	ctrl := board.NewController(conn, api(), args[0], logger())
	deleted := make(chan struct{})
	var once sync.Once
	ctrl.OnBoardDeleted = func(string) { once.Do(func() { close(deleted) }) }
	ctrl.OnFailure = func(event, message string) { Warning(w, "%s: %s", event, message) }

	redraws := make(chan board.Snapshot, 1)
	openCtx, cancel := withTimeout(ctx)
	defer cancel()
	if err := ctrl.Open(openCtx); err != nil {
		return apiError("opening the board failed", err)
	}
	defer ctrl.Close()
	ctrl.View(func(s board.Snapshot) {
		// Keep only the newest snapshot when rendering falls behind.
		select {
		case <-redraws:
		default:
		}
		redraws <- s
	})

	for {
		select {
		case s := <-redraws:
			if watchClear {
				_, _ = w.Write([]byte("\033[H\033[2J"))
			}
			Render(w, s)
		case <-deleted:
			Warning(w, "board %s was deleted", args[0])
			return nil
		case <-ctx.Done():
			_, _ = ctrl.NavigationStart("/")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		}
	}
}
