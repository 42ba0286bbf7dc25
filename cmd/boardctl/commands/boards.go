package commands

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"prism-board/domain"
)

var boardsCmd = &cobra.Command{
	Use:   "boards",
	Short: "List, create, rename and delete boards",
	RunE: func(cmd *cobra.Command, args []string) error {
		return boardsListCmd.RunE(cmd, args)
	},
}

var boardsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your boards",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireToken(); err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()
		boards, err := api().Boards(ctx)
		if err != nil {
			return apiError("listing boards failed", err)
		}
		w := cmd.OutOrStdout()
		if len(boards) == 0 {
			faint.Fprintln(w, "no boards yet")
			return nil
		}
		for _, b := range boards {
			fmt.Fprintf(w, "%s  %s\n", b.ID, b.Title)
		}
		return nil
	},
}

var boardsCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a board",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireToken(); err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()
		b, err := api().CreateBoard(ctx, strings.Join(args, " "))
		if err != nil {
			return apiError("creating the board failed", err)
		}
		Success(cmd.OutOrStdout(), "created board %q %s", b.Title, b.ID)
		return nil
	},
}

var boardsRenameCmd = &cobra.Command{
	Use:   "rename <boardId> <title>",
	Short: "Rename a board",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := send(cmd.Context(), domain.EventBoardsUpdate, map[string]any{
			"boardId": args[0],
			"fields":  map[string]string{"title": strings.Join(args[1:], " ")},
		})
		if err != nil {
			return err
		}
		var b domain.Board
		if err := sonic.Unmarshal(data, &b); err != nil {
			return err
		}
		Success(cmd.OutOrStdout(), "renamed board %s to %q", b.ID, b.Title)
		return nil
	},
}

var boardsDeleteCmd = &cobra.Command{
	Use:   "delete <boardId>",
	Short: "Delete a board",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := send(cmd.Context(), domain.EventBoardsDelete, map[string]any{"boardId": args[0]}); err != nil {
			return err
		}
		Success(cmd.OutOrStdout(), "deleted board %s", args[0])
		return nil
	},
}

func init() {
	boardsCmd.AddCommand(boardsListCmd, boardsCreateCmd, boardsRenameCmd, boardsDeleteCmd)
	rootCmd.AddCommand(boardsCmd)
}
