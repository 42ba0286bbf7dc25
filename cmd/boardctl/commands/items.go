package commands

import (
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"prism-board/domain"
)

var columnsCmd = &cobra.Command{
	Use:   "columns",
	Short: "Create, rename and delete columns",
}

var columnsCreateCmd = &cobra.Command{
	Use:   "create <boardId> <title>",
	Short: "Add a column to a board",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := send(cmd.Context(), domain.EventColumnsCreate, map[string]any{
			"boardId": args[0],
			"title":   strings.Join(args[1:], " "),
		})
		if err != nil {
			return err
		}
		var c domain.Column
		if err := sonic.Unmarshal(data, &c); err != nil {
			return err
		}
		Success(cmd.OutOrStdout(), "created column %q %s", c.Title, c.ID)
		return nil
	},
}

var columnsRenameCmd = &cobra.Command{
	Use:   "rename <boardId> <columnId> <title>",
	Short: "Rename a column",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := send(cmd.Context(), domain.EventColumnsUpdate, map[string]any{
			"boardId":  args[0],
			"columnId": args[1],
			"fields":   map[string]string{"title": strings.Join(args[2:], " ")},
		}); err != nil {
			return err
		}
		Success(cmd.OutOrStdout(), "renamed column %s", args[1])
		return nil
	},
}

var columnsDeleteCmd = &cobra.Command{
	Use:   "delete <boardId> <columnId>",
	Short: "Delete a column",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := send(cmd.Context(), domain.EventColumnsDelete, map[string]any{"boardId": args[0], "columnId": args[1]}); err != nil {
			return err
		}
		Success(cmd.OutOrStdout(), "deleted column %s", args[1])
		return nil
	},
}

var (
	taskDescription string
	taskTitle       string
	taskColumn      string
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Create, edit, move and delete tasks",
}

var tasksCreateCmd = &cobra.Command{
	Use:   "create <boardId> <columnId> <title>",
	Short: "Add a task to a column",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := map[string]any{
			"boardId":  args[0],
			"columnId": args[1],
			"title":    strings.Join(args[2:], " "),
		}
		if taskDescription != "" {
			payload["description"] = taskDescription
		}
		data, err := send(cmd.Context(), domain.EventTasksCreate, payload)
		if err != nil {
			return err
		}
		var t domain.Task
		if err := sonic.Unmarshal(data, &t); err != nil {
			return err
		}
		Success(cmd.OutOrStdout(), "created task %q %s", t.Title, t.ID)
		return nil
	},
}

var tasksUpdateCmd = &cobra.Command{
	Use:   "update <boardId> <taskId>",
	Short: "Edit or move a task",
	Example: `  boardctl tasks update <boardId> <taskId> --title "Ship it"
  boardctl tasks update <boardId> <taskId> --column <columnId>`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields := map[string]string{}
		if cmd.Flags().Changed("title") {
			fields["title"] = taskTitle
		}
		if cmd.Flags().Changed("description") {
			fields["description"] = taskDescription
		}
		if cmd.Flags().Changed("column") {
			fields["columnId"] = taskColumn
		}
		if len(fields) == 0 {
			return Error("nothing to update", "Pass at least one of --title, --description or --column.", nil)
		}
		data, err := send(cmd.Context(), domain.EventTasksUpdate, map[string]any{
			"boardId": args[0],
			"taskId":  args[1],
			"fields":  fields,
		})
		if err != nil {
			return err
		}
		var t domain.Task
		if err := sonic.Unmarshal(data, &t); err != nil {
			return err
		}
		Success(cmd.OutOrStdout(), "updated task %q in column %s", t.Title, t.ColumnID)
		return nil
	},
}

var tasksDeleteCmd = &cobra.Command{
	Use:   "delete <boardId> <taskId>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := send(cmd.Context(), domain.EventTasksDelete, map[string]any{"boardId": args[0], "taskId": args[1]}); err != nil {
			return err
		}
		Success(cmd.OutOrStdout(), "deleted task %s", args[1])
		return nil
	},
}

func init() {
	tasksCreateCmd.Flags().StringVarP(&taskDescription, "description", "d", "", "Task description")
	tasksUpdateCmd.Flags().StringVar(&taskTitle, "title", "", "New title")
	tasksUpdateCmd.Flags().StringVarP(&taskDescription, "description", "d", "", "New description")
	tasksUpdateCmd.Flags().StringVar(&taskColumn, "column", "", "Move the task to this column")

	columnsCmd.AddCommand(columnsCreateCmd, columnsRenameCmd, columnsDeleteCmd)
	tasksCmd.AddCommand(tasksCreateCmd, tasksUpdateCmd, tasksDeleteCmd)
	rootCmd.AddCommand(columnsCmd, tasksCmd)
}
