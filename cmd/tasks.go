package cmd

import (
	"fmt"
	"os"
	"time"

	"taxonomer/internal/clix"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List index build tasks, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		pagination, err := clix.ParsePagination(cmd.Flags())
		if err != nil {
			return err
		}
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		tasks, err := appInstance.TaskService.ListTasks(cmd.Context(), pagination.Limit, pagination.Offset)
		if err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks found.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Task ID", "Status", "Spreadsheet", "Worksheet", "Col", "Created At", "Updated At", "Message"})
		table.SetBorder(true)
		for _, t := range tasks {
			table.Append([]string{
				t.ID.String(),
				colorStatus(t.Status),
				t.Source.SpreadsheetID,
				t.Source.WorksheetName,
				fmt.Sprint(t.Source.ColumnIndex),
				t.CreatedAt.Format(time.RFC3339),
				t.UpdatedAt.Format(time.RFC3339),
				getStringPtrValue(t.Message, ""),
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tasksCmd)

	tasksCmd.Flags().IntP("limit", "n", 20, "Maximum number of tasks to list")
	tasksCmd.Flags().IntP("offset", "o", 0, "Number of tasks to skip")
}
