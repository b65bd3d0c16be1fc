package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show the status of an index build task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid task id %q: %w", args[0], err)
		}
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		task, err := appInstance.TaskService.GetStatus(cmd.Context(), id)
		if err != nil {
			return err
		}

		fmt.Printf("Task:    %s\n", task.ID)
		fmt.Printf("Status:  %s\n", colorStatus(task.Status))
		fmt.Printf("Source:  %s / %s / column %d\n", task.Source.SpreadsheetID, task.Source.WorksheetName, task.Source.ColumnIndex)
		fmt.Printf("Created: %s\n", task.CreatedAt.Format(time.RFC3339))
		fmt.Printf("Updated: %s\n", task.UpdatedAt.Format(time.RFC3339))
		if task.Message != nil {
			fmt.Printf("Message: %s\n", *task.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
