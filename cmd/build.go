package cmd

import (
	"fmt"
	"time"

	"taxonomer/internal/models"
	"taxonomer/internal/services"

	"github.com/spf13/cobra"
)

var (
	buildSpreadsheetID string
	buildWorksheet     string
	buildColumn        int
	buildNoHeader      bool
	buildInline        bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a taxonomy index from a spreadsheet column",
	Long: `Submits an index build for the given spreadsheet column. By default the build is
queued for a worker; --inline runs it in this process and waits for the result.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		src := models.SpreadsheetSource{
			SpreadsheetID: buildSpreadsheetID,
			WorksheetName: buildWorksheet,
			ColumnIndex:   buildColumn,
			Header:        !buildNoHeader,
		}
		ctx := cmd.Context()

		if !buildInline {
			task, err := appInstance.IndexingService.Submit(ctx, src)
			if err != nil {
				return err
			}
			fmt.Printf("Task %s queued. Check progress with: taxonomer status %s\n", task.ID, task.ID)
			return nil
		}

		if err := services.ValidateSource(src); err != nil {
			return err
		}
		task, err := appInstance.TaskService.CreateTask(ctx, src)
		if err != nil {
			return err
		}
		fmt.Printf("Running build for task %s...\n", task.ID)
		start := time.Now()
		if err := appInstance.IndexingService.Run(ctx, task.ID); err != nil {
			return err
		}
		task, err = appInstance.TaskService.GetStatus(ctx, task.ID)
		if err != nil {
			return err
		}
		fmt.Printf("Task %s finished with status %s in %s\n", task.ID, colorStatus(task.Status), time.Since(start).Round(time.Second))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVarP(&buildSpreadsheetID, "spreadsheet-id", "s", "", "Google Sheets spreadsheet id (required)")
	buildCmd.Flags().StringVarP(&buildWorksheet, "worksheet", "w", "", "Worksheet name (required)")
	buildCmd.Flags().IntVarP(&buildColumn, "column", "c", 1, "1-based column holding the category names")
	buildCmd.Flags().BoolVar(&buildNoHeader, "no-header", false, "The first row is a category, not a header")
	buildCmd.Flags().BoolVar(&buildInline, "inline", false, "Run the build in this process instead of queueing it")
	buildCmd.MarkFlagRequired("spreadsheet-id")
	buildCmd.MarkFlagRequired("worksheet")
}
