package cmd

import (
	"errors"
	"fmt"

	"taxonomer/internal/store"

	"github.com/fatih/color"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check database, Redis and index diagnostics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		appInstance, err := GetAppFromContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to get app instance: %w", err)
		}
		ok := true

		fmt.Println("Checking database connectivity...")
		if err := appInstance.Store.Ping(ctx); err != nil {
			fmt.Printf("  %s database ping failed: %v\n", color.RedString("FAIL"), err)
			ok = false
		} else {
			fmt.Printf("  %s database (%s)\n", color.GreenString("OK"), appInstance.Config.Database.Driver)
		}

		fmt.Println("Checking Redis connectivity...")
		inspector := asynq.NewInspector(appInstance.RedisOpt())
		defer inspector.Close()
		if queues, err := inspector.Queues(); err != nil {
			fmt.Printf("  %s redis: %v\n", color.RedString("FAIL"), err)
			ok = false
		} else {
			fmt.Printf("  %s redis (%d queues)\n", color.GreenString("OK"), len(queues))
		}

		fmt.Println("Checking current generation...")
		gen, err := appInstance.Store.CurrentGeneration(ctx)
		switch {
		case errors.Is(err, store.ErrNotFound):
			fmt.Printf("  %s no generation promoted yet; classification returns index_not_ready\n", color.YellowString("WARN"))
		case err != nil:
			fmt.Printf("  %s %v\n", color.RedString("FAIL"), err)
			ok = false
		default:
			fmt.Printf("  %s generation %s (%d categories, model %s)\n", color.GreenString("OK"), gen.ID, gen.Size, gen.Model)
		}

		fmt.Printf("Embedding model: %s (dimension %d)\n", appInstance.Embedder.ModelName(), appInstance.Embedder.Dimension())
		if !ok {
			return errors.New("one or more checks failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
