package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var generationsCmd = &cobra.Command{
	Use:   "generations",
	Short: "Inspect and manage category index generations",
}

var generationsLimit int

var generationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List generations, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		gens, err := appInstance.Store.ListGenerations(cmd.Context(), generationsLimit)
		if err != nil {
			return fmt.Errorf("failed to list generations: %w", err)
		}
		if len(gens) == 0 {
			fmt.Println("No generations found.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Generation ID", "State", "Model", "Dim", "Size", "Created At", "Promoted At"})
		table.SetBorder(true)
		for _, g := range gens {
			table.Append([]string{
				g.ID.String(),
				colorState(g.State),
				g.Model,
				fmt.Sprint(g.Dimension),
				fmt.Sprint(g.Size),
				g.CreatedAt.Format(time.RFC3339),
				formatNullTime(g.PromotedAt, time.RFC3339),
			})
		}
		table.Render()
		return nil
	},
}

var generationsPromoteCmd = &cobra.Command{
	Use:   "promote <generation-id>",
	Short: "Roll back to a retired generation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid generation id %q: %w", args[0], err)
		}
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		promoted, err := appInstance.IndexingService.Rollback(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("Generation %s is now %s (%d categories). Running servers pick it up on their next refresh.\n",
			promoted.ID, colorState(promoted.State), promoted.Size)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(generationsCmd)
	generationsCmd.AddCommand(generationsListCmd, generationsPromoteCmd)
	generationsListCmd.Flags().IntVarP(&generationsLimit, "limit", "n", 20, "Maximum number of generations to list")
}
