package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"taxonomer/internal/clix"
	"taxonomer/internal/services"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	classifyEmbeddings bool
	classifyJSON       bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify [text...]",
	Short: "Classify text or media against the current taxonomy",
	Example: `  taxonomer classify "wireless headphones"
  taxonomer classify --media gs://bucket/shirt.jpg --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		texts, err := clix.ParseList(cmd.Flags(), "text")
		if err != nil {
			return err
		}
		texts = append(args, texts...)
		media, err := clix.ParseList(cmd.Flags(), "media")
		if err != nil {
			return err
		}
		if len(texts) == 0 && len(media) == 0 {
			return errors.New("provide at least one text or --media URI")
		}

		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		var inputs []services.ClassifyInput
		for _, t := range texts {
			inputs = append(inputs, services.ClassifyInput{Text: t})
		}
		for _, m := range media {
			inputs = append(inputs, services.ClassifyInput{MediaURI: m})
		}

		results, err := appInstance.ClassificationService.Classify(cmd.Context(), inputs, classifyEmbeddings)
		if err != nil {
			return err
		}

		if classifyJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		for _, r := range results {
			fmt.Println(color.New(color.Bold).Sprint(r.QueryIdentifier))
			if r.MediaDescription != nil {
				fmt.Printf("  described as: %s\n", *r.MediaDescription)
			}
			if r.Error != nil {
				fmt.Printf("  %s %s: %s\n\n", color.RedString("ERROR"), r.Error.Code, r.Error.Message)
				continue
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"#", "Category", "Similarity"})
			for i, c := range r.Categories {
				table.Append([]string{fmt.Sprint(i + 1), c.Name, fmt.Sprintf("%.4f", c.Similarity)})
			}
			table.Render()
			if len(r.Embedding) > 0 {
				parts := make([]string, 0, 4)
				for _, v := range r.Embedding[:min(4, len(r.Embedding))] {
					parts = append(parts, fmt.Sprintf("%.4f", v))
				}
				fmt.Printf("  embedding: [%s ...] (%d values)\n", strings.Join(parts, ", "), len(r.Embedding))
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)

	classifyCmd.Flags().StringArrayP("text", "t", nil, "Text to classify (repeatable)")
	classifyCmd.Flags().StringArrayP("media", "m", nil, "gs:// media URI to classify (repeatable)")
	classifyCmd.Flags().BoolVar(&classifyEmbeddings, "embeddings", false, "Include the query embeddings")
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "Print results as JSON")
}
