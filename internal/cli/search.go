package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// SearchCmd returns the search command.
func SearchCmd() *cobra.Command {
	var tags []string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a retrieval query and print the ranked contexts",
		Long:  "Run the full retrieval pipeline (embed, dual vector search, score fusion, rerank) without generating an answer. Useful for tuning retrieval parameters.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			contexts, err := app.newRetriever(tags).Retrieve(ctx, args[0])
			if err != nil {
				return err
			}

			for i, c := range contexts {
				fmt.Printf("%d. %s (chunk %s)\n", i+1, c.DocumentTitle, c.Chunk.ID)
				fmt.Printf("   summary=%.4f small=%.4f combined=%.4f rerank=%.4f\n",
					c.SummaryScore, c.SmallChunkScore, c.CombinedScore, c.RerankScore)
				fmt.Printf("   %s\n\n", truncate(c.Chunk.Text, 300))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Restrict retrieval to documents carrying one of these tags")
	return cmd
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
