package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sowelni/medbot/internal/cli"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "medbot",
		Short: "Medbot - retrieval-augmented assistant for health coverage questions",
		Long: `Medbot ingests health coverage documentation into a hierarchical chunk
store and answers employee questions from it, by text or voice.

Environment variables are prefixed with MEDBOT_ (see MEDBOT_DATABASE_URL,
MEDBOT_GENERATOR_BASE_URL, MEDBOT_EMBEDDING_BASE_URL, MEDBOT_RERANKER_BASE_URL).`,
		Version: version,
	}

	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(cli.MigrateCmd())
	rootCmd.AddCommand(cli.IngestCmd())
	rootCmd.AddCommand(cli.SearchCmd())
	rootCmd.AddCommand(cli.ChatCmd())
	rootCmd.AddCommand(cli.DocumentsCmd())
	rootCmd.AddCommand(cli.ConversationsCmd())
	rootCmd.AddCommand(cli.RateCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
