package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// DocumentsCmd returns the documents command group.
func DocumentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "Manage ingested documents",
	}
	cmd.AddCommand(documentsListCmd())
	cmd.AddCommand(documentsShowCmd())
	cmd.AddCommand(documentsDeleteCmd())
	return cmd
}

func documentsListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			docs, err := app.documents.List(ctx, limit)
			if err != nil {
				return err
			}

			for _, d := range docs {
				line := fmt.Sprintf("%s  %-10s  %s", d.ID, d.Status, d.Title)
				if len(d.Tags) > 0 {
					line += "  [" + strings.Join(d.Tags, ",") + "]"
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of documents to list")
	return cmd
}

func documentsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <document-id>",
		Short: "Show a document and its chunk layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			doc, err := app.documents.GetByID(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("id:      %s\n", doc.ID)
			fmt.Printf("title:   %s\n", doc.Title)
			fmt.Printf("status:  %s\n", doc.Status)
			if len(doc.Tags) > 0 {
				fmt.Printf("tags:    %s\n", strings.Join(doc.Tags, ","))
			}
			fmt.Printf("created: %s\n", doc.CreatedAt.Format("2006-01-02 15:04:05"))
			if doc.ErrorMessage != "" {
				fmt.Printf("error:   %s\n", doc.ErrorMessage)
			}

			chunks, err := app.chunks.ListLargeChunks(ctx, doc.ID)
			if err != nil {
				return err
			}
			fmt.Printf("chunks:  %d\n", len(chunks))
			for _, c := range chunks {
				fmt.Printf("  %3d  %s  %d chars\n", c.Position, c.ID, len(c.Text))
			}
			return nil
		},
	}
}

func documentsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete a document and all its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := app.documents.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}
