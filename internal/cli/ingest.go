package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// IngestCmd returns the ingest command.
func IngestCmd() *cobra.Command {
	var (
		title string
		tags  []string
	)

	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Ingest markdown documents into the knowledge base",
		Long: `Ingest one or more markdown files. Directories are walked recursively
and every .md file found is ingested as its own document.

Each document is chunked, summarized, embedded and stored in a single
transaction. A document that fails partway is kept in status failed with
the error message attached.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			inserter, err := app.newInserter()
			if err != nil {
				return err
			}

			files, err := collectMarkdownFiles(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no markdown files found under %s", strings.Join(args, ", "))
			}
			if title != "" && len(files) > 1 {
				return fmt.Errorf("--title applies to a single file, got %d", len(files))
			}

			var failed int
			for _, path := range files {
				text, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}

				docTitle := title
				if docTitle == "" {
					docTitle = titleFromPath(path)
				}

				docID, err := inserter.Insert(ctx, docTitle, string(text), tags)
				if err != nil {
					failed++
					app.logger.Error("ingestion failed",
						zap.String("path", path),
						zap.String("document_id", docID),
						zap.Error(err))
					continue
				}
				fmt.Printf("ingested %s (%s)\n", docTitle, docID)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(files))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Document title (single file only; defaults to the filename)")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Access tags attached to the documents")

	return cmd
}

// collectMarkdownFiles expands each argument into the markdown files it
// names. A file argument is taken as-is regardless of extension.
func collectMarkdownFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}

		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".md") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func titleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
