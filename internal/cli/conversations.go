package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ConversationsCmd returns the conversations command group.
func ConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "Manage stored conversations",
	}
	cmd.AddCommand(conversationsListCmd())
	cmd.AddCommand(conversationsShowCmd())
	cmd.AddCommand(conversationsDeleteCmd())
	return cmd
}

func conversationsListCmd() *cobra.Command {
	var (
		ownerID string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's conversations, most recently active first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			convs, err := app.conversations.ListByOwner(ctx, ownerID, limit)
			if err != nil {
				return err
			}

			for _, c := range convs {
				title := c.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Printf("%s  %s  %s\n", c.ID, c.UpdatedAt.Format("2006-01-02 15:04"), title)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerID, "owner", "", "Owner ID to list conversations for")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of conversations to list")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func conversationsShowCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print a conversation transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			conv, err := app.conversations.GetByID(ctx, args[0])
			if err != nil {
				return err
			}

			if conv.Title != "" {
				fmt.Printf("title: %s\n", conv.Title)
			}
			if conv.CompactionSummary != "" {
				fmt.Printf("summary so far: %s\n", conv.CompactionSummary)
			}

			msgs, err := app.messages.ListDesc(ctx, conv.ID, nil, limit)
			if err != nil {
				return err
			}

			// ListDesc returns newest first; print in reading order.
			for i := len(msgs) - 1; i >= 0; i-- {
				m := msgs[i]
				fmt.Printf("[%s] %s: %s\n", m.ID, m.Role, m.Content)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of messages to print")
	return cmd
}

func conversationsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation and all its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := app.conversations.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}

// RateCmd returns the rate command for answer feedback.
func RateCmd() *cobra.Command {
	var (
		up       bool
		down     bool
		feedback string
	)

	cmd := &cobra.Command{
		Use:   "rate <message-id>",
		Short: "Rate an assistant answer",
		Long:  "Record a thumbs up or down on an assistant message, optionally with free-text feedback.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if up == down {
				return fmt.Errorf("exactly one of --up or --down is required")
			}

			app, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := app.messages.SetRating(ctx, args[0], up); err != nil {
				return err
			}
			if feedback != "" {
				if err := app.messages.SetFeedback(ctx, args[0], feedback); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&up, "up", false, "Thumbs up")
	cmd.Flags().BoolVar(&down, "down", false, "Thumbs down")
	cmd.Flags().StringVar(&feedback, "feedback", "", "Free-text feedback")

	return cmd
}
