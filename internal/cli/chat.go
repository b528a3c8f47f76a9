package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sowelni/medbot/internal/domain"
	"github.com/sowelni/medbot/internal/service"
)

// ChatCmd returns the chat command.
func ChatCmd() *cobra.Command {
	var (
		conversationID string
		ownerID        string
		tags           []string
		voice          bool
		noPersist      bool
	)

	cmd := &cobra.Command{
		Use:   "chat [question]",
		Short: "Chat against the knowledge base",
		Long: `Chat against the knowledge base. With a question argument the answer is
printed and the command exits; without one an interactive session starts.

Use --conversation to resume an earlier session. In --voice mode answers
are phrased for speech and a new question interrupts the answer still
being generated.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			chat, err := app.openChat(ctx, conversationID, ownerID, tags, voice, !noPersist)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				result, err := chat.Receive(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(result.Response)
				return nil
			}

			fmt.Printf("conversation %s (ctrl-d to quit)\n", chat.History().Conversation().ID)
			if voice {
				err = runVoiceLoop(ctx, chat, app.logger)
			} else {
				err = runChatLoop(ctx, chat)
			}
			if closeErr := chat.Close(ctx); closeErr != nil && err == nil {
				err = closeErr
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Conversation ID to resume")
	cmd.Flags().StringVar(&ownerID, "owner", "", "Owner ID recorded on a new conversation")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Restrict retrieval to documents carrying one of these tags")
	cmd.Flags().BoolVar(&voice, "voice", false, "Phrase answers for speech and allow barge-in")
	cmd.Flags().BoolVar(&noPersist, "no-persist", false, "Do not store the conversation")

	return cmd
}

// runChatLoop reads questions line by line and streams each answer to
// stdout before prompting again.
func runChatLoop(ctx context.Context, chat *service.ChatSystem) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		stream, err := chat.ReceiveStream(ctx, text)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		for token := range stream.Tokens() {
			fmt.Print(token)
		}
		fmt.Println()

		if _, err := stream.Wait(); err != nil {
			var aborted *domain.GenerationAborted
			if errors.As(err, &aborted) {
				fmt.Fprintln(os.Stderr, "generation interrupted, partial answer kept")
				continue
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

// runVoiceLoop submits each line as an utterance. A line typed while an
// answer is still streaming preempts it, the way a caller talking over the
// assistant would.
func runVoiceLoop(ctx context.Context, chat *service.ChatSystem, logger *zap.Logger) error {
	runner := service.NewTurnRunner(chat, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for token := range runner.Out() {
			if token == "" {
				fmt.Println()
				continue
			}
			fmt.Print(token)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := runner.Submit(ctx, text); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}

	runner.Stop()
	wg.Wait()
	fmt.Println()
	return scanner.Err()
}
