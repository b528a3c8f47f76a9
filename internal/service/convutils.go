package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/sowelni/medbot/internal/llm"
)

// Prompt templates for conversation-level helper tasks. The model is
// instructed to answer with a single prefixed line; the prefix is stripped
// during extraction.

const rewritePromptTemplate = `<|im_start|>system
###INSTRUCTIONS###
You are given chat history and a new user question. Rewrite the question so it stands alone without prior context, preserving its meaning. Respond with exactly one line starting with 'REWRITE:' followed by the rewritten question. Do not exceed %d tokens.

###EXAMPLES###
User question: Où puis-je le trouver ?
REWRITE: Où puis-je trouver la politique de voyage de l'entreprise ?

###HISTORY###
%s

###QUESTION###
%s
<|im_end|>
<|im_start|>assistant
`

const summaryPromptTemplate = `<|im_start|>system
###INSTRUCTIONS###
Provide a concise summary of the conversation so far. Respond with exactly one line starting with 'SUMMARY:' followed by the summary. Keep it under %d tokens.

###EXAMPLES###
SUMMARY: The user is asking about annual leave policy details.

###CONVERSATION###
%s
<|im_end|>
<|im_start|>assistant
`

const titlePromptTemplate = `<|im_start|>system
###INSTRUCTIONS###
You are a conversation title generator.
You will receive a chat history.
Produce one concise title (5 words max) that captures the essence of the conversation.
The title must be written in the same language as the history.
Respond with exactly one line starting with 'TITLE:' followed by the title (no quotes). Keep it concise and within %d tokens.

###EXAMPLES###
TITLE: Annual Leave Policy Query

###Chat history###
User: %s
Assistant: %s
<|im_end|>
<|im_start|>assistant
`

// DefaultUtilsMaxTokens is the soft response length bound written into the
// helper prompts; it is not enforced at the API level.
const DefaultUtilsMaxTokens = 50

// ConversationUtils bundles stateless prompt-driven helpers: query
// rewriting, transcript summarization and title generation. Each helper is
// one request/response round-trip to the generation service.
type ConversationUtils struct {
	generator GenerationClient
	maxTokens int
	logger    *zap.Logger
}

// NewConversationUtils creates a ConversationUtils.
func NewConversationUtils(generator GenerationClient, logger *zap.Logger) *ConversationUtils {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationUtils{
		generator: generator,
		maxTokens: DefaultUtilsMaxTokens,
		logger:    logger,
	}
}

// Rewrite returns a self-contained restatement of query. With an empty
// history the question is assumed self-contained and returned unchanged.
// Malformed model output falls back to the raw model text; rewriting never
// fails the turn, so only service errors are returned.
func (u *ConversationUtils) Rewrite(ctx context.Context, query string, history []llm.ChatMessage) (string, error) {
	if len(history) == 0 {
		return query, nil
	}

	prompt := fmt.Sprintf(rewritePromptTemplate, u.maxTokens, historyAsPlain(history), query)
	raw, err := u.generator.Invoke(ctx, prompt)
	if err != nil {
		return "", err
	}
	return u.extractOrRaw(raw, "REWRITE"), nil
}

// Summarize returns a concise summary of history.
func (u *ConversationUtils) Summarize(ctx context.Context, history []llm.ChatMessage) (string, error) {
	prompt := fmt.Sprintf(summaryPromptTemplate, u.maxTokens, historyAsPlain(history))
	raw, err := u.generator.Invoke(ctx, prompt)
	if err != nil {
		return "", err
	}
	return u.extractOrRaw(raw, "SUMMARY"), nil
}

// GenerateTitle produces a short descriptive title from the first exchange.
func (u *ConversationUtils) GenerateTitle(ctx context.Context, userMsg, assistantMsg string) (string, error) {
	prompt := fmt.Sprintf(titlePromptTemplate, u.maxTokens, userMsg, assistantMsg)
	raw, err := u.generator.Invoke(ctx, prompt)
	if err != nil {
		return "", err
	}
	return u.extractOrRaw(raw, "TITLE"), nil
}

func (u *ConversationUtils) extractOrRaw(raw, prefix string) string {
	extracted, err := extractPrefixed(raw, prefix)
	if err != nil {
		u.logger.Warn("model response missing expected prefix, using raw output",
			zap.String("prefix", prefix), zap.Error(err))
		return strings.TrimSpace(raw)
	}
	return extracted
}

// extractPrefixed returns the content following the expected leading
// keyword, e.g. "REWRITE:", case-insensitively, on any line of text.
func extractPrefixed(text, prefix string) (string, error) {
	pattern := regexp.MustCompile(`(?im)^\s*` + regexp.QuoteMeta(prefix) + `:\s*(.+)$`)
	match := pattern.FindStringSubmatch(text)
	if match == nil {
		return "", fmt.Errorf("model response did not start with %q", prefix+":")
	}
	return strings.TrimSpace(match[1]), nil
}

func historyAsPlain(history []llm.ChatMessage) string {
	lines := make([]string, len(history))
	for i, m := range history {
		lines[i] = m.Role + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}
