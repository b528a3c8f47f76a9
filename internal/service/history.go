package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sowelni/medbot/internal/domain"
	"github.com/sowelni/medbot/internal/llm"
)

const conversationSummarizerPrompt = `<|im_start|>system
### Instruction ###
You are an agent that summarizes conversations.
You are given a conversation history, summarize it in a few sentences.

### Examples ###
# Example 1:
# Conversation History:
User: Comment ajouter mes enfants à ma couverture médicale ?
Assistant: Pour ajouter vos enfants, veuillez fournir leurs actes de naissance
User: J'ai un fils de 5 ans et une fille de 7 ans
# Summary:
L'utilisateur demande comment ajouter ses deux enfants (5 et 7 ans) à sa couverture médicale et l'assistant a répondu sur les documents nécessaires.
---
# Example 2:
# Conversation History:
User: Je besoin d'aide pour calculer ma pension de retraite
Assistant: Quel est votre dernier salaire mensuel ?
User: Mon salaire est de 15000 DH
Assistant: Depuis combien d'années avez-vous cotisé ?
User: 25 ans
# Summary:
L'utilisateur cherche à calculer sa pension de retraite avec un salaire de 15000 DH et 25 ans de cotisation.
/no_think
<|im_end|>
<|im_start|>user
### Conversation History ###
%s
<|im_end|>
<|im_start|>assistant
### Summary ###
`

// historyPageSize is how many persisted messages are loaded per page when
// rebuilding a transcript.
const historyPageSize = 50

// HistoryStore is the persistence surface the history manager writes
// through.
type HistoryStore interface {
	SaveConversation(ctx context.Context, conv *domain.Conversation) error
	InsertMessage(ctx context.Context, msg *domain.Message) error
	// ListMessagesDesc returns up to limit messages of a conversation,
	// most recent first, strictly older than the cursor when set.
	ListMessagesDesc(ctx context.Context, conversationID string, before *time.Time, limit int) ([]*domain.Message, error)
}

// Entry is one transcript record held in memory by the history manager.
type Entry struct {
	ID        string
	Role      domain.MessageRole
	Content   string
	Context   map[string]any
	CreatedAt time.Time

	// synthetic entries (the injected compaction summary) exist only in
	// memory and are never written to the store.
	synthetic bool
}

// History holds the ordered, token-budgeted in-memory transcript of one
// conversation. Entries are an append-only log; everything before the
// persisted watermark is already in the store, so repeated flushes never
// re-insert.
type History struct {
	conv      *domain.Conversation
	entries   []Entry
	persisted int // watermark: entries[:persisted] are in the store or synthetic
	budget    int
	generator GenerationClient
	store     HistoryStore
	ids       IDGenerator
	logger    *zap.Logger
}

// HistoryConfig configures a History.
type HistoryConfig struct {
	TokenBudget int
	IDs         IDGenerator
	Logger      *zap.Logger
}

// NewHistory creates the history manager for conv. When the conversation
// already has persisted messages they are loaded most-recent-first up to
// the token budget, stopping early at the conversation's compaction
// boundary; a persisted compaction summary is injected as a synthetic
// leading system entry.
func NewHistory(ctx context.Context, conv *domain.Conversation, generator GenerationClient, store HistoryStore, cfg HistoryConfig) (*History, error) {
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 3000
	}
	if cfg.IDs == nil {
		cfg.IDs = &DefaultIDGenerator{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	h := &History{
		conv:      conv,
		budget:    cfg.TokenBudget,
		generator: generator,
		store:     store,
		ids:       cfg.IDs,
		logger:    cfg.Logger,
	}

	if !conv.CreatedAt.IsZero() {
		if err := h.loadExisting(ctx); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Conversation returns the managed conversation record.
func (h *History) Conversation() *domain.Conversation {
	return h.conv
}

// Len returns the number of in-memory transcript entries.
func (h *History) Len() int {
	return len(h.entries)
}

// AppendOptions carries optional attributes for a new entry.
type AppendOptions struct {
	ID        string
	CreatedAt time.Time
	Context   map[string]any
}

// Append adds a transcript entry, generating an identifier and timestamp
// when the caller supplies none.
func (h *History) Append(role domain.MessageRole, content string, opts AppendOptions) {
	if opts.ID == "" {
		opts.ID = h.ids.NewID()
	}
	if opts.CreatedAt.IsZero() {
		opts.CreatedAt = time.Now().UTC()
	}
	h.entries = append(h.entries, Entry{
		ID:        opts.ID,
		Role:      role,
		Content:   content,
		Context:   opts.Context,
		CreatedAt: opts.CreatedAt,
	})
}

// ChatMessages returns the transcript in OpenAI wire format.
func (h *History) ChatMessages() []llm.ChatMessage {
	msgs := make([]llm.ChatMessage, len(h.entries))
	for i, e := range h.entries {
		msgs[i] = llm.ChatMessage{Role: string(e.Role), Content: e.Content}
	}
	return msgs
}

// TokenCount returns the transcript's current token usage. When the
// tokenizing service is unavailable it falls back to a whitespace word
// count.
func (h *History) TokenCount(ctx context.Context) int {
	return h.tokensIn(ctx, h.ChatMessages())
}

func (h *History) tokensIn(ctx context.Context, msgs []llm.ChatMessage) int {
	if len(msgs) == 0 {
		return 0
	}
	count, _, err := h.generator.CountConversationTokens(ctx, msgs)
	if err != nil {
		h.logger.Debug("tokenizer unavailable, falling back to word count", zap.Error(err))
		total := 0
		for _, m := range msgs {
			total += len(strings.Fields(m.Content))
		}
		return total
	}
	return count
}

// Flush persists the conversation and all entries past the persisted
// watermark, exactly once per entry. The first message ever persisted
// becomes the conversation's compaction boundary when none is set.
func (h *History) Flush(ctx context.Context) error {
	if err := h.store.SaveConversation(ctx, h.conv); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodePersistence, "failed to save conversation", err)
	}

	boundaryDirty := false
	for i := h.persisted; i < len(h.entries); i++ {
		e := h.entries[i]
		if e.synthetic {
			h.persisted = i + 1
			continue
		}
		msg := &domain.Message{
			ID:             e.ID,
			ConversationID: h.conv.ID,
			Role:           e.Role,
			Content:        e.Content,
			Context:        e.Context,
			CreatedAt:      e.CreatedAt,
		}
		if err := h.store.InsertMessage(ctx, msg); err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodePersistence, "failed to persist message", err)
		}
		h.persisted = i + 1

		if h.conv.CompactionMessageID == "" && i == 0 {
			h.conv.CompactionMessageID = e.ID
			boundaryDirty = true
		}
	}

	if boundaryDirty {
		if err := h.store.SaveConversation(ctx, h.conv); err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodePersistence, "failed to save conversation", err)
		}
	}
	return nil
}

// MaybeCompact checks the token budget and, when exceeded, summarizes the
// full transcript, persists all pending entries, then evicts the oldest
// entries until the transcript is under budget or a single entry remains.
// The new summary and the oldest surviving message are recorded on the
// conversation. The most recent entry is never evicted.
func (h *History) MaybeCompact(ctx context.Context) error {
	if h.TokenCount(ctx) < h.budget {
		return nil
	}

	prompt := fmt.Sprintf(conversationSummarizerPrompt, h.plainTranscript())
	summary, err := h.generator.Invoke(ctx, prompt)
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeExternalService, "transcript summarization failed", err)
	}

	// Persist everything before altering the transcript so nothing is lost.
	if err := h.Flush(ctx); err != nil {
		return err
	}

	for h.TokenCount(ctx) > h.budget && len(h.entries) > 1 {
		h.evictOldest()
	}

	h.conv.CompactionSummary = strings.TrimSpace(summary)
	h.conv.CompactionMessageID = ""
	if len(h.entries) > 0 && !h.entries[0].synthetic {
		h.conv.CompactionMessageID = h.entries[0].ID
	}

	return h.Flush(ctx)
}

func (h *History) evictOldest() {
	if len(h.entries) == 0 {
		return
	}
	h.entries = h.entries[1:]
	if h.persisted > 0 {
		h.persisted--
	}
}

func (h *History) plainTranscript() string {
	lines := make([]string, len(h.entries))
	for i, e := range h.entries {
		lines[i] = string(e.Role) + ": " + e.Content
	}
	return strings.Join(lines, "\n")
}

// loadExisting rebuilds the in-memory transcript from the store, newest
// first within the token budget, stopping at the compaction boundary.
func (h *History) loadExisting(ctx context.Context) error {
	var reverseAcc []Entry
	var reverseMsgs []llm.ChatMessage
	var cursor *time.Time

load:
	for {
		page, err := h.store.ListMessagesDesc(ctx, h.conv.ID, cursor, historyPageSize)
		if err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodePersistence, "failed to load conversation history", err)
		}
		if len(page) == 0 {
			break
		}

		for _, msg := range page {
			reverseAcc = append(reverseAcc, Entry{
				ID:        msg.ID,
				Role:      msg.Role,
				Content:   msg.Content,
				Context:   msg.Context,
				CreatedAt: msg.CreatedAt,
			})
			reverseMsgs = append(reverseMsgs, llm.ChatMessage{Role: string(msg.Role), Content: msg.Content})
			if h.tokensIn(ctx, reverseMsgs) > h.budget {
				reverseAcc = reverseAcc[:len(reverseAcc)-1]
				break load
			}
			if h.conv.CompactionMessageID != "" && msg.ID == h.conv.CompactionMessageID {
				break load
			}
		}

		last := page[len(page)-1].CreatedAt
		cursor = &last
	}

	// Inject the earlier compaction summary, if any, ahead of the live
	// messages. It lives only in memory.
	if h.conv.CompactionSummary != "" {
		h.entries = append(h.entries, Entry{
			Role:      domain.RoleSystem,
			Content:   "(earlier summary) " + h.conv.CompactionSummary,
			Context:   map[string]any{"token_budget": true},
			CreatedAt: h.conv.UpdatedAt,
			synthetic: true,
		})
	}

	for i := len(reverseAcc) - 1; i >= 0; i-- {
		h.entries = append(h.entries, reverseAcc[i])
	}
	h.persisted = len(h.entries)

	// The summary injection can tip the transcript over budget.
	for h.TokenCount(ctx) > h.budget && len(h.entries) > 1 {
		h.evictOldest()
	}
	return nil
}
