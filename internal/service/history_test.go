package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sowelni/medbot/internal/domain"
)

func newTestConversation() *domain.Conversation {
	return &domain.Conversation{
		ID:      "conv-1",
		OwnerID: "user-1",
	}
}

func newTestHistory(t *testing.T, gen GenerationClient, store HistoryStore, budget int) *History {
	t.Helper()
	h, err := NewHistory(context.Background(), newTestConversation(), gen, store, HistoryConfig{
		TokenBudget: budget,
		IDs:         &seqIDs{},
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	return h
}

func TestHistory_AppendAndChatMessages(t *testing.T) {
	h := newTestHistory(t, &fakeGenerator{}, newMemStore(), 100)

	h.Append(domain.RoleUser, "hello there", AppendOptions{})
	h.Append(domain.RoleAssistant, "hi", AppendOptions{})

	msgs := h.ChatMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "hello there", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
}

func TestHistory_TokenCountFallsBackToWordCount(t *testing.T) {
	gen := &fakeGenerator{countErr: errors.New("tokenizer down")}
	h := newTestHistory(t, gen, newMemStore(), 100)

	h.Append(domain.RoleUser, "one two three", AppendOptions{})
	h.Append(domain.RoleAssistant, "four five", AppendOptions{})

	assert.Equal(t, 5, h.TokenCount(context.Background()))
}

func TestHistory_FlushPersistsEachEntryOnce(t *testing.T) {
	store := newMemStore()
	h := newTestHistory(t, &fakeGenerator{}, store, 100)

	h.Append(domain.RoleUser, "question", AppendOptions{})
	h.Append(domain.RoleAssistant, "answer", AppendOptions{})

	require.NoError(t, h.Flush(context.Background()))
	require.Len(t, store.messagesFor("conv-1"), 2)

	// The first persisted message becomes the compaction boundary.
	saved := store.conversations["conv-1"]
	assert.Equal(t, "id-1", saved.CompactionMessageID)

	// A second flush with nothing pending inserts nothing.
	require.NoError(t, h.Flush(context.Background()))
	assert.Len(t, store.messagesFor("conv-1"), 2)

	h.Append(domain.RoleUser, "followup", AppendOptions{})
	require.NoError(t, h.Flush(context.Background()))
	assert.Len(t, store.messagesFor("conv-1"), 3)
}

func TestHistory_FlushSurfacesStoreErrors(t *testing.T) {
	store := newMemStore()
	store.saveErr = errors.New("db down")
	h := newTestHistory(t, &fakeGenerator{}, store, 100)

	err := h.Flush(context.Background())

	var derr *domain.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.ErrCodePersistence, derr.Code)
}

func TestHistory_MaybeCompactUnderBudgetIsNoop(t *testing.T) {
	gen := &fakeGenerator{}
	store := newMemStore()
	h := newTestHistory(t, gen, store, 100)

	h.Append(domain.RoleUser, "short question", AppendOptions{})

	require.NoError(t, h.MaybeCompact(context.Background()))
	assert.Empty(t, gen.invokedPrompts())
	assert.Empty(t, store.messagesFor("conv-1"))
}

func TestHistory_MaybeCompactSummarizesAndEvicts(t *testing.T) {
	gen := &fakeGenerator{
		invokeFn: func(ctx context.Context, prompt string) (string, error) {
			return "the running summary", nil
		},
	}
	store := newMemStore()
	h := newTestHistory(t, gen, store, 6)

	h.Append(domain.RoleUser, "one two three", AppendOptions{})
	h.Append(domain.RoleAssistant, "four five six", AppendOptions{})
	h.Append(domain.RoleUser, "seven eight", AppendOptions{})

	require.NoError(t, h.MaybeCompact(context.Background()))

	// Everything was persisted before eviction.
	assert.Len(t, store.messagesFor("conv-1"), 3)

	// The oldest entry was evicted until the transcript fit the budget.
	require.Equal(t, 2, h.Len())
	msgs := h.ChatMessages()
	assert.Equal(t, "four five six", msgs[0].Content)
	assert.Equal(t, "seven eight", msgs[1].Content)

	conv := store.conversations["conv-1"]
	assert.Equal(t, "the running summary", conv.CompactionSummary)
	assert.Equal(t, "id-2", conv.CompactionMessageID)

	// The summarizer saw the full transcript.
	prompts := gen.invokedPrompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "user: one two three")
	assert.Contains(t, prompts[0], "user: seven eight")

	// Evicted entries are not re-inserted by later flushes.
	require.NoError(t, h.Flush(context.Background()))
	assert.Len(t, store.messagesFor("conv-1"), 3)
}

func TestHistory_MaybeCompactKeepsLastEntry(t *testing.T) {
	gen := &fakeGenerator{
		invokeFn: func(ctx context.Context, prompt string) (string, error) {
			return "summary", nil
		},
	}
	h := newTestHistory(t, gen, newMemStore(), 2)

	h.Append(domain.RoleUser, strings.Repeat("word ", 50), AppendOptions{})

	require.NoError(t, h.MaybeCompact(context.Background()))

	// A single oversized entry survives; the transcript never goes empty.
	assert.Equal(t, 1, h.Len())
}

func seedStoredConversation(t *testing.T, store *memStore, contents []string) *domain.Conversation {
	t.Helper()
	conv := &domain.Conversation{
		ID:        "conv-1",
		OwnerID:   "user-1",
		Title:     "existing",
		CreatedAt: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	role := domain.RoleUser
	for i, content := range contents {
		require.NoError(t, store.InsertMessage(context.Background(), &domain.Message{
			ID:             conv.ID + "-m" + string(rune('1'+i)),
			ConversationID: conv.ID,
			Role:           role,
			Content:        content,
			CreatedAt:      conv.CreatedAt.Add(time.Duration(i) * time.Minute),
		}))
		if role == domain.RoleUser {
			role = domain.RoleAssistant
		} else {
			role = domain.RoleUser
		}
	}
	return conv
}

func TestHistory_LoadsExistingMessagesInOrder(t *testing.T) {
	store := newMemStore()
	conv := seedStoredConversation(t, store, []string{"first", "second", "third", "fourth"})

	h, err := NewHistory(context.Background(), conv, &fakeGenerator{}, store, HistoryConfig{TokenBudget: 100})
	require.NoError(t, err)

	msgs := h.ChatMessages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "fourth", msgs[3].Content)

	// Loaded entries count as persisted: a flush re-inserts nothing.
	require.NoError(t, h.Flush(context.Background()))
	assert.Len(t, store.messagesFor("conv-1"), 4)
}

func TestHistory_LoadStopsAtTokenBudget(t *testing.T) {
	store := newMemStore()
	conv := seedStoredConversation(t, store, []string{
		"aa bb cc", "dd ee ff", "gg hh ii",
	})

	h, err := NewHistory(context.Background(), conv, &fakeGenerator{}, store, HistoryConfig{TokenBudget: 5})
	require.NoError(t, err)

	// Only the most recent message fits the 5-token budget.
	msgs := h.ChatMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "gg hh ii", msgs[0].Content)
}

func TestHistory_LoadStopsAtCompactionBoundaryAndInjectsSummary(t *testing.T) {
	store := newMemStore()
	conv := seedStoredConversation(t, store, []string{"first", "second", "third", "fourth"})
	conv.CompactionSummary = "earlier discussion about pensions"
	conv.CompactionMessageID = "conv-1-m3"

	h, err := NewHistory(context.Background(), conv, &fakeGenerator{}, store, HistoryConfig{TokenBudget: 100})
	require.NoError(t, err)

	msgs := h.ChatMessages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "(earlier summary) earlier discussion about pensions", msgs[0].Content)
	assert.Equal(t, "third", msgs[1].Content)
	assert.Equal(t, "fourth", msgs[2].Content)

	// The synthetic summary entry is never written back to the store.
	require.NoError(t, h.Flush(context.Background()))
	assert.Len(t, store.messagesFor("conv-1"), 4)
}
