package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sowelni/medbot/internal/domain"
)

// ChatStore bundles conversation and message persistence behind the single
// surface the history manager writes through.
type ChatStore struct {
	conversations *ConversationRepository
	messages      *MessageRepository
}

func NewChatStore(pool *pgxpool.Pool) *ChatStore {
	return &ChatStore{
		conversations: NewConversationRepository(pool),
		messages:      NewMessageRepository(pool),
	}
}

func (s *ChatStore) SaveConversation(ctx context.Context, conv *domain.Conversation) error {
	return s.conversations.Save(ctx, conv)
}

func (s *ChatStore) InsertMessage(ctx context.Context, msg *domain.Message) error {
	return s.messages.Insert(ctx, msg)
}

func (s *ChatStore) ListMessagesDesc(ctx context.Context, conversationID string, before *time.Time, limit int) ([]*domain.Message, error) {
	return s.messages.ListDesc(ctx, conversationID, before, limit)
}
