package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sowelni/medbot/internal/domain"
)

type ConversationRepository struct {
	db dbtx
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: pool}
}

func NewConversationRepositoryWithTx(tx pgx.Tx) *ConversationRepository {
	return &ConversationRepository{db: tx}
}

// Save upserts a conversation, stamping timestamps on the way in.
func (r *ConversationRepository) Save(ctx context.Context, c *domain.Conversation) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := r.db.Exec(ctx,
		`INSERT INTO conversations (id, owner_id, title, compaction_summary, compaction_message_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			compaction_summary = EXCLUDED.compaction_summary,
			compaction_message_id = EXCLUDED.compaction_message_id,
			updated_at = EXCLUDED.updated_at`,
		c.ID, c.OwnerID, c.Title, c.CompactionSummary, nullableString(c.CompactionMessageID), c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	var compactionMessageID *string
	err := r.db.QueryRow(ctx,
		`SELECT id, owner_id, title, compaction_summary, compaction_message_id, created_at, updated_at
		 FROM conversations WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.OwnerID, &c.Title, &c.CompactionSummary, &compactionMessageID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}
	if compactionMessageID != nil {
		c.CompactionMessageID = *compactionMessageID
	}
	return &c, nil
}

// ListByOwner returns an owner's conversations, most recently active first.
func (r *ConversationRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*domain.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, owner_id, title, compaction_summary, compaction_message_id, created_at, updated_at
		 FROM conversations WHERE owner_id = $1
		 ORDER BY updated_at DESC LIMIT $2`,
		ownerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		var compactionMessageID *string
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Title, &c.CompactionSummary, &compactionMessageID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if compactionMessageID != nil {
			c.CompactionMessageID = *compactionMessageID
		}
		convs = append(convs, &c)
	}
	return convs, rows.Err()
}

// Delete removes a conversation; its messages cascade.
func (r *ConversationRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}
