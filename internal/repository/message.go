package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sowelni/medbot/internal/domain"
)

type MessageRepository struct {
	db dbtx
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: pool}
}

func NewMessageRepositoryWithTx(tx pgx.Tx) *MessageRepository {
	return &MessageRepository{db: tx}
}

func (r *MessageRepository) Insert(ctx context.Context, m *domain.Message) error {
	if err := domain.ValidateRole(m.Role); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, context, rating, feedback, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ConversationID, m.Role, m.Content, m.Context, m.Rating, m.Feedback, m.CreatedAt,
	)
	return err
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	var m domain.Message
	err := r.db.QueryRow(ctx,
		`SELECT id, conversation_id, role, content, context, rating, feedback, created_at
		 FROM messages WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Context, &m.Rating, &m.Feedback, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListDesc returns up to limit messages of a conversation, newest first,
// strictly older than before when set.
func (r *MessageRepository) ListDesc(ctx context.Context, conversationID string, before *time.Time, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows pgx.Rows
	var err error
	if before != nil {
		rows, err = r.db.Query(ctx,
			`SELECT id, conversation_id, role, content, context, rating, feedback, created_at
			 FROM messages
			 WHERE conversation_id = $1 AND created_at < $2
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3`,
			conversationID, *before, limit,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT id, conversation_id, role, content, context, rating, feedback, created_at
			 FROM messages
			 WHERE conversation_id = $1
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`,
			conversationID, limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Context, &m.Rating, &m.Feedback, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// SetRating stores a thumbs-up or thumbs-down on an assistant message.
func (r *MessageRepository) SetRating(ctx context.Context, id string, rating bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE messages SET rating = $2 WHERE id = $1`,
		id, rating,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// SetFeedback stores free-form feedback text on a message.
func (r *MessageRepository) SetFeedback(ctx context.Context, id string, feedback string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE messages SET feedback = $2 WHERE id = $1`,
		id, feedback,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}
