package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"campus_chat/internal/domain"
	apperrors "campus_chat/pkg/errors"
	"campus_chat/pkg/logger"
)

const chatSchema = `
CREATE TABLE IF NOT EXISTS chat_conversations (
	id            TEXT PRIMARY KEY,
	participant_a TEXT COLLATE "C" NOT NULL,
	participant_b TEXT COLLATE "C" NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	CONSTRAINT chat_conversations_pair UNIQUE (participant_a, participant_b),
	CONSTRAINT chat_conversations_order CHECK (participant_a < participant_b)
);

CREATE INDEX IF NOT EXISTS chat_conversations_b_idx ON chat_conversations (participant_b);

CREATE TABLE IF NOT EXISTS chat_direct_messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES chat_conversations (id) ON DELETE CASCADE,
	seq             BIGINT GENERATED ALWAYS AS IDENTITY,
	sender_id       TEXT NOT NULL,
	recipient_id    TEXT NOT NULL,
	text            TEXT NOT NULL,
	read            BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL,
	edited_at       TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS chat_direct_messages_seq_idx ON chat_direct_messages (conversation_id, seq);
CREATE INDEX IF NOT EXISTS chat_direct_messages_unread_idx ON chat_direct_messages (conversation_id, recipient_id) WHERE NOT read;

CREATE TABLE IF NOT EXISTS chat_audit_log (
	id            BIGSERIAL PRIMARY KEY,
	event_time    TIMESTAMPTZ NOT NULL,
	actor_user_id TEXT NOT NULL,
	chat_id       TEXT,
	event_type    TEXT NOT NULL,
	payload       JSONB NOT NULL DEFAULT '{}'::jsonb
);
`

const messageColumns = `id, sender_id, recipient_id, text, read, created_at, edited_at`

type postgresChatRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewPostgresChatRepository(db *pgxpool.Pool, log logger.Logger) ChatRepository {
	return &postgresChatRepository{db: db, log: log}
}

// EnsureSchema создает таблицы чата, если их еще нет.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, chatSchema); err != nil {
		return fmt.Errorf("ensure chat schema: %w", err)
	}
	return nil
}

func (r *postgresChatRepository) FindByParticipants(ctx context.Context, a, b string) (*domain.Conversation, error) {
	first, second := domain.CanonicalPair(a, b)

	var id string
	err := r.db.QueryRow(ctx,
		`SELECT id FROM chat_conversations WHERE participant_a = $1 AND participant_b = $2`,
		first, second,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: conversation", apperrors.ErrNotFound)
	}
	if err != nil {
		r.log.Error("Failed to find conversation", "error", err)
		return nil, err
	}

	return r.GetByID(ctx, id)
}

func (r *postgresChatRepository) GetByID(ctx context.Context, chatID string) (*domain.Conversation, error) {
	conv := &domain.Conversation{ID: chatID}
	err := r.db.QueryRow(ctx,
		`SELECT participant_a, participant_b, created_at, updated_at FROM chat_conversations WHERE id = $1`,
		chatID,
	).Scan(&conv.Participants[0], &conv.Participants[1], &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: conversation %s", apperrors.ErrNotFound, chatID)
	}
	if err != nil {
		r.log.Error("Failed to get conversation", "error", err, "chat_id", chatID)
		return nil, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+messageColumns+` FROM chat_direct_messages WHERE conversation_id = $1 ORDER BY seq`,
		chatID,
	)
	if err != nil {
		r.log.Error("Failed to get messages", "error", err, "chat_id", chatID)
		return nil, err
	}
	defer rows.Close()

	conv.Messages = make([]domain.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			r.log.Error("Failed to scan message", "error", err)
			return nil, err
		}
		conv.Messages = append(conv.Messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return conv, nil
}

func (r *postgresChatRepository) AppendMessage(ctx context.Context, msg domain.Message) (*AppendResult, error) {
	first, second := domain.CanonicalPair(msg.Sender, msg.Recipient)
	newID := uuid.NewString()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_conversations (id, participant_a, participant_b, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (participant_a, participant_b) DO NOTHING
	`, newID, first, second, msg.CreatedAt)
	if err != nil {
		r.log.Error("Failed to create conversation", "error", err)
		return nil, err
	}

	var chatID string
	err = tx.QueryRow(ctx,
		`SELECT id FROM chat_conversations WHERE participant_a = $1 AND participant_b = $2 FOR UPDATE`,
		first, second,
	).Scan(&chatID)
	if err != nil {
		r.log.Error("Failed to lock conversation", "error", err)
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_direct_messages (id, conversation_id, sender_id, recipient_id, text, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, chatID, msg.Sender, msg.Recipient, msg.Text, msg.Read, msg.CreatedAt)
	if err != nil {
		r.log.Error("Failed to create message", "error", err)
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE chat_conversations SET updated_at = $2 WHERE id = $1`, chatID, msg.CreatedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.log.Error("Failed to commit message", "error", err)
		return nil, err
	}

	return &AppendResult{ChatID: chatID, Message: msg, Created: chatID == newID}, nil
}

func (r *postgresChatRepository) MarkRead(ctx context.Context, chatID, userID string) (int64, error) {
	if err := r.ensureExists(ctx, chatID); err != nil {
		return 0, err
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE chat_direct_messages SET read = TRUE
		WHERE conversation_id = $1 AND recipient_id = $2 AND NOT read
	`, chatID, userID)
	if err != nil {
		r.log.Error("Failed to mark messages read", "error", err, "chat_id", chatID)
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *postgresChatRepository) UpdateMessageText(ctx context.Context, chatID, messageID, senderID, text string, at time.Time) (*domain.Message, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE chat_direct_messages SET text = $4, edited_at = $5
		WHERE conversation_id = $1 AND id = $2 AND sender_id = $3
		RETURNING `+messageColumns,
		chatID, messageID, senderID, text, at,
	)
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: message %s", apperrors.ErrNotFound, messageID)
	}
	if err != nil {
		r.log.Error("Failed to update message", "error", err)
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE chat_conversations SET updated_at = $2 WHERE id = $1`, chatID, at); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *postgresChatRepository) DeleteMessage(ctx context.Context, chatID, messageID, senderID string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM chat_direct_messages WHERE conversation_id = $1 AND id = $2 AND sender_id = $3`,
		chatID, messageID, senderID,
	)
	if err != nil {
		r.log.Error("Failed to delete message", "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: message %s", apperrors.ErrNotFound, messageID)
	}

	if _, err := tx.Exec(ctx, `UPDATE chat_conversations SET updated_at = $2 WHERE id = $1`, chatID, at); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *postgresChatRepository) DeleteConversation(ctx context.Context, chatID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM chat_conversations WHERE id = $1`, chatID)
	if err != nil {
		r.log.Error("Failed to delete conversation", "error", err, "chat_id", chatID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: conversation %s", apperrors.ErrNotFound, chatID)
	}
	return nil
}

func (r *postgresChatRepository) ListForUser(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	rows, err := r.db.Query(ctx, `
		SELECT c.id, c.participant_a, c.participant_b, c.updated_at,
		       lm.id, lm.sender_id, lm.recipient_id, lm.text, lm.read, lm.created_at, lm.edited_at,
		       (SELECT COUNT(*) FROM chat_direct_messages u
		         WHERE u.conversation_id = c.id AND u.recipient_id = $1 AND NOT u.read) AS unread
		FROM chat_conversations c
		LEFT JOIN LATERAL (
			SELECT `+messageColumns+` FROM chat_direct_messages m
			WHERE m.conversation_id = c.id
			ORDER BY m.seq DESC
			LIMIT 1
		) lm ON TRUE
		WHERE c.participant_a = $1 OR c.participant_b = $1
		ORDER BY c.updated_at DESC, c.id
	`, userID)
	if err != nil {
		r.log.Error("Failed to list conversations", "error", err, "user_id", userID)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ConversationSummary, 0)
	for rows.Next() {
		var (
			s                            domain.ConversationSummary
			a, b                         string
			msgID, sender, recipient, tx *string
			read                         *bool
			createdAt, editedAt          *time.Time
			unread                       int64
		)
		if err := rows.Scan(&s.ChatID, &a, &b, &s.UpdatedAt,
			&msgID, &sender, &recipient, &tx, &read, &createdAt, &editedAt, &unread); err != nil {
			r.log.Error("Failed to scan conversation", "error", err)
			return nil, err
		}

		s.Participant = a
		if a == userID {
			s.Participant = b
		}
		s.UnreadCount = int(unread)
		if msgID != nil {
			s.LastMessage = &domain.Message{
				ID:        *msgID,
				Sender:    *sender,
				Recipient: *recipient,
				Text:      *tx,
				Read:      *read,
				CreatedAt: *createdAt,
				EditedAt:  editedAt,
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *postgresChatRepository) ensureExists(ctx context.Context, chatID string) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chat_conversations WHERE id = $1)`, chatID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: conversation %s", apperrors.ErrNotFound, chatID)
	}
	return nil
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	msg := &domain.Message{}
	var editedAt *time.Time
	if err := row.Scan(&msg.ID, &msg.Sender, &msg.Recipient, &msg.Text, &msg.Read, &msg.CreatedAt, &editedAt); err != nil {
		return nil, err
	}
	msg.EditedAt = editedAt
	return msg, nil
}
