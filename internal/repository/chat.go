package repository

import (
	"context"
	"time"

	"campus_chat/internal/domain"
)

// ChatRepository хранит личные переписки. Все реализации обязаны
// обеспечивать одну переписку на неупорядоченную пару участников и
// порядок сообщений по времени добавления.
type ChatRepository interface {
	FindByParticipants(ctx context.Context, a, b string) (*domain.Conversation, error)
	GetByID(ctx context.Context, chatID string) (*domain.Conversation, error)
	// AppendMessage находит или создает переписку пары Sender/Recipient и
	// добавляет сообщение одной атомарной операцией.
	AppendMessage(ctx context.Context, msg domain.Message) (*AppendResult, error)
	MarkRead(ctx context.Context, chatID, userID string) (int64, error)
	UpdateMessageText(ctx context.Context, chatID, messageID, senderID, text string, at time.Time) (*domain.Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID, senderID string, at time.Time) error
	DeleteConversation(ctx context.Context, chatID string) error
	ListForUser(ctx context.Context, userID string) ([]domain.ConversationSummary, error)
}

type AppendResult struct {
	ChatID  string
	Message domain.Message
	Created bool
}
