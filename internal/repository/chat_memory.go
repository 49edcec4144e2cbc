package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"campus_chat/internal/domain"
	apperrors "campus_chat/pkg/errors"
	"campus_chat/pkg/logger"
)

type memoryChatRepository struct {
	mu     sync.RWMutex
	byID   map[string]*domain.Conversation
	byPair map[string]string
	log    logger.Logger
}

func NewMemoryChatRepository(log logger.Logger) ChatRepository {
	return &memoryChatRepository{
		byID:   make(map[string]*domain.Conversation),
		byPair: make(map[string]string),
		log:    log,
	}
}

func (r *memoryChatRepository) FindByParticipants(ctx context.Context, a, b string) (*domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPair[domain.PairKey(a, b)]
	if !ok {
		return nil, fmt.Errorf("%w: conversation", apperrors.ErrNotFound)
	}
	return cloneConversation(r.byID[id]), nil
}

func (r *memoryChatRepository) GetByID(ctx context.Context, chatID string) (*domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.byID[chatID]
	if !ok {
		return nil, fmt.Errorf("%w: conversation %s", apperrors.ErrNotFound, chatID)
	}
	return cloneConversation(conv), nil
}

func (r *memoryChatRepository) AppendMessage(ctx context.Context, msg domain.Message) (*AppendResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := domain.PairKey(msg.Sender, msg.Recipient)
	created := false
	id, ok := r.byPair[key]
	if !ok {
		a, b := domain.CanonicalPair(msg.Sender, msg.Recipient)
		id = uuid.NewString()
		r.byID[id] = &domain.Conversation{
			ID:           id,
			Participants: [2]string{a, b},
			CreatedAt:    msg.CreatedAt,
			UpdatedAt:    msg.CreatedAt,
		}
		r.byPair[key] = id
		created = true
	}

	conv := r.byID[id]
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = msg.CreatedAt

	return &AppendResult{ChatID: id, Message: msg, Created: created}, nil
}

func (r *memoryChatRepository) MarkRead(ctx context.Context, chatID, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.byID[chatID]
	if !ok {
		return 0, fmt.Errorf("%w: conversation %s", apperrors.ErrNotFound, chatID)
	}

	var n int64
	for i := range conv.Messages {
		if conv.Messages[i].Recipient == userID && !conv.Messages[i].Read {
			conv.Messages[i].Read = true
			n++
		}
	}
	return n, nil
}

func (r *memoryChatRepository) UpdateMessageText(ctx context.Context, chatID, messageID, senderID, text string, at time.Time) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.byID[chatID]
	if !ok {
		return nil, fmt.Errorf("%w: conversation %s", apperrors.ErrNotFound, chatID)
	}
	msg, ok := conv.FindMessage(messageID)
	if !ok || msg.Sender != senderID {
		return nil, fmt.Errorf("%w: message %s", apperrors.ErrNotFound, messageID)
	}

	editedAt := at
	msg.Text = text
	msg.EditedAt = &editedAt
	conv.UpdatedAt = at

	out := *msg
	return &out, nil
}

func (r *memoryChatRepository) DeleteMessage(ctx context.Context, chatID, messageID, senderID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.byID[chatID]
	if !ok {
		return fmt.Errorf("%w: conversation %s", apperrors.ErrNotFound, chatID)
	}
	for i, m := range conv.Messages {
		if m.ID == messageID && m.Sender == senderID {
			conv.Messages = append(conv.Messages[:i], conv.Messages[i+1:]...)
			conv.UpdatedAt = at
			return nil
		}
	}
	return fmt.Errorf("%w: message %s", apperrors.ErrNotFound, messageID)
}

func (r *memoryChatRepository) DeleteConversation(ctx context.Context, chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.byID[chatID]
	if !ok {
		return fmt.Errorf("%w: conversation %s", apperrors.ErrNotFound, chatID)
	}
	delete(r.byPair, domain.PairKey(conv.Participants[0], conv.Participants[1]))
	delete(r.byID, chatID)
	return nil
}

func (r *memoryChatRepository) ListForUser(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ConversationSummary, 0)
	for _, conv := range r.byID {
		if conv.HasParticipant(userID) {
			out = append(out, conv.Summary(userID))
		}
	}
	sortSummaries(out)
	return out, nil
}

func sortSummaries(list []domain.ConversationSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].UpdatedAt.After(list[j].UpdatedAt)
		}
		return list[i].ChatID < list[j].ChatID
	})
}

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	out := *c
	out.Messages = make([]domain.Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return &out
}
