package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"campus_chat/internal/domain"
	"campus_chat/internal/repository"
	apperrors "campus_chat/pkg/errors"
	"campus_chat/pkg/logger"
)

// ChatService - операции над личными переписками. Используется и
// socket-шлюзом, и REST обработчиками, поэтому вся валидация и проверка
// прав находится здесь.
type ChatService interface {
	SendMessage(ctx context.Context, senderID, recipientID, text string) (*SendResult, error)
	GetHistory(ctx context.Context, userID, peerID string) (*HistoryResult, error)
	ListChats(ctx context.Context, userID string) ([]domain.ConversationSummary, error)
	MarkRead(ctx context.Context, chatID, userID string) (*ReadResult, error)
	EditMessage(ctx context.Context, chatID, messageID, senderID, text string) (*EditResult, error)
	DeleteMessage(ctx context.Context, chatID, messageID, senderID string) (*DeleteResult, error)
	DeleteConversation(ctx context.Context, chatID, userID string) (*DeleteConversationResult, error)
}

type SendResult struct {
	ChatID  string
	Message domain.Message
	Created bool
}

type HistoryResult struct {
	History    domain.ChatHistory
	Peer       string
	MarkedRead int64
}

type ReadResult struct {
	ChatID   string
	ReadBy   string
	Peer     string
	Modified int64
}

type EditResult struct {
	ChatID    string
	Message   domain.Message
	Recipient string
}

type DeleteResult struct {
	ChatID    string
	MessageID string
	Recipient string
}

type DeleteConversationResult struct {
	ChatID string
	Peer   string
}

type chatService struct {
	chatRepo repository.ChatRepository
	audit    AuditService
	now      func() time.Time
	log      logger.Logger
}

func NewChatService(chatRepo repository.ChatRepository, audit AuditService, log logger.Logger) ChatService {
	return &chatService{
		chatRepo: chatRepo,
		audit:    audit,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		log:      log,
	}
}

func (s *chatService) SendMessage(ctx context.Context, senderID, recipientID, text string) (*SendResult, error) {
	senderID, recipientID, err := validatePair(senderID, recipientID)
	if err != nil {
		return nil, err
	}
	text, ok := domain.NormalizeText(text)
	if !ok {
		return nil, fmt.Errorf("%w: message text must be 1..%d characters", apperrors.ErrBadRequest, domain.MaxMessageLength)
	}

	now := s.now()
	msg := domain.Message{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Sender:    senderID,
		Recipient: recipientID,
		Text:      text,
		CreatedAt: now,
	}

	res, err := s.chatRepo.AppendMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	if res.Created {
		s.log.Debug("Conversation created", "chat_id", res.ChatID, "sender", senderID, "recipient", recipientID)
	}

	return &SendResult{ChatID: res.ChatID, Message: res.Message, Created: res.Created}, nil
}

func (s *chatService) GetHistory(ctx context.Context, userID, peerID string) (*HistoryResult, error) {
	userID, peerID, err := validatePair(userID, peerID)
	if err != nil {
		return nil, err
	}

	conv, err := s.chatRepo.FindByParticipants(ctx, userID, peerID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return &HistoryResult{
			History: domain.ChatHistory{Messages: []domain.Message{}},
			Peer:    peerID,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	if !conv.HasParticipant(userID) || !conv.HasParticipant(peerID) {
		return nil, fmt.Errorf("%w: conversation does not belong to this pair", apperrors.ErrInternalServer)
	}

	// Открытие истории считается прочтением входящих сообщений.
	var marked int64
	if conv.UnreadFor(userID) > 0 {
		marked, err = s.chatRepo.MarkRead(ctx, conv.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("mark read: %w", err)
		}
		for i := range conv.Messages {
			if conv.Messages[i].Recipient == userID {
				conv.Messages[i].Read = true
			}
		}
	}

	chatID := conv.ID
	return &HistoryResult{
		History:    domain.ChatHistory{ChatID: &chatID, Messages: conv.Messages},
		Peer:       peerID,
		MarkedRead: marked,
	}, nil
}

func (s *chatService) ListChats(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	if !domain.ValidUserID(userID) {
		return nil, fmt.Errorf("%w: user id is required", apperrors.ErrBadRequest)
	}
	list, err := s.chatRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return list, nil
}

func (s *chatService) MarkRead(ctx context.Context, chatID, userID string) (*ReadResult, error) {
	conv, err := s.participantConversation(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}

	n, err := s.chatRepo.MarkRead(ctx, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}

	return &ReadResult{ChatID: chatID, ReadBy: userID, Peer: conv.Peer(userID), Modified: n}, nil
}

func (s *chatService) EditMessage(ctx context.Context, chatID, messageID, senderID, text string) (*EditResult, error) {
	text, ok := domain.NormalizeText(text)
	if !ok {
		return nil, fmt.Errorf("%w: message text must be 1..%d characters", apperrors.ErrBadRequest, domain.MaxMessageLength)
	}

	msg, err := s.ownedMessage(ctx, chatID, messageID, senderID, "edit")
	if err != nil {
		return nil, err
	}

	updated, err := s.chatRepo.UpdateMessageText(ctx, chatID, messageID, senderID, text, s.now())
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}

	s.logAudit(ctx, senderID, chatID, domain.EventTypeMessageEdited, map[string]interface{}{
		"message_id": messageID,
		"old_text":   msg.Text,
	})

	return &EditResult{ChatID: chatID, Message: *updated, Recipient: updated.Recipient}, nil
}

func (s *chatService) DeleteMessage(ctx context.Context, chatID, messageID, senderID string) (*DeleteResult, error) {
	msg, err := s.ownedMessage(ctx, chatID, messageID, senderID, "delete")
	if err != nil {
		return nil, err
	}

	if err := s.chatRepo.DeleteMessage(ctx, chatID, messageID, senderID, s.now()); err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}

	s.logAudit(ctx, senderID, chatID, domain.EventTypeMessageDeleted, map[string]interface{}{
		"message_id": messageID,
	})

	return &DeleteResult{ChatID: chatID, MessageID: messageID, Recipient: msg.Recipient}, nil
}

func (s *chatService) DeleteConversation(ctx context.Context, chatID, userID string) (*DeleteConversationResult, error) {
	conv, err := s.participantConversation(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}

	if err := s.chatRepo.DeleteConversation(ctx, chatID); err != nil {
		return nil, fmt.Errorf("delete conversation: %w", err)
	}

	s.logAudit(ctx, userID, chatID, domain.EventTypeConversationDeleted, map[string]interface{}{
		"messages": len(conv.Messages),
	})

	return &DeleteConversationResult{ChatID: chatID, Peer: conv.Peer(userID)}, nil
}

func (s *chatService) participantConversation(ctx context.Context, chatID, userID string) (*domain.Conversation, error) {
	if strings.TrimSpace(chatID) == "" || !domain.ValidUserID(userID) {
		return nil, fmt.Errorf("%w: chat id and user id are required", apperrors.ErrBadRequest)
	}

	conv, err := s.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, fmt.Errorf("%w: not a participant of this chat", apperrors.ErrForbidden)
	}
	return conv, nil
}

// ownedMessage загружает сообщение и проверяет, что senderID - его автор.
func (s *chatService) ownedMessage(ctx context.Context, chatID, messageID, senderID, action string) (*domain.Message, error) {
	if strings.TrimSpace(chatID) == "" || strings.TrimSpace(messageID) == "" || !domain.ValidUserID(senderID) {
		return nil, fmt.Errorf("%w: chat id, message id and sender id are required", apperrors.ErrBadRequest)
	}

	conv, err := s.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	msg, ok := conv.FindMessage(messageID)
	if !ok {
		return nil, fmt.Errorf("%w: message %s", apperrors.ErrNotFound, messageID)
	}
	if msg.Sender != senderID {
		s.log.Warn("Rejected message "+action+" by non-sender", "chat_id", chatID, "message_id", messageID, "user_id", senderID)
		return nil, fmt.Errorf("%w: only the sender can %s this message", apperrors.ErrForbidden, action)
	}
	return msg, nil
}

func (s *chatService) logAudit(ctx context.Context, actor, chatID, eventType string, payload map[string]interface{}) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogEvent(ctx, actor, chatID, eventType, payload); err != nil {
		s.log.Warn("Failed to write audit log", "error", err, "event_type", eventType, "chat_id", chatID)
	}
}

// validatePair проверяет пару и возвращает id без окружающих пробелов.
func validatePair(a, b string) (string, string, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if !domain.ValidUserID(a) || !domain.ValidUserID(b) {
		return "", "", fmt.Errorf("%w: sender and recipient ids are required", apperrors.ErrBadRequest)
	}
	if a == b {
		return "", "", fmt.Errorf("%w: cannot start a conversation with yourself", apperrors.ErrBadRequest)
	}
	return a, b, nil
}
