package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"campus_chat/internal/repository"
	apperrors "campus_chat/pkg/errors"
	"campus_chat/pkg/logger"
)

type recordingAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAudit) LogEvent(ctx context.Context, actor, chatID, eventType string, payload map[string]interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, eventType+":"+actor)
	return nil
}

func newTestChatService() (ChatService, repository.ChatRepository, *recordingAudit) {
	repo := repository.NewMemoryChatRepository(logger.Nop())
	audit := &recordingAudit{}
	return NewChatService(repo, audit, logger.Nop()), repo, audit
}

func TestSendMessageValidation(t *testing.T) {
	svc, _, _ := newTestChatService()
	ctx := context.Background()

	cases := []struct {
		name                   string
		sender, recipient, txt string
	}{
		{"empty text", "alice", "bob", "   "},
		{"missing recipient", "alice", "", "hi"},
		{"missing sender", "", "bob", "hi"},
		{"self", "alice", "alice", "hi"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SendMessage(ctx, tc.sender, tc.recipient, tc.txt)
			if !errors.Is(err, apperrors.ErrBadRequest) {
				t.Fatalf("expected ErrBadRequest, got %v", err)
			}
		})
	}
}

func TestSendMessageCreatesConversationLazily(t *testing.T) {
	svc, repo, _ := newTestChatService()
	ctx := context.Background()

	first, err := svc.SendMessage(ctx, "alice", "bob", "  hello  ")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !first.Created || first.Message.Text != "hello" || first.Message.Read {
		t.Fatalf("first = %+v", first)
	}

	second, err := svc.SendMessage(ctx, "bob", "alice", "hey")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if second.Created || second.ChatID != first.ChatID {
		t.Fatalf("second = %+v, first chat %s", second, first.ChatID)
	}
	if second.Message.ID <= first.Message.ID {
		t.Fatalf("message ids not increasing: %s then %s", first.Message.ID, second.Message.ID)
	}

	conv, err := repo.GetByID(ctx, first.ChatID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("stored %d messages", len(conv.Messages))
	}
}

func TestGetHistoryMarksIncomingRead(t *testing.T) {
	svc, _, _ := newTestChatService()
	ctx := context.Background()

	empty, err := svc.GetHistory(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if empty.History.ChatID != nil || len(empty.History.Messages) != 0 {
		t.Fatalf("history before first message = %+v", empty.History)
	}

	svc.SendMessage(ctx, "alice", "bob", "one")
	svc.SendMessage(ctx, "alice", "bob", "two")
	svc.SendMessage(ctx, "bob", "alice", "three")

	res, err := svc.GetHistory(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if res.History.ChatID == nil || res.MarkedRead != 2 {
		t.Fatalf("history = %+v, marked %d", res.History, res.MarkedRead)
	}
	for _, m := range res.History.Messages {
		if m.Recipient == "bob" && !m.Read {
			t.Fatalf("message %q to bob still unread", m.Text)
		}
		if m.Recipient == "alice" && m.Read {
			t.Fatalf("message %q to alice marked read", m.Text)
		}
	}

	again, _ := svc.GetHistory(ctx, "bob", "alice")
	if again.MarkedRead != 0 {
		t.Fatalf("second fetch marked %d", again.MarkedRead)
	}

	list, err := svc.ListChats(ctx, "bob")
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(list) != 1 || list[0].UnreadCount != 0 {
		t.Fatalf("bob's list = %+v", list)
	}
}

func TestMarkRead(t *testing.T) {
	svc, _, _ := newTestChatService()
	ctx := context.Background()

	sent, _ := svc.SendMessage(ctx, "alice", "bob", "ping")

	res, err := svc.MarkRead(ctx, sent.ChatID, "bob")
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if res.Modified != 1 || res.Peer != "alice" || res.ReadBy != "bob" {
		t.Fatalf("result = %+v", res)
	}

	if _, err := svc.MarkRead(ctx, sent.ChatID, "mallory"); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for outsider, got %v", err)
	}
	if _, err := svc.MarkRead(ctx, "missing", "bob"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEditMessageOnlyBySender(t *testing.T) {
	svc, repo, audit := newTestChatService()
	ctx := context.Background()

	sent, _ := svc.SendMessage(ctx, "alice", "bob", "hello")

	_, err := svc.EditMessage(ctx, sent.ChatID, sent.Message.ID, "bob", "hacked")
	if !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	conv, _ := repo.GetByID(ctx, sent.ChatID)
	if conv.Messages[0].Text != "hello" || conv.Messages[0].EditedAt != nil {
		t.Fatalf("unauthorized edit changed message: %+v", conv.Messages[0])
	}

	if _, err := svc.EditMessage(ctx, sent.ChatID, sent.Message.ID, "alice", " "); !errors.Is(err, apperrors.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for empty text, got %v", err)
	}
	if _, err := svc.EditMessage(ctx, sent.ChatID, "nope", "alice", "x"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	res, err := svc.EditMessage(ctx, sent.ChatID, sent.Message.ID, "alice", "hello, bob")
	if err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	if res.Message.Text != "hello, bob" || res.Message.EditedAt == nil || res.Recipient != "bob" {
		t.Fatalf("result = %+v", res)
	}
	if len(audit.events) != 1 || audit.events[0] != "MESSAGE_EDITED:alice" {
		t.Fatalf("audit = %v", audit.events)
	}
}

func TestDeleteMessageOnlyBySender(t *testing.T) {
	svc, repo, _ := newTestChatService()
	ctx := context.Background()

	sent, _ := svc.SendMessage(ctx, "alice", "bob", "oops")
	svc.SendMessage(ctx, "bob", "alice", "saw it")

	if _, err := svc.DeleteMessage(ctx, sent.ChatID, sent.Message.ID, "bob"); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	res, err := svc.DeleteMessage(ctx, sent.ChatID, sent.Message.ID, "alice")
	if err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if res.Recipient != "bob" || res.MessageID != sent.Message.ID {
		t.Fatalf("result = %+v", res)
	}

	conv, _ := repo.GetByID(ctx, sent.ChatID)
	if len(conv.Messages) != 1 || conv.Messages[0].Text != "saw it" {
		t.Fatalf("messages = %+v", conv.Messages)
	}
}

func TestDeleteConversationThenFreshChat(t *testing.T) {
	svc, _, _ := newTestChatService()
	ctx := context.Background()

	old, _ := svc.SendMessage(ctx, "alice", "bob", "first life")

	if _, err := svc.DeleteConversation(ctx, old.ChatID, "mallory"); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	res, err := svc.DeleteConversation(ctx, old.ChatID, "bob")
	if err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if res.Peer != "alice" {
		t.Fatalf("peer = %q", res.Peer)
	}

	fresh, err := svc.SendMessage(ctx, "alice", "bob", "second life")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !fresh.Created || fresh.ChatID == old.ChatID {
		t.Fatalf("expected new chat id, got %+v", fresh)
	}

	hist, _ := svc.GetHistory(ctx, "alice", "bob")
	if len(hist.History.Messages) != 1 {
		t.Fatalf("history carried over: %+v", hist.History.Messages)
	}
}

func TestPairIDsAreTrimmed(t *testing.T) {
	svc, _, _ := newTestChatService()
	ctx := context.Background()

	first, err := svc.SendMessage(ctx, "alice", " bob ", "one")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if first.Message.Recipient != "bob" {
		t.Fatalf("recipient stored as %q", first.Message.Recipient)
	}

	second, err := svc.SendMessage(ctx, "bob", "alice", "two")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if second.ChatID != first.ChatID {
		t.Fatalf("padded id split the pair: %s vs %s", first.ChatID, second.ChatID)
	}

	res, err := svc.GetHistory(ctx, "alice", "bob\t")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if res.History.ChatID == nil || *res.History.ChatID != first.ChatID || len(res.History.Messages) != 2 {
		t.Fatalf("history = %+v", res.History)
	}
}

func TestHistoryDoesNotCrossPairs(t *testing.T) {
	svc, _, _ := newTestChatService()
	ctx := context.Background()

	if _, err := svc.SendMessage(ctx, "a:z", "b", "private"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	res, err := svc.GetHistory(ctx, "a", "z:b")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if res.History.ChatID != nil || len(res.History.Messages) != 0 {
		t.Fatalf("history leaked another pair: %+v", res.History)
	}
}
