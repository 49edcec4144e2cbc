package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"campus_chat/internal/domain"
	"campus_chat/internal/middleware"
	"campus_chat/internal/repository"
	"campus_chat/internal/service"
	"campus_chat/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type notification struct {
	kind   string
	chatID string
	target string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
}

func (n *recordingNotifier) add(kind, chatID, target string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{kind: kind, chatID: chatID, target: target})
}

func (n *recordingNotifier) MessageSent(chatID string, msg domain.Message) {
	n.add("sent", chatID, msg.Recipient)
}

func (n *recordingNotifier) MessagesRead(chatID, readBy, peer string) {
	n.add("read", chatID, peer)
}

func (n *recordingNotifier) MessageEdited(chatID string, msg domain.Message, recipient string) {
	n.add("edited", chatID, recipient)
}

func (n *recordingNotifier) MessageDeleted(chatID, messageID, recipient string) {
	n.add("deleted", chatID, recipient)
}

func (n *recordingNotifier) last() notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.calls) == 0 {
		return notification{}
	}
	return n.calls[len(n.calls)-1]
}

type testAPI struct {
	router   *gin.Engine
	notifier *recordingNotifier
}

// newTestAPI подставляет пользователя из заголовка X-User вместо проверки JWT.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	log := logger.Nop()
	chat := service.NewChatService(repository.NewMemoryChatRepository(log), nil, log)
	notifier := &recordingNotifier{}
	h := NewChatHandler(chat, notifier, log)

	r := gin.New()
	r.Use(middleware.ErrorHandler(log))
	api := r.Group("/api/v1", func(c *gin.Context) {
		if user := c.GetHeader("X-User"); user != "" {
			c.Set(middleware.ContextUserID, user)
		}
		c.Next()
	})
	api.GET("/conversations", h.ListConversations)
	api.GET("/history/:recipientId", h.GetHistory)
	api.POST("/messages", h.SendMessage)
	api.PUT("/conversations/:chatId/read", h.MarkRead)
	api.PUT("/conversations/:chatId/messages/:messageId", h.EditMessage)
	api.DELETE("/conversations/:chatId/messages/:messageId", h.DeleteMessage)
	api.DELETE("/conversations/:chatId", h.DeleteConversation)

	return &testAPI{router: r, notifier: notifier}
}

func (a *testAPI) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User", user)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) send(t *testing.T, from, to, text string) domain.MessagePayload {
	t.Helper()

	w := a.do(t, http.MethodPost, "/api/v1/messages", from, SendMessageRequest{RecipientID: to, Text: text})
	if w.Code != http.StatusCreated {
		t.Fatalf("send: status %d body %s", w.Code, w.Body.String())
	}
	var out domain.MessagePayload
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode send response: %v", err)
	}
	return out
}

func TestSendMessageAndList(t *testing.T) {
	api := newTestAPI(t)

	first := api.send(t, "alice", "bob", "hi")
	if first.ChatID == "" || first.Message.Sender != "alice" || first.Message.Read {
		t.Fatalf("unexpected message %+v", first)
	}
	if got := api.notifier.last(); got.kind != "sent" || got.target != "bob" {
		t.Fatalf("notification = %+v", got)
	}

	second := api.send(t, "bob", "alice", "hey")
	if second.ChatID != first.ChatID {
		t.Fatalf("pair split into two chats: %s vs %s", first.ChatID, second.ChatID)
	}

	w := api.do(t, http.MethodGet, "/api/v1/conversations", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status %d", w.Code)
	}
	var list []domain.ConversationSummary
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].Participant != "bob" || list[0].UnreadCount != 1 {
		t.Fatalf("list = %+v", list)
	}
	if list[0].LastMessage == nil || list[0].LastMessage.Text != "hey" {
		t.Fatalf("last message = %+v", list[0].LastMessage)
	}
}

func TestSendMessageValidation(t *testing.T) {
	api := newTestAPI(t)

	cases := []struct {
		name string
		user string
		body interface{}
		want int
	}{
		{"missing text", "alice", map[string]string{"recipientId": "bob"}, http.StatusBadRequest},
		{"blank text", "alice", SendMessageRequest{RecipientID: "bob", Text: "   "}, http.StatusBadRequest},
		{"self chat", "alice", SendMessageRequest{RecipientID: "alice", Text: "me"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := api.do(t, http.MethodPost, "/api/v1/messages", tc.user, tc.body)
			if w.Code != tc.want {
				t.Fatalf("status %d, want %d (%s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestHistoryMarksIncomingRead(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/v1/history/bob", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("empty history: status %d", w.Code)
	}
	var empty domain.ChatHistory
	_ = json.Unmarshal(w.Body.Bytes(), &empty)
	if empty.ChatID != nil || len(empty.Messages) != 0 {
		t.Fatalf("empty history = %+v", empty)
	}

	sent := api.send(t, "bob", "alice", "ping")

	w = api.do(t, http.MethodGet, "/api/v1/history/bob", "alice", nil)
	var history domain.ChatHistory
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if history.ChatID == nil || *history.ChatID != sent.ChatID {
		t.Fatalf("chat id = %v, want %s", history.ChatID, sent.ChatID)
	}
	if len(history.Messages) != 1 || !history.Messages[0].Read {
		t.Fatalf("messages = %+v", history.Messages)
	}
	if got := api.notifier.last(); got.kind != "read" || got.target != "bob" {
		t.Fatalf("notification = %+v", got)
	}
}

func TestMarkReadEndpoint(t *testing.T) {
	api := newTestAPI(t)
	sent := api.send(t, "alice", "bob", "one")
	api.send(t, "alice", "bob", "two")

	w := api.do(t, http.MethodPut, "/api/v1/conversations/"+sent.ChatID+"/read", "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var out struct {
		ChatID        string `json:"chatId"`
		ReadBy        string `json:"readBy"`
		ModifiedCount int64  `json:"modifiedCount"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.ModifiedCount != 2 || out.ReadBy != "bob" {
		t.Fatalf("response = %+v", out)
	}

	w = api.do(t, http.MethodPut, "/api/v1/conversations/"+sent.ChatID+"/read", "mallory", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("outsider: status %d", w.Code)
	}
	w = api.do(t, http.MethodPut, "/api/v1/conversations/unknown/read", "bob", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown chat: status %d", w.Code)
	}
}

func TestEditAndDeleteMessage(t *testing.T) {
	api := newTestAPI(t)
	sent := api.send(t, "alice", "bob", "draft")
	path := "/api/v1/conversations/" + sent.ChatID + "/messages/" + sent.Message.ID

	w := api.do(t, http.MethodPut, path, "bob", EditMessageRequest{Text: "hijack"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("edit by recipient: status %d", w.Code)
	}

	w = api.do(t, http.MethodPut, path, "alice", EditMessageRequest{Text: "final"})
	if w.Code != http.StatusOK {
		t.Fatalf("edit: status %d body %s", w.Code, w.Body.String())
	}
	var edited domain.MessagePayload
	_ = json.Unmarshal(w.Body.Bytes(), &edited)
	if edited.Message.Text != "final" || edited.Message.EditedAt == nil {
		t.Fatalf("edited = %+v", edited.Message)
	}
	if got := api.notifier.last(); got.kind != "edited" || got.target != "bob" {
		t.Fatalf("notification = %+v", got)
	}

	w = api.do(t, http.MethodDelete, path, "bob", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("delete by recipient: status %d", w.Code)
	}
	w = api.do(t, http.MethodDelete, path, "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: status %d", w.Code)
	}
	w = api.do(t, http.MethodDelete, path, "alice", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete: status %d", w.Code)
	}
}

func TestDeleteConversationEndpoint(t *testing.T) {
	api := newTestAPI(t)
	sent := api.send(t, "alice", "bob", "bye")

	w := api.do(t, http.MethodDelete, "/api/v1/conversations/"+sent.ChatID, "mallory", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("outsider: status %d", w.Code)
	}
	w = api.do(t, http.MethodDelete, "/api/v1/conversations/"+sent.ChatID, "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: status %d", w.Code)
	}

	w = api.do(t, http.MethodGet, "/api/v1/conversations", "alice", nil)
	var list []domain.ConversationSummary
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if len(list) != 0 {
		t.Fatalf("list after delete = %+v", list)
	}
}
