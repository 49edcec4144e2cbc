package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"campus_chat/internal/domain"
	"campus_chat/internal/middleware"
	"campus_chat/internal/service"
	"campus_chat/pkg/logger"
)

// ChatNotifier доставляет события онлайн участникам после REST операций.
type ChatNotifier interface {
	MessageSent(chatID string, msg domain.Message)
	MessagesRead(chatID, readBy, peer string)
	MessageEdited(chatID string, msg domain.Message, recipient string)
	MessageDeleted(chatID, messageID, recipient string)
}

type ChatHandler struct {
	chatService service.ChatService
	notifier    ChatNotifier
	log         logger.Logger
}

func NewChatHandler(chatService service.ChatService, notifier ChatNotifier, log logger.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		notifier:    notifier,
		log:         log,
	}
}

func (h *ChatHandler) ListConversations(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)

	list, err := h.chatService.ListChats(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, list)
}

func (h *ChatHandler) GetHistory(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)

	res, err := h.chatService.GetHistory(c.Request.Context(), userID, c.Param("recipientId"))
	if err != nil {
		c.Error(err)
		return
	}

	if res.MarkedRead > 0 && res.History.ChatID != nil {
		h.notifier.MessagesRead(*res.History.ChatID, userID, res.Peer)
	}

	c.JSON(http.StatusOK, res.History)
}

type SendMessageRequest struct {
	RecipientID string `json:"recipientId" binding:"required"`
	Text        string `json:"text" binding:"required"`
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.chatService.SendMessage(c.Request.Context(), c.GetString(middleware.ContextUserID), req.RecipientID, req.Text)
	if err != nil {
		c.Error(err)
		return
	}

	h.notifier.MessageSent(res.ChatID, res.Message)
	c.JSON(http.StatusCreated, domain.MessagePayload{ChatID: res.ChatID, Message: res.Message})
}

func (h *ChatHandler) MarkRead(c *gin.Context) {
	res, err := h.chatService.MarkRead(c.Request.Context(), c.Param("chatId"), c.GetString(middleware.ContextUserID))
	if err != nil {
		c.Error(err)
		return
	}

	h.notifier.MessagesRead(res.ChatID, res.ReadBy, res.Peer)
	c.JSON(http.StatusOK, gin.H{
		"chatId":        res.ChatID,
		"readBy":        res.ReadBy,
		"modifiedCount": res.Modified,
	})
}

type EditMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

func (h *ChatHandler) EditMessage(c *gin.Context) {
	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.chatService.EditMessage(c.Request.Context(),
		c.Param("chatId"), c.Param("messageId"), c.GetString(middleware.ContextUserID), req.Text)
	if err != nil {
		c.Error(err)
		return
	}

	h.notifier.MessageEdited(res.ChatID, res.Message, res.Recipient)
	c.JSON(http.StatusOK, domain.MessagePayload{ChatID: res.ChatID, Message: res.Message})
}

func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	res, err := h.chatService.DeleteMessage(c.Request.Context(),
		c.Param("chatId"), c.Param("messageId"), c.GetString(middleware.ContextUserID))
	if err != nil {
		c.Error(err)
		return
	}

	h.notifier.MessageDeleted(res.ChatID, res.MessageID, res.Recipient)
	c.JSON(http.StatusOK, domain.MessageDeletedPayload{ChatID: res.ChatID, MessageID: res.MessageID})
}

func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	res, err := h.chatService.DeleteConversation(c.Request.Context(), c.Param("chatId"), c.GetString(middleware.ContextUserID))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Conversation deleted", "chatId": res.ChatID})
}
