package realtime

import (
	"context"
	"fmt"
	"strings"

	"campus_chat/internal/domain"
	apperrors "campus_chat/pkg/errors"
)

func (g *Gateway) handleEnvelope(c *Client, env domain.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Panic while handling event", "panic", fmt.Sprint(r), "event", env.Type)
			c.Send(errorEnvelope(apperrors.CodeInternal, "internal server error", env.Type))
			g.metrics.event(metricLabel(env.Type), "panic")
		}
	}()

	if !c.allowEvent() {
		c.Send(errorEnvelope(apperrors.CodeRateLimited, "too many events, slow down", env.Type))
		g.metrics.event(metricLabel(env.Type), "rate_limited")
		return
	}

	ctx, cancel := context.WithTimeout(g.ctx, eventTimeout)
	defer cancel()

	var err error
	switch env.Type {
	case domain.EventUserConnected:
		err = g.onUserConnected(c, env)
	case domain.EventSendMessage:
		err = g.onSendMessage(ctx, c, env)
	case domain.EventTyping, domain.EventStopTyping:
		err = g.onTyping(c, env)
	case domain.EventMarkRead:
		err = g.onMarkRead(ctx, c, env)
	case domain.EventEditMessage:
		err = g.onEditMessage(ctx, c, env)
	case domain.EventDeleteMessage:
		err = g.onDeleteMessage(ctx, c, env)
	default:
		c.Send(errorEnvelope(apperrors.CodeUnknownEvent, "unknown event type", env.Type))
		g.metrics.event("unknown", "error")
		return
	}

	if err != nil {
		g.metrics.event(env.Type, "error")
		g.emitError(c, env.Type, err)
		return
	}
	g.metrics.event(env.Type, "ok")
}

type identityError struct {
	code string
	msg  string
}

func (e *identityError) Error() string { return e.msg }

func (g *Gateway) emitError(c *Client, event string, err error) {
	if ie, ok := err.(*identityError); ok {
		c.Send(errorEnvelope(ie.code, ie.msg, event))
		return
	}
	g.sendError(c, event, err)
}

// actingAs проверяет, что действие выполняется от имени пользователя,
// привязанного к соединению. Пустой claimed означает "от своего имени".
func actingAs(c *Client, claimed string) (string, error) {
	bound := c.UserID()
	if bound == "" {
		return "", &identityError{code: apperrors.CodeNotIdentified, msg: errNotIdentified.Error()}
	}
	claimed = strings.TrimSpace(claimed)
	if claimed != "" && claimed != bound {
		return "", &identityError{code: apperrors.CodeIdentityMismatch, msg: "payload user does not match the connection identity"}
	}
	return bound, nil
}

func decode(env domain.Envelope, v interface{}) error {
	if err := env.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid %s payload", apperrors.ErrBadRequest, env.Type)
	}
	return nil
}

func (g *Gateway) onUserConnected(c *Client, env domain.Envelope) error {
	var p domain.UserConnectedPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	claimed := strings.TrimSpace(p.UserID)

	userID := claimed
	if auth := c.AuthUserID(); auth != "" {
		if claimed != "" && claimed != auth {
			return &identityError{code: apperrors.CodeIdentityMismatch, msg: "userId does not match the authenticated user"}
		}
		userID = auth
	}
	if !domain.ValidUserID(userID) {
		return fmt.Errorf("%w: userId is required", apperrors.ErrBadRequest)
	}
	if bound := c.UserID(); bound != "" && bound != userID {
		return &identityError{code: apperrors.CodeIdentityMismatch, msg: "connection is already identified as another user"}
	}

	c.bindUser(userID)
	if prev := g.presence.Register(userID, c); prev != nil {
		c.log.Debug("Connection superseded previous one", "user_id", userID, "previous_conn_id", prev.ID())
	}
	c.log.Info("User online", "user_id", userID)
	g.broadcastStatus(userID, domain.StatusOnline)
	return nil
}

func (g *Gateway) onSendMessage(ctx context.Context, c *Client, env domain.Envelope) error {
	var p domain.SendMessagePayload
	if err := decode(env, &p); err != nil {
		return err
	}
	sender, err := actingAs(c, p.SenderID)
	if err != nil {
		return err
	}

	res, err := g.chat.SendMessage(ctx, sender, strings.TrimSpace(p.RecipientID), p.Text)
	if err != nil {
		return err
	}

	// Сообщение уже сохранено; доставка получателю только если он онлайн.
	g.MessageSent(res.ChatID, res.Message)
	g.reply(c, domain.EventMessageSent, domain.MessagePayload{ChatID: res.ChatID, Message: res.Message})
	return nil
}

func (g *Gateway) onTyping(c *Client, env domain.Envelope) error {
	var p domain.TypingPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	sender, err := actingAs(c, p.SenderID)
	if err != nil {
		return err
	}
	recipient := strings.TrimSpace(p.RecipientID)
	if recipient == "" {
		return fmt.Errorf("%w: recipientId is required", apperrors.ErrBadRequest)
	}

	g.deliverToUser(recipient, env.Type, domain.TypingPayload{SenderID: sender})
	return nil
}

func (g *Gateway) onMarkRead(ctx context.Context, c *Client, env domain.Envelope) error {
	var p domain.MarkReadPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	userID, err := actingAs(c, p.UserID)
	if err != nil {
		return err
	}

	res, err := g.chat.MarkRead(ctx, strings.TrimSpace(p.ChatID), userID)
	if err != nil {
		return err
	}

	g.MessagesRead(res.ChatID, res.ReadBy, res.Peer)
	return nil
}

func (g *Gateway) onEditMessage(ctx context.Context, c *Client, env domain.Envelope) error {
	var p domain.EditMessagePayload
	if err := decode(env, &p); err != nil {
		return err
	}
	sender, err := actingAs(c, p.SenderID)
	if err != nil {
		return err
	}

	res, err := g.chat.EditMessage(ctx, strings.TrimSpace(p.ChatID), strings.TrimSpace(p.MessageID), sender, p.Text)
	if err != nil {
		return err
	}

	g.MessageEdited(res.ChatID, res.Message, res.Recipient)
	g.reply(c, domain.EventMessageEdited, editedPayload(res.ChatID, res.Message))
	return nil
}

func (g *Gateway) onDeleteMessage(ctx context.Context, c *Client, env domain.Envelope) error {
	var p domain.DeleteMessagePayload
	if err := decode(env, &p); err != nil {
		return err
	}
	sender, err := actingAs(c, p.SenderID)
	if err != nil {
		return err
	}

	res, err := g.chat.DeleteMessage(ctx, strings.TrimSpace(p.ChatID), strings.TrimSpace(p.MessageID), sender)
	if err != nil {
		return err
	}

	g.MessageDeleted(res.ChatID, res.MessageID, res.Recipient)
	g.reply(c, domain.EventMessageDeleted, domain.MessageDeletedPayload{ChatID: res.ChatID, MessageID: res.MessageID})
	return nil
}

func editedPayload(chatID string, msg domain.Message) domain.MessageEditedPayload {
	return domain.MessageEditedPayload{ChatID: chatID, MessageID: msg.ID, Text: msg.Text}
}

func metricLabel(eventType string) string {
	switch eventType {
	case domain.EventUserConnected, domain.EventSendMessage, domain.EventTyping, domain.EventStopTyping,
		domain.EventMarkRead, domain.EventEditMessage, domain.EventDeleteMessage:
		return eventType
	default:
		return "unknown"
	}
}
