package realtime

import "campus_chat/internal/domain"

// Методы ниже доставляют события онлайн получателям. Их вызывают и
// обработчики socket событий, и REST обработчики после изменения данных.

func (g *Gateway) MessageSent(chatID string, msg domain.Message) {
	g.deliverToUser(msg.Recipient, domain.EventReceiveMessage, domain.MessagePayload{ChatID: chatID, Message: msg})
}

func (g *Gateway) MessagesRead(chatID, readBy, peer string) {
	g.deliverToUser(peer, domain.EventMessagesRead, domain.MessagesReadPayload{ChatID: chatID, ReadBy: readBy})
}

func (g *Gateway) MessageEdited(chatID string, msg domain.Message, recipient string) {
	g.deliverToUser(recipient, domain.EventMessageEdited, editedPayload(chatID, msg))
}

func (g *Gateway) MessageDeleted(chatID, messageID, recipient string) {
	g.deliverToUser(recipient, domain.EventMessageDeleted, domain.MessageDeletedPayload{ChatID: chatID, MessageID: messageID})
}
