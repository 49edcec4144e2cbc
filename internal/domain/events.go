package domain

import "encoding/json"

// События от клиента.
const (
	EventUserConnected = "user_connected"
	EventSendMessage   = "send_message"
	EventTyping        = "typing"
	EventStopTyping    = "stop_typing"
	EventMarkRead      = "mark_read"
	EventEditMessage   = "edit_message"
	EventDeleteMessage = "delete_message"
)

// События от сервера. typing и stop_typing используются в обе стороны.
const (
	EventUserStatus     = "user_status"
	EventReceiveMessage = "receive_message"
	EventMessageSent    = "message_sent"
	EventMessagesRead   = "messages_read"
	EventMessageEdited  = "message_edited"
	EventMessageDeleted = "message_deleted"
	EventError          = "error"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Envelope - кадр протокола: {"type": "...", "payload": {...}}.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(eventType string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: eventType, Payload: raw}, nil
}

func (e Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(e.Payload, v)
}

type UserConnectedPayload struct {
	UserID string `json:"userId"`
}

type SendMessagePayload struct {
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	Text        string `json:"text"`
}

type TypingPayload struct {
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId,omitempty"`
}

type MarkReadPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

type EditMessagePayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	SenderID  string `json:"senderId"`
}

type DeleteMessagePayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
}

type UserStatusPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type MessagePayload struct {
	ChatID  string  `json:"chatId"`
	Message Message `json:"message"`
}

type MessagesReadPayload struct {
	ChatID string `json:"chatId"`
	ReadBy string `json:"readBy"`
}

type MessageEditedPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

type MessageDeletedPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Event   string `json:"event,omitempty"`
}
