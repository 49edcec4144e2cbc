package domain

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxMessageLength = 4000
	MaxUserIDLength  = 128
)

// Conversation - личная переписка двух пользователей. Participants всегда
// хранится в каноническом порядке (см. PairKey).
type Conversation struct {
	ID           string    `json:"chatId"`
	Participants [2]string `json:"participants"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Message struct {
	ID        string     `json:"id"`
	Sender    string     `json:"sender"`
	Recipient string     `json:"recipient"`
	Text      string     `json:"text"`
	Read      bool       `json:"read"`
	CreatedAt time.Time  `json:"createdAt"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
}

// ConversationSummary - строка списка чатов пользователя.
type ConversationSummary struct {
	ChatID      string    `json:"chatId"`
	Participant string    `json:"participant"`
	LastMessage *Message  `json:"lastMessage"`
	UnreadCount int       `json:"unreadCount"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ChatHistory - ответ на запрос истории. ChatID равен nil, если переписки
// еще не существует.
type ChatHistory struct {
	ChatID   *string   `json:"chatId"`
	Messages []Message `json:"messages"`
}

// PairKey возвращает ключ неупорядоченной пары: {A,B} и {B,A} дают одно значение.
// Длина первого id в префиксе делает ключ однозначным при любых символах в id.
func PairKey(a, b string) string {
	first, second := CanonicalPair(a, b)
	return strconv.Itoa(len(first)) + ":" + first + ":" + second
}

func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

func (c *Conversation) HasParticipant(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// Peer возвращает второго участника относительно userID.
func (c *Conversation) Peer(userID string) string {
	if c.Participants[0] == userID {
		return c.Participants[1]
	}
	return c.Participants[0]
}

func (c *Conversation) FindMessage(messageID string) (*Message, bool) {
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			return &c.Messages[i], true
		}
	}
	return nil, false
}

// UnreadFor считает непрочитанные сообщения, адресованные userID.
func (c *Conversation) UnreadFor(userID string) int {
	n := 0
	for _, m := range c.Messages {
		if m.Recipient == userID && !m.Read {
			n++
		}
	}
	return n
}

func (c *Conversation) Summary(userID string) ConversationSummary {
	s := ConversationSummary{
		ChatID:      c.ID,
		Participant: c.Peer(userID),
		UnreadCount: c.UnreadFor(userID),
		UpdatedAt:   c.UpdatedAt,
	}
	if n := len(c.Messages); n > 0 {
		last := c.Messages[n-1]
		s.LastMessage = &last
	}
	return s
}

// NormalizeText обрезает пробелы и проверяет длину. ok=false для пустого
// или слишком длинного текста.
func NormalizeText(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > MaxMessageLength {
		return "", false
	}
	return text, true
}

func ValidUserID(id string) bool {
	id = strings.TrimSpace(id)
	return id != "" && len(id) <= MaxUserIDLength
}
