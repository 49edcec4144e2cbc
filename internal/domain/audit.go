package domain

import (
	"time"
)

type AuditLog struct {
	ID          int64                  `json:"id"`
	EventTime   time.Time              `json:"event_time"`
	ActorUserID string                 `json:"actor_user_id"`
	ChatID      string                 `json:"chat_id,omitempty"`
	EventType   string                 `json:"event_type"`
	Payload     map[string]interface{} `json:"payload"`
}

const (
	EventTypeMessageEdited       = "MESSAGE_EDITED"
	EventTypeMessageDeleted      = "MESSAGE_DELETED"
	EventTypeConversationDeleted = "CONVERSATION_DELETED"
)
