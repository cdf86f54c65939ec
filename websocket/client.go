package websocket

import (
	"time"

	"github.com/Ajinkyabhamre/research-collaboration-platform-sub001/models"
	"github.com/google/uuid"
)

// Conn is the subset of *websocket.Conn the hub writes to. Narrowed to an
// interface so fan-out can be exercised without a live socket.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

type Client struct {
	UserID uuid.UUID
	Conn   Conn
}

// Room names. Every user has a personal inbox room for list-level
// notifications; every conversation has a room for in-thread events.
func InboxRoom(userID uuid.UUID) string {
	return "inbox:" + userID.String()
}

func ConversationRoom(conversationID uuid.UUID) string {
	return "conversation:" + conversationID.String()
}

const (
	EventNewDirectMessage    = "new_direct_message"
	EventConversationUpdated = "conversation_updated"
	EventMessageRead         = "message_read"
	EventConversationRead    = "conversation_read"
	EventUserTyping          = "user_typing"
	EventUserStoppedTyping   = "user_stopped_typing"
	EventUserOnline          = "user_online"
	EventUserOffline         = "user_offline"
)

type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type NewMessageData struct {
	Message        *models.Message    `json:"message"`
	Sender         models.UserSummary `json:"sender"`
	ConversationID uuid.UUID          `json:"conversation_id"`
}

type LastMessageData struct {
	Text      string    `json:"text"`
	SenderID  uuid.UUID `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
}

type ConversationUpdatedData struct {
	ConversationID uuid.UUID       `json:"conversation_id"`
	LastMessage    LastMessageData `json:"last_message"`
}

type MessageReadData struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}

type ConversationReadData struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	ReadAt         time.Time `json:"read_at"`
}

type TypingData struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
}

type PresenceData struct {
	UserID uuid.UUID `json:"user_id"`
}
