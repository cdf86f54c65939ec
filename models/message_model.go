package models

import (
	"time"

	"github.com/google/uuid"
)

type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index" json:"conversation_id"`
	SenderID       uuid.UUID `gorm:"type:uuid;not null" json:"sender_id"`
	Text           string    `gorm:"type:text;not null" json:"text"`

	// Messages are immutable; ReadBy rows are the only state added after
	// creation. The sender's own row is written at creation time.
	ReadBy []MessageRead `gorm:"foreignKey:MessageID" json:"read_by"`

	Sender *User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

type MessageRead struct {
	MessageID uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// ReadByUser reports whether userID has seen the message.
func (m *Message) ReadByUser(userID uuid.UUID) bool {
	for i := range m.ReadBy {
		if m.ReadBy[i].UserID == userID {
			return true
		}
	}
	return false
}
