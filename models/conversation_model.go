package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Conversation struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	// PairKey is the canonical identity of the participant pair: both user
	// ids sorted lexicographically and joined with ":". The unique index is
	// what guarantees at most one conversation per pair, even under
	// concurrent get-or-create calls.
	PairKey string `gorm:"size:80;not null;uniqueIndex" json:"-"`

	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants"`

	// Denormalized last-message snapshot for list rendering without a join.
	LastMessageText     *string    `gorm:"type:text" json:"last_message_text"`
	LastMessageSenderID *uuid.UUID `gorm:"type:uuid" json:"last_message_sender_id"`
	LastMessageAt       *time.Time `json:"last_message_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

type ConversationParticipant struct {
	ConversationID uuid.UUID  `gorm:"type:uuid;primaryKey" json:"conversation_id"`
	UserID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"user_id"`
	UnreadCount    int64      `gorm:"not null;default:0" json:"unread_count"`
	LastReadAt     *time.Time `json:"last_read_at"`

	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// PairKey returns the canonical key for an unordered user pair, so {A,B}
// and {B,A} resolve to the same conversation.
func PairKey(a, b uuid.UUID) string {
	ids := []string{a.String(), b.String()}
	if ids[1] < ids[0] {
		ids[0], ids[1] = ids[1], ids[0]
	}
	return strings.Join(ids, ":")
}

// OtherParticipant returns the participant state of the user opposite to
// userID, or nil if userID is not in the conversation.
func (c *Conversation) OtherParticipant(userID uuid.UUID) *ConversationParticipant {
	for i := range c.Participants {
		if c.Participants[i].UserID != userID {
			return &c.Participants[i]
		}
	}
	return nil
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return true
		}
	}
	return false
}
