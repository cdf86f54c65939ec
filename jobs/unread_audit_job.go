package jobs

import (
	"log"

	"github.com/Ajinkyabhamre/research-collaboration-platform-sub001/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditUnreadCounts recomputes every participant's unread counter from the
// messages and read receipts and repairs any drift. The counters are
// maintained by targeted atomic updates on the write path; this sweep is a
// safety net, not the mechanism.
func AuditUnreadCounts(db *gorm.DB) {
	type row struct {
		ConversationID uuid.UUID
		UserID         uuid.UUID
		UnreadCount    int64
		Actual         int64
	}

	var rows []row
	err := db.Model(&models.ConversationParticipant{}).
		Select(`conversation_participants.conversation_id,
			conversation_participants.user_id,
			conversation_participants.unread_count,
			(SELECT COUNT(*) FROM messages m
			 WHERE m.conversation_id = conversation_participants.conversation_id
			   AND m.sender_id <> conversation_participants.user_id
			   AND NOT EXISTS (
				SELECT 1 FROM message_reads r
				WHERE r.message_id = m.id AND r.user_id = conversation_participants.user_id
			   )) AS actual`).
		Find(&rows).Error
	if err != nil {
		log.Printf("unread audit: query failed: %v", err)
		return
	}

	fixed := 0
	for _, r := range rows {
		if r.UnreadCount == r.Actual {
			continue
		}
		err := db.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", r.ConversationID, r.UserID).
			UpdateColumn("unread_count", r.Actual).Error
		if err != nil {
			log.Printf("unread audit: failed to fix counter for user %s in conversation %s: %v", r.UserID, r.ConversationID, err)
			continue
		}
		log.Printf("unread audit: corrected counter for user %s in conversation %s: %d -> %d", r.UserID, r.ConversationID, r.UnreadCount, r.Actual)
		fixed++
	}
	if fixed > 0 {
		log.Printf("unread audit: corrected %d counter(s)", fixed)
	}
}
