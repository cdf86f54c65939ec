package jobs

import (
	"fmt"
	"testing"
	"time"

	"github.com/Ajinkyabhamre/research-collaboration-platform-sub001/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
		&models.MessageRead{},
	))
	return db
}

func Test_AuditUnreadCounts_RepairsDrift(t *testing.T) {
	db := newTestDB(t)

	a := uuid.New()
	b := uuid.New()
	now := time.Now().UTC()

	conv := models.Conversation{
		ID:      uuid.New(),
		PairKey: models.PairKey(a, b),
		Participants: []models.ConversationParticipant{
			{UserID: a},
			// Skewed on purpose: b really has 2 unread messages below.
			{UserID: b, UnreadCount: 7},
		},
	}
	require.NoError(t, db.Create(&conv).Error)

	for i := 0; i < 2; i++ {
		msg := models.Message{
			ID:             uuid.New(),
			ConversationID: conv.ID,
			SenderID:       a,
			Text:           fmt.Sprintf("unread %d", i),
			CreatedAt:      now.Add(time.Duration(i) * time.Second),
			ReadBy:         []models.MessageRead{{UserID: a, ReadAt: now}},
		}
		require.NoError(t, db.Create(&msg).Error)
	}
	// One message b already read: must not count.
	read := models.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       a,
		Text:           "seen already",
		CreatedAt:      now.Add(-time.Minute),
		ReadBy: []models.MessageRead{
			{UserID: a, ReadAt: now},
			{UserID: b, ReadAt: now},
		},
	}
	require.NoError(t, db.Create(&read).Error)

	AuditUnreadCounts(db)

	var pb models.ConversationParticipant
	require.NoError(t, db.Where("conversation_id = ? AND user_id = ?", conv.ID, b).First(&pb).Error)
	assert.EqualValues(t, 2, pb.UnreadCount)

	var pa models.ConversationParticipant
	require.NoError(t, db.Where("conversation_id = ? AND user_id = ?", conv.ID, a).First(&pa).Error)
	assert.EqualValues(t, 0, pa.UnreadCount, "accurate counters are left alone")
}
