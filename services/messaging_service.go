package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Ajinkyabhamre/research-collaboration-platform-sub001/apperrors"
	"github.com/Ajinkyabhamre/research-collaboration-platform-sub001/cache"
	"github.com/Ajinkyabhamre/research-collaboration-platform-sub001/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Notifier receives fan-out hooks after a store mutation has committed.
// Implementations must be best-effort: the mutation has already succeeded
// and cannot be failed retroactively.
type Notifier interface {
	OnMessageSent(message *models.Message, conversation *models.Conversation)
	OnMarkedRead(conversationID, readerID uuid.UUID, readAt time.Time)
}

type MessagingService struct {
	db       *gorm.DB
	cache    *cache.Store
	notifier Notifier
}

func NewMessagingService(db *gorm.DB, cacheStore *cache.Store, notifier Notifier) *MessagingService {
	return &MessagingService{db: db, cache: cacheStore, notifier: notifier}
}

type ConversationPage struct {
	Conversations []models.Conversation `json:"conversations"`
	NextCursor    string                `json:"next_cursor,omitempty"`
	HasMore       bool                  `json:"has_more"`
}

type MessagePage struct {
	Messages   []models.Message `json:"messages"`
	NextCursor string           `json:"next_cursor,omitempty"`
	HasMore    bool             `json:"has_more"`
}

// GetOrCreateConversation resolves the single conversation for a user pair,
// creating it on first contact. The uniqueness decision lives in the pair
// key's unique index: if a concurrent caller wins the insert race, the
// duplicate-key error is resolved by re-reading the winner's row, so every
// caller converges on the same conversation.
func (s *MessagingService) GetOrCreateConversation(ctx context.Context, userA, userB uuid.UUID) (*models.Conversation, error) {
	if userA == userB {
		return nil, apperrors.InvalidInput("cannot start a conversation with yourself")
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id IN ?", []uuid.UUID{userA, userB}).
		Count(&count).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to look up users", err)
	}
	if count != 2 {
		return nil, apperrors.NotFound("user not found")
	}

	pairKey := models.PairKey(userA, userB)

	conv, err := s.conversationByPairKey(ctx, pairKey)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to load conversation", err)
	}

	newConv := models.Conversation{
		ID:      uuid.New(),
		PairKey: pairKey,
		Participants: []models.ConversationParticipant{
			{UserID: userA},
			{UserID: userB},
		},
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&newConv).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost the race; the winner's conversation is the result.
			winner, rerr := s.conversationByPairKey(ctx, pairKey)
			if rerr != nil {
				return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to load conversation after conflict", rerr)
			}
			return winner, nil
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to create conversation", err)
	}

	return s.conversationByPairKey(ctx, pairKey)
}

// SendMessage resolves (or lazily creates) the conversation with the
// recipient and appends the message to it.
func (s *MessagingService) SendMessage(ctx context.Context, senderID, recipientID uuid.UUID, text string) (*models.Message, *models.Conversation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, apperrors.InvalidInput("message text is required")
	}

	conv, err := s.GetOrCreateConversation(ctx, senderID, recipientID)
	if err != nil {
		return nil, nil, err
	}
	return s.Append(ctx, conv.ID, senderID, text)
}

// Append persists a message and, in the same transaction, bumps the other
// participant's unread counter and refreshes the conversation's
// last-message snapshot. The counter is moved with a targeted
// "unread_count + 1" update so concurrent appends and mark-reads cannot
// lose each other's writes. Cache invalidation and fan-out run after
// commit and never fail the append.
func (s *MessagingService) Append(ctx context.Context, conversationID, senderID uuid.UUID, text string) (*models.Message, *models.Conversation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, apperrors.InvalidInput("message text is required")
	}

	conv, err := s.conversationByID(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, nil, apperrors.Forbidden("sender is not a participant of this conversation")
	}
	other := conv.OtherParticipant(senderID)

	now := time.Now().UTC()
	message := models.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		CreatedAt:      now,
		ReadBy: []models.MessageRead{
			{UserID: senderID, ReadAt: now},
		},
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&message).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, other.UserID).
			UpdateColumn("unread_count", gorm.Expr("unread_count + 1")).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", conversationID).
			UpdateColumns(map[string]interface{}{
				"last_message_text":      text,
				"last_message_sender_id": senderID,
				"last_message_at":        now,
				"updated_at":             now,
			}).Error
	})
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CodeInternal, "failed to append message", err)
	}

	s.cache.InvalidateConversations(ctx, conversationID, senderID, other.UserID)

	conv, err = s.conversationByID(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}

	var sender models.User
	if err := s.db.WithContext(ctx).First(&sender, "id = ?", senderID).Error; err == nil {
		message.Sender = &sender
	}

	if s.notifier != nil {
		s.notifier.OnMessageSent(&message, conv)
	}
	return &message, conv, nil
}

// MarkConversationRead adds the reader to the read set of every message
// they have not seen, zeroes their unread counter and stamps last_read_at.
// Calling it again with no intervening append changes nothing.
func (s *MessagingService) MarkConversationRead(ctx context.Context, conversationID, readerID uuid.UUID) (time.Time, error) {
	conv, err := s.conversationByID(ctx, conversationID)
	if err != nil {
		return time.Time{}, err
	}
	var reader *models.ConversationParticipant
	for i := range conv.Participants {
		if conv.Participants[i].UserID == readerID {
			reader = &conv.Participants[i]
		}
	}
	if reader == nil {
		return time.Time{}, apperrors.Forbidden("not a participant of this conversation")
	}

	now := time.Now().UTC()
	changed := false

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(`
			INSERT INTO message_reads (message_id, user_id, read_at)
			SELECT m.id, ?, ?
			FROM messages m
			WHERE m.conversation_id = ?
			  AND NOT EXISTS (
				SELECT 1 FROM message_reads r
				WHERE r.message_id = m.id AND r.user_id = ?
			  )`, readerID, now, conversationID, readerID)
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected > 0 || reader.UnreadCount > 0

		if !changed {
			return nil
		}
		if err := tx.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, readerID).
			UpdateColumns(map[string]interface{}{
				"unread_count": 0,
				"last_read_at": now,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", conversationID).
			UpdateColumn("updated_at", now).Error
	})
	if err != nil {
		return time.Time{}, apperrors.Wrap(apperrors.CodeInternal, "failed to mark conversation read", err)
	}

	if !changed {
		if reader.LastReadAt != nil {
			return *reader.LastReadAt, nil
		}
		return now, nil
	}

	other := conv.OtherParticipant(readerID)
	s.cache.InvalidateConversations(ctx, conversationID, readerID, other.UserID)

	if s.notifier != nil {
		s.notifier.OnMarkedRead(conversationID, readerID, now)
	}
	return now, nil
}

// ListConversations pages the user's conversations, most recently active
// first. The cursor is the updated_at of the last item seen. The first
// page is served cache-aside from Redis.
func (s *MessagingService) ListConversations(ctx context.Context, userID uuid.UUID, cursor string, limit int) (*ConversationPage, error) {
	limit = clampLimit(limit)

	firstPage := cursor == ""
	if firstPage {
		if data, ok := s.cache.GetConversationList(ctx, userID); ok {
			var page ConversationPage
			if err := unmarshalPage(data, &page); err == nil {
				return &page, nil
			}
		}
	}

	q := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id AND cp.user_id = ?", userID).
		Preload("Participants").
		Preload("Participants.User").
		Order("conversations.updated_at DESC, conversations.id DESC").
		Limit(limit + 1)

	if !firstPage {
		t, err := time.Parse(time.RFC3339Nano, cursor)
		if err != nil {
			return nil, apperrors.InvalidInput("malformed cursor")
		}
		q = q.Where("conversations.updated_at < ?", t)
	}

	var conversations []models.Conversation
	if err := q.Find(&conversations).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to list conversations", err)
	}

	page := &ConversationPage{Conversations: conversations}
	if len(conversations) > limit {
		page.Conversations = conversations[:limit]
		page.HasMore = true
		page.NextCursor = page.Conversations[limit-1].UpdatedAt.Format(time.RFC3339Nano)
	}

	if firstPage {
		if data, err := marshalPage(page); err == nil {
			s.cache.SetConversationList(ctx, userID, data)
		}
	}
	return page, nil
}

// ListMessages pages a conversation newest-first. The cursor is the
// created_at of the last item seen; id is a deterministic secondary sort
// within equal timestamps.
func (s *MessagingService) ListMessages(ctx context.Context, conversationID, userID uuid.UUID, cursor string, limit int) (*MessagePage, error) {
	limit = clampLimit(limit)

	conv, err := s.conversationByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, apperrors.Forbidden("not a participant of this conversation")
	}

	q := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Preload("ReadBy").
		Preload("Sender").
		Order("created_at DESC, id DESC").
		Limit(limit + 1)

	if cursor != "" {
		t, err := time.Parse(time.RFC3339Nano, cursor)
		if err != nil {
			return nil, apperrors.InvalidInput("malformed cursor")
		}
		q = q.Where("created_at < ?", t)
	}

	var messages []models.Message
	if err := q.Find(&messages).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to list messages", err)
	}

	page := &MessagePage{Messages: messages}
	if len(messages) > limit {
		page.Messages = messages[:limit]
		page.HasMore = true
		page.NextCursor = page.Messages[limit-1].CreatedAt.Format(time.RFC3339Nano)
	}
	return page, nil
}

// ConversationIDsForUser lists every conversation the user participates
// in. Used on websocket connect to rebuild room subscriptions.
func (s *MessagingService) ConversationIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("user_id = ?", userID).
		Pluck("conversation_id", &ids).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to list user conversations", err)
	}
	return ids, nil
}

// IsParticipant reports whether the user belongs to the conversation.
func (s *MessagingService) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeInternal, "failed to check participant", err)
	}
	return count > 0, nil
}

func (s *MessagingService) conversationByPairKey(ctx context.Context, pairKey string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Preload("Participants").
		Preload("Participants.User").
		Where("pair_key = ?", pairKey).
		First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *MessagingService) conversationByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Preload("Participants").
		Preload("Participants.User").
		Where("id = ?", id).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("conversation not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to load conversation", err)
	}
	return &conv, nil
}

func marshalPage(page *ConversationPage) ([]byte, error) {
	return json.Marshal(page)
}

func unmarshalPage(data []byte, page *ConversationPage) error {
	return json.Unmarshal(data, page)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
