package cache

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefixes
	conversationListPrefix = "conversations:user:" // conversations:user:{userId} - first page of the user's inbox
	conversationPrefix     = "conversation:"       // conversation:{conversationId} - conversation detail

	conversationListTTL = 5 * time.Minute
)

// Store is an advisory read-cache over the message store. Every method
// degrades to a no-op when Redis is absent or failing: cache reads are
// never authoritative and cache errors never fail a request.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) enabled() bool {
	return s != nil && s.rdb != nil
}

// GetConversationList returns the cached first page of a user's
// conversation list, or (nil, false) on a miss.
func (s *Store) GetConversationList(ctx context.Context, userID uuid.UUID) ([]byte, bool) {
	if !s.enabled() {
		return nil, false
	}
	data, err := s.rdb.Get(ctx, conversationListPrefix+userID.String()).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("cache: get conversation list for %s failed: %v", userID, err)
		return nil, false
	}
	return data, true
}

func (s *Store) SetConversationList(ctx context.Context, userID uuid.UUID, payload []byte) {
	if !s.enabled() {
		return
	}
	if err := s.rdb.Set(ctx, conversationListPrefix+userID.String(), payload, conversationListTTL).Err(); err != nil {
		log.Printf("cache: set conversation list for %s failed: %v", userID, err)
	}
}

// InvalidateConversations drops the conversation detail entry and every
// affected participant's list entry. Called after a store mutation has
// committed; failures leave stale entries behind, which the TTL bounds.
func (s *Store) InvalidateConversations(ctx context.Context, conversationID uuid.UUID, userIDs ...uuid.UUID) {
	if !s.enabled() {
		return
	}
	keys := make([]string, 0, len(userIDs)+1)
	keys = append(keys, conversationPrefix+conversationID.String())
	for _, id := range userIDs {
		keys = append(keys, conversationListPrefix+id.String())
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		log.Printf("cache: invalidate conversation %s failed: %v", conversationID, err)
	}
}
