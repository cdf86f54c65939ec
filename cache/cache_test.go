package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb), mr
}

func Test_ConversationList_RoundTrip(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	userID := uuid.New()

	_, ok := store.GetConversationList(ctx, userID)
	assert.False(t, ok, "empty cache misses")

	payload := []byte(`{"conversations":[],"has_more":false}`)
	store.SetConversationList(ctx, userID, payload)

	got, ok := store.GetConversationList(ctx, userID)
	require.True(t, ok)
	assert.Equal(t, payload, got)

	// Entries expire; a stale cache is bounded by the TTL.
	mr.FastForward(conversationListTTL)
	_, ok = store.GetConversationList(ctx, userID)
	assert.False(t, ok)
}

func Test_InvalidateConversations(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	conversationID := uuid.New()
	a := uuid.New()
	b := uuid.New()
	c := uuid.New()

	store.SetConversationList(ctx, a, []byte("a-page"))
	store.SetConversationList(ctx, b, []byte("b-page"))
	store.SetConversationList(ctx, c, []byte("c-page"))
	require.NoError(t, mr.Set(conversationPrefix+conversationID.String(), "detail"))

	store.InvalidateConversations(ctx, conversationID, a, b)

	_, ok := store.GetConversationList(ctx, a)
	assert.False(t, ok)
	_, ok = store.GetConversationList(ctx, b)
	assert.False(t, ok)
	assert.False(t, mr.Exists(conversationPrefix+conversationID.String()))

	// Uninvolved users keep their entries.
	_, ok = store.GetConversationList(ctx, c)
	assert.True(t, ok)
}

func Test_DisabledStoreIsNoOp(t *testing.T) {
	ctx := context.Background()
	var store *Store

	_, ok := store.GetConversationList(ctx, uuid.New())
	assert.False(t, ok)
	store.SetConversationList(ctx, uuid.New(), []byte("x"))
	store.InvalidateConversations(ctx, uuid.New(), uuid.New())

	store = NewStore(nil)
	_, ok = store.GetConversationList(ctx, uuid.New())
	assert.False(t, ok)
}

func Test_RedisDownIsSwallowed(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	mr.Close()

	_, ok := store.GetConversationList(ctx, uuid.New())
	assert.False(t, ok, "a failing Redis reads as a miss")
	store.SetConversationList(ctx, uuid.New(), []byte("x"))
	store.InvalidateConversations(ctx, uuid.New(), uuid.New())
}
