package websocket

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Ajinkyabhamre/research-collaboration-platform-sub001/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu      sync.Mutex
	events  []Event
	closed  bool
	failing bool
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("broken pipe")
	}
	if e, ok := v.(Event); ok {
		f.events = append(f.events, e)
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, len(f.events))
	for i, e := range f.events {
		types[i] = e.Type
	}
	return types
}

func (f *fakeConn) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	go h.Run()
	return h
}

func newClient() (*Client, *fakeConn) {
	conn := &fakeConn{}
	return &Client{UserID: uuid.New(), Conn: conn}, conn
}

func Test_Hub_BindReplacesConnection(t *testing.T) {
	h := startHub(t)

	first, firstConn := newClient()
	h.Bind(first)
	assert.True(t, h.Online(first.UserID))

	second := &Client{UserID: first.UserID, Conn: &fakeConn{}}
	h.Bind(second)

	assert.True(t, firstConn.isClosed(), "replaced connection must be closed")
	assert.True(t, h.Online(first.UserID))

	// A stale unbind from the replaced connection must not knock the
	// current one offline.
	h.Unbind(first)
	assert.True(t, h.Online(first.UserID))

	h.Unbind(second)
	assert.False(t, h.Online(first.UserID))
}

func Test_Hub_RoomBroadcast(t *testing.T) {
	h := startHub(t)

	a, aConn := newClient()
	b, bConn := newClient()
	outsider, outsiderConn := newClient()
	for _, c := range []*Client{a, b, outsider} {
		h.Bind(c)
	}

	room := ConversationRoom(uuid.New())
	h.Join(a, room)
	h.Join(b, room)

	h.EmitToRoom(room, Event{Type: EventNewDirectMessage})

	require.Eventually(t, func() bool {
		return aConn.eventCount() == 1 && bConn.eventCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, outsiderConn.eventCount(), "non-members receive nothing")
}

func Test_Hub_RoomOrderingIsFIFO(t *testing.T) {
	h := startHub(t)

	a, aConn := newClient()
	h.Bind(a)
	room := ConversationRoom(uuid.New())
	h.Join(a, room)

	h.EmitToRoom(room, Event{Type: EventNewDirectMessage})
	h.EmitToRoom(room, Event{Type: EventMessageRead})
	h.EmitToRoom(room, Event{Type: EventUserTyping})

	require.Eventually(t, func() bool {
		return aConn.eventCount() == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{EventNewDirectMessage, EventMessageRead, EventUserTyping}, aConn.eventTypes())
}

func Test_Hub_TypingExcludesSender(t *testing.T) {
	h := startHub(t)

	typist, typistConn := newClient()
	peer, peerConn := newClient()
	h.Bind(typist)
	h.Bind(peer)

	conversationID := uuid.New()
	room := ConversationRoom(conversationID)
	h.Join(typist, room)
	h.Join(peer, room)

	h.OnTyping(typist, conversationID, true)
	h.OnTyping(typist, conversationID, false)

	require.Eventually(t, func() bool {
		return peerConn.eventCount() == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{EventUserTyping, EventUserStoppedTyping}, peerConn.eventTypes())
	assert.Zero(t, typistConn.eventCount(), "typist must not hear their own typing")
}

func Test_Hub_OnMessageSent(t *testing.T) {
	h := startHub(t)

	sender, senderConn := newClient()
	recipient, recipientConn := newClient()
	h.Bind(sender)
	h.Bind(recipient)

	conversationID := uuid.New()
	room := ConversationRoom(conversationID)
	// Recipient has the thread open; sender too. Recipient also has an
	// inbox subscription for list-level updates.
	h.Join(sender, room)
	h.Join(recipient, room)
	h.Join(recipient, InboxRoom(recipient.UserID))

	now := time.Now().UTC()
	text := "results are in"
	conversation := &models.Conversation{
		ID: conversationID,
		Participants: []models.ConversationParticipant{
			{ConversationID: conversationID, UserID: sender.UserID},
			{ConversationID: conversationID, UserID: recipient.UserID, UnreadCount: 1},
		},
	}
	message := &models.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       sender.UserID,
		Text:           text,
		CreatedAt:      now,
	}

	h.OnMessageSent(message, conversation)

	require.Eventually(t, func() bool {
		return recipientConn.eventCount() == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{EventNewDirectMessage, EventConversationUpdated}, recipientConn.eventTypes())

	// Sender gets the room echo but no inbox preview.
	require.Eventually(t, func() bool {
		return senderConn.eventCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{EventNewDirectMessage}, senderConn.eventTypes())
}

func Test_Hub_OnMarkedRead(t *testing.T) {
	h := startHub(t)

	reader, readerConn := newClient()
	peer, peerConn := newClient()
	h.Bind(reader)
	h.Bind(peer)

	conversationID := uuid.New()
	h.Join(peer, ConversationRoom(conversationID))
	h.Join(reader, InboxRoom(reader.UserID))

	h.OnMarkedRead(conversationID, reader.UserID, time.Now().UTC())

	require.Eventually(t, func() bool {
		return peerConn.eventCount() == 1 && readerConn.eventCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{EventMessageRead}, peerConn.eventTypes())
	assert.Equal(t, []string{EventConversationRead}, readerConn.eventTypes())
}

func Test_Hub_AnnouncePresence(t *testing.T) {
	h := startHub(t)

	joiner, joinerConn := newClient()
	peer, peerConn := newClient()
	h.Bind(joiner)
	h.Bind(peer)

	room := ConversationRoom(uuid.New())
	h.Join(joiner, room)
	h.Join(peer, room)

	h.AnnouncePresence(joiner, []string{room}, true)
	h.AnnouncePresence(joiner, []string{room}, false)

	require.Eventually(t, func() bool {
		return peerConn.eventCount() == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{EventUserOnline, EventUserOffline}, peerConn.eventTypes())
	assert.Zero(t, joinerConn.eventCount())
}

func Test_Hub_FailedWriteEvictsConnection(t *testing.T) {
	h := startHub(t)

	healthy, healthyConn := newClient()
	broken, brokenConn := newClient()
	brokenConn.failing = true
	h.Bind(healthy)
	h.Bind(broken)

	room := ConversationRoom(uuid.New())
	h.Join(healthy, room)
	h.Join(broken, room)

	h.EmitToRoom(room, Event{Type: EventNewDirectMessage})

	require.Eventually(t, func() bool {
		return healthyConn.eventCount() == 1 && brokenConn.isClosed()
	}, time.Second, 5*time.Millisecond)
	assert.False(t, h.Online(broken.UserID), "broken connection is unbound")

	// Later broadcasts no longer target the evicted connection.
	h.EmitToRoom(room, Event{Type: EventMessageRead})
	require.Eventually(t, func() bool {
		return healthyConn.eventCount() == 2
	}, time.Second, 5*time.Millisecond)
}

func Test_Hub_RoomsFor(t *testing.T) {
	h := startHub(t)

	c, _ := newClient()
	h.Bind(c)

	inbox := InboxRoom(c.UserID)
	conv := ConversationRoom(uuid.New())
	h.Join(c, inbox)
	h.Join(c, conv)

	assert.ElementsMatch(t, []string{inbox, conv}, h.RoomsFor(c.UserID))

	h.Leave(c, conv)
	assert.Equal(t, []string{inbox}, h.RoomsFor(c.UserID))

	assert.Nil(t, h.RoomsFor(uuid.New()))
}
