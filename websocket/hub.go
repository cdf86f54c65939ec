package websocket

import (
	"log"
	"sync"
	"time"

	"github.com/Ajinkyabhamre/research-collaboration-platform-sub001/models"
	"github.com/google/uuid"
)

type broadcast struct {
	room    string
	event   Event
	exclude *Client
}

// Hub is the presence registry and fan-out engine: it tracks which
// connection belongs to which user, which connections are in which room,
// and delivers events best-effort to live connections. Broadcasts are
// drained by a single goroutine, so events within a room go out in the
// order they were enqueued.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*Client
	rooms   map[string]map[*Client]struct{}
	queue   chan broadcast
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]*Client),
		rooms:   make(map[string]map[*Client]struct{}),
		queue:   make(chan broadcast, 256),
	}
}

// Run drains the broadcast queue. Start it once, in its own goroutine.
func (h *Hub) Run() {
	for b := range h.queue {
		h.deliver(b)
	}
}

// Bind registers a connection for a user. At most one connection is
// tracked per user: a reconnect replaces the previous one, which is closed
// and dropped from every room.
func (h *Hub) Bind(c *Client) {
	h.mu.Lock()
	old, ok := h.clients[c.UserID]
	h.clients[c.UserID] = c
	if ok && old != c {
		h.evictLocked(old)
	}
	h.mu.Unlock()

	if ok && old != c {
		log.Printf("hub: replaced connection for user %s", c.UserID)
		_ = old.Conn.Close()
	}
}

// Unbind removes the connection if it is still the one tracked for its
// user, and drops it from every room. A stale unbind from an already
// replaced connection is a no-op on the user mapping.
func (h *Hub) Unbind(c *Client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.UserID]; ok && cur == c {
		delete(h.clients, c.UserID)
	}
	h.evictLocked(c)
	h.mu.Unlock()
}

func (h *Hub) evictLocked(c *Client) {
	for room, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()
}

// RoomsFor returns the rooms the user's current connection is subscribed to.
func (h *Hub) RoomsFor(userID uuid.UUID) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[userID]
	if !ok {
		return nil
	}
	var rooms []string
	for room, members := range h.rooms {
		if _, in := members[c]; in {
			rooms = append(rooms, room)
		}
	}
	return rooms
}

func (h *Hub) Online(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

func (h *Hub) EmitToRoom(room string, e Event) {
	h.queue <- broadcast{room: room, event: e}
}

func (h *Hub) EmitToRoomExcept(room string, except *Client, e Event) {
	h.queue <- broadcast{room: room, event: e, exclude: except}
}

func (h *Hub) deliver(b broadcast) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[b.room]))
	for c := range h.rooms[b.room] {
		if c == b.exclude {
			continue
		}
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		if err := c.Conn.WriteJSON(b.event); err != nil {
			log.Printf("hub: write to user %s in room %s failed, dropping connection: %v", c.UserID, b.room, err)
			_ = c.Conn.Close()
			h.Unbind(c)
		}
	}
}

// OnMessageSent pushes the full message to the conversation room and a
// lighter preview event to the other participant's inbox room. The sender's
// own connection is subscribed to the conversation room, so it receives an
// echo; clients tolerate that.
func (h *Hub) OnMessageSent(message *models.Message, conversation *models.Conversation) {
	sender := models.UserSummary{ID: message.SenderID}
	if message.Sender != nil {
		sender = message.Sender.Summary()
	}
	h.EmitToRoom(ConversationRoom(conversation.ID), Event{
		Type: EventNewDirectMessage,
		Data: NewMessageData{
			Message:        message,
			Sender:         sender,
			ConversationID: conversation.ID,
		},
	})

	if other := conversation.OtherParticipant(message.SenderID); other != nil {
		h.EmitToRoom(InboxRoom(other.UserID), Event{
			Type: EventConversationUpdated,
			Data: ConversationUpdatedData{
				ConversationID: conversation.ID,
				LastMessage: LastMessageData{
					Text:      message.Text,
					SenderID:  message.SenderID,
					Timestamp: message.CreatedAt,
				},
			},
		})
	}
}

// OnMarkedRead pushes a read receipt to the conversation room and a
// lighter receipt to the reader's own inbox room, syncing other tabs.
func (h *Hub) OnMarkedRead(conversationID, readerID uuid.UUID, readAt time.Time) {
	h.EmitToRoom(ConversationRoom(conversationID), Event{
		Type: EventMessageRead,
		Data: MessageReadData{ConversationID: conversationID, UserID: readerID, ReadAt: readAt},
	})
	h.EmitToRoom(InboxRoom(readerID), Event{
		Type: EventConversationRead,
		Data: ConversationReadData{ConversationID: conversationID, ReadAt: readAt},
	})
}

// OnTyping broadcasts a typing indicator to the conversation room,
// excluding the typist's own connection. Not persisted.
func (h *Hub) OnTyping(sender *Client, conversationID uuid.UUID, isTyping bool) {
	eventType := EventUserTyping
	if !isTyping {
		eventType = EventUserStoppedTyping
	}
	h.EmitToRoomExcept(ConversationRoom(conversationID), sender, Event{
		Type: eventType,
		Data: TypingData{ConversationID: conversationID, UserID: sender.UserID},
	})
}

// AnnouncePresence signals the user going online or offline to every
// conversation room they participate in.
func (h *Hub) AnnouncePresence(sender *Client, conversationRooms []string, online bool) {
	eventType := EventUserOnline
	if !online {
		eventType = EventUserOffline
	}
	for _, room := range conversationRooms {
		h.EmitToRoomExcept(room, sender, Event{
			Type: eventType,
			Data: PresenceData{UserID: sender.UserID},
		})
	}
}
