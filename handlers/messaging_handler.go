package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/Ajinkyabhamre/research-collaboration-platform-sub001/apperrors"
	config "github.com/Ajinkyabhamre/research-collaboration-platform-sub001/configs"
	"github.com/Ajinkyabhamre/research-collaboration-platform-sub001/middleware"
	"github.com/Ajinkyabhamre/research-collaboration-platform-sub001/services"
	"github.com/Ajinkyabhamre/research-collaboration-platform-sub001/websocket"
	"github.com/go-playground/validator/v10"
	websocketcontrib "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

var validate = validator.New()

type MessagingHandler struct {
	svc *services.MessagingService
	hub *websocket.Hub
}

func NewMessagingHandler(svc *services.MessagingService, hub *websocket.Hub) *MessagingHandler {
	return &MessagingHandler{svc: svc, hub: hub}
}

func (h *MessagingHandler) GetOrCreateConversation(c *fiber.Ctx) error {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	type Request struct {
		RecipientID string `json:"recipient_id" validate:"required,uuid"`
	}
	var req Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	recipientID, _ := uuid.Parse(req.RecipientID)

	conversation, err := h.svc.GetOrCreateConversation(c.Context(), userID, recipientID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(conversation)
}

func (h *MessagingHandler) ListConversations(c *fiber.Ctx) error {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	cursor := c.Query("cursor")
	limit, _ := strconv.Atoi(c.Query("limit", "20"))

	page, err := h.svc.ListConversations(c.Context(), userID, cursor, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(page)
}

func (h *MessagingHandler) ListMessages(c *fiber.Ctx) error {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := uuid.Parse(c.Params("conversationId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation ID"})
	}
	cursor := c.Query("cursor")
	limit, _ := strconv.Atoi(c.Query("limit", "50"))

	page, err := h.svc.ListMessages(c.Context(), conversationID, userID, cursor, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(page)
}

func (h *MessagingHandler) SendMessage(c *fiber.Ctx) error {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	type Request struct {
		RecipientID string `json:"recipient_id" validate:"required,uuid"`
		Text        string `json:"text" validate:"required"`
	}
	var req Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	recipientID, _ := uuid.Parse(req.RecipientID)

	message, conversation, err := h.svc.SendMessage(c.Context(), userID, recipientID, req.Text)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":         message,
		"conversation_id": conversation.ID,
	})
}

func (h *MessagingHandler) MarkConversationRead(c *fiber.Ctx) error {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := uuid.Parse(c.Params("conversationId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation ID"})
	}

	readAt, err := h.svc.MarkConversationRead(c.Context(), conversationID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "read_at": readAt})
}

func respondError(c *fiber.Ctx, err error) error {
	code := apperrors.CodeOf(err)
	status := fiber.StatusInternalServerError
	switch code {
	case apperrors.CodeInvalidInput:
		status = fiber.StatusBadRequest
	case apperrors.CodeNotFound:
		status = fiber.StatusNotFound
	case apperrors.CodeForbidden:
		status = fiber.StatusForbidden
	case apperrors.CodeUnauthenticated:
		status = fiber.StatusUnauthorized
	}
	message := err.Error()
	if status == fiber.StatusInternalServerError {
		log.Printf("[ERROR] %v | Path: %s | Method: %s", err, c.Path(), c.Method())
		message = "Internal server error"
	}
	return c.Status(status).JSON(fiber.Map{
		"status":  "error",
		"code":    code,
		"message": message,
	})
}

// ServeWs owns the lifecycle of a live connection: authenticate the first
// frame, bind the connection, join the inbox room and every conversation
// room the user participates in, then relay typing frames until the socket
// closes. A connection that fails auth never joins a room.
func (h *MessagingHandler) ServeWs(c *websocketcontrib.Conn) {
	type AuthMessage struct {
		Type  string `json:"type"`
		Token string `json:"token"`
	}
	var authMsg AuthMessage
	if err := c.ReadJSON(&authMsg); err != nil || authMsg.Type != "auth" {
		log.Printf("WebSocket auth failed: invalid or missing auth message, error: %v", err)
		_ = c.WriteJSON(fiber.Map{"error": "Invalid or missing auth message"})
		c.Close()
		return
	}

	claims, err := parseToken(authMsg.Token)
	if err != nil {
		log.Printf("WebSocket auth failed: invalid token, error: %v", err)
		_ = c.WriteJSON(fiber.Map{"error": "Invalid token"})
		c.Close()
		return
	}

	rawUserID, _ := claims["user_id"].(string)
	userID, err := uuid.Parse(rawUserID)
	if err != nil {
		log.Printf("WebSocket auth failed: invalid user_id, error: %v", err)
		_ = c.WriteJSON(fiber.Map{"error": "Invalid user ID"})
		c.Close()
		return
	}

	ctx := context.Background()
	client := &websocket.Client{UserID: userID, Conn: c}
	h.hub.Bind(client)

	h.hub.Join(client, websocket.InboxRoom(userID))
	joined := make(map[uuid.UUID]bool)
	conversationRooms := []string{}
	if ids, err := h.svc.ConversationIDsForUser(ctx, userID); err != nil {
		log.Printf("WebSocket: failed to load conversations for %s: %v", userID, err)
	} else {
		for _, id := range ids {
			room := websocket.ConversationRoom(id)
			h.hub.Join(client, room)
			joined[id] = true
			conversationRooms = append(conversationRooms, room)
		}
	}
	h.hub.AnnouncePresence(client, conversationRooms, true)
	log.Printf("WebSocket client authenticated and subscribed: %s", userID)

	defer func() {
		h.hub.AnnouncePresence(client, conversationRooms, false)
		h.hub.Unbind(client)
		c.Close()
		log.Printf("WebSocket client disconnected: %s", userID)
	}()

	type ClientFrame struct {
		Type           string `json:"type"` // typing | stop_typing | join | leave
		ConversationID string `json:"conversation_id"`
	}
	for {
		var frame ClientFrame
		if err := c.ReadJSON(&frame); err != nil {
			if websocketcontrib.IsCloseError(err, websocketcontrib.CloseGoingAway, websocketcontrib.CloseAbnormalClosure) {
				log.Printf("WebSocket closed for client %s: %v", userID, err)
			} else {
				log.Printf("WebSocket read error for client %s: %v", userID, err)
			}
			break
		}

		conversationID, err := uuid.Parse(frame.ConversationID)
		if err != nil {
			_ = c.WriteJSON(fiber.Map{"error": "Invalid conversation ID"})
			continue
		}

		switch frame.Type {
		case "typing", "stop_typing":
			if !joined[conversationID] {
				continue
			}
			h.hub.OnTyping(client, conversationID, frame.Type == "typing")
		case "join":
			// Conversations created after connect need an explicit join.
			ok, err := h.svc.IsParticipant(ctx, conversationID, userID)
			if err != nil || !ok {
				continue
			}
			room := websocket.ConversationRoom(conversationID)
			h.hub.Join(client, room)
			joined[conversationID] = true
			conversationRooms = append(conversationRooms, room)
		case "leave":
			if !joined[conversationID] {
				continue
			}
			h.hub.Leave(client, websocket.ConversationRoom(conversationID))
			delete(joined, conversationID)
		default:
			_ = c.WriteJSON(fiber.Map{"error": "Unknown frame type"})
		}
	}
}

func parseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(config.Config("JWT_SECRET")), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
