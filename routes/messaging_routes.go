package routes

import (
	"github.com/Ajinkyabhamre/research-collaboration-platform-sub001/handlers"
	"github.com/Ajinkyabhamre/research-collaboration-platform-sub001/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

func MessagingRoutes(app *fiber.App, h *handlers.MessagingHandler) {
	api := app.Group("/api/v1")

	conversations := api.Group("/conversations", middleware.Protected())
	conversations.Get("", h.ListConversations)
	conversations.Post("", h.GetOrCreateConversation)
	conversations.Get("/:conversationId/messages", h.ListMessages)
	conversations.Post("/:conversationId/read", h.MarkConversationRead)

	messages := api.Group("/messages", middleware.Protected())
	messages.Post("", h.SendMessage)

	api.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	})
	api.Get("/ws", websocket.New(h.ServeWs))
}
