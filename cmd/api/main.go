package main

import (
	"log"
	"time"

	"github.com/Ajinkyabhamre/research-collaboration-platform-sub001/cache"
	config "github.com/Ajinkyabhamre/research-collaboration-platform-sub001/configs"
	"github.com/Ajinkyabhamre/research-collaboration-platform-sub001/database"
	"github.com/Ajinkyabhamre/research-collaboration-platform-sub001/handlers"
	"github.com/Ajinkyabhamre/research-collaboration-platform-sub001/jobs"
	"github.com/Ajinkyabhamre/research-collaboration-platform-sub001/routes"
	"github.com/Ajinkyabhamre/research-collaboration-platform-sub001/services"
	"github.com/Ajinkyabhamre/research-collaboration-platform-sub001/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

func main() {
	db := database.ConnectDB()
	database.Migrate(db)
	database.SeedAdmin(db)

	rdb := redis.NewClient(&redis.Options{
		Addr: config.ConfigOr("REDIS_URL", "localhost:6379"),
	})
	cacheStore := cache.NewStore(rdb)

	hub := websocket.NewHub()
	go hub.Run()

	messagingService := services.NewMessagingService(db, cacheStore, hub)
	messagingHandler := handlers.NewMessagingHandler(messagingService, hub)

	c := cron.New()
	c.AddFunc("*/10 * * * *", func() { jobs.AuditUnreadCounts(db) })
	go c.Start()
	log.Println("✅ Cron job for unread-counter audit scheduled successfully.")

	app := fiber.New(fiber.Config{
		AppName:       "Research Collaboration Platform",
		CaseSensitive: true,
		StrictRouting: true,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		IdleTimeout:   60 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}

			log.Printf("[ERROR] %v | Path: %s | Method: %s", err, c.Path(), c.Method())
			return c.Status(code).JSON(fiber.Map{
				"status":  "error",
				"code":    code,
				"message": err.Error(),
			})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowMethods:  "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		ExposeHeaders: "Content-Length, Authorization",
		MaxAge:        86400,
	}))

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		TimeFormat: "2006-01-02 15:04:05",
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	routes.MessagingRoutes(app, messagingHandler)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})

	port := config.ConfigOr("PORT", "8080")
	log.Printf("✅ Server is running on port %s", port)
	err := app.Listen(":" + port)
	if err != nil {
		log.Fatalf("🔥 Server failed to start: %v", err)
	}
}
