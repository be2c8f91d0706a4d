package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-chat/internal/auth"
	"github.com/fathima-sithara/realtime-chat/internal/config"
	"github.com/fathima-sithara/realtime-chat/internal/presence"
	"github.com/fathima-sithara/realtime-chat/internal/repository"
	"github.com/fathima-sithara/realtime-chat/internal/rooms"
	"github.com/fathima-sithara/realtime-chat/internal/tracker"
	"github.com/fathima-sithara/realtime-chat/internal/ws"
)

type Server struct {
	cfg      *config.Config
	gateway  *ws.Gateway
	registry *presence.Registry
	status   *presence.StatusStore
	repos    *repository.Repositories
	hub      *rooms.Hub
	tracker  *tracker.Tracker
	jv       *auth.JWTValidator
	log      *zap.SugaredLogger
}

// New builds the Fiber app: websocket upgrade plus the thin REST
// surface around the realtime core.
func New(cfg *config.Config, gw *ws.Gateway, reg *presence.Registry, status *presence.StatusStore, repos *repository.Repositories, hub *rooms.Hub, tr *tracker.Tracker, jv *auth.JWTValidator, log *zap.SugaredLogger) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	app.Use(recover.New())

	s := &Server{cfg: cfg, gateway: gw, registry: reg, status: status, repos: repos, hub: hub, tracker: tr, jv: jv, log: log}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(gw.Handle))

	api := app.Group("/v1", s.requireAuth)
	api.Get("/presence/:user_id", s.getPresence)
	api.Get("/chats/:chat_id/messages", s.listMessages)
	api.Post("/chats", s.createChat)
	api.Patch("/chats/:chat_id", s.updateChat)
	api.Delete("/chats/:chat_id/members/me", s.leaveChat)
	api.Delete("/messages/:id", s.deleteMessage)
	api.Post("/messages/:id/reactions", s.addReaction)
	api.Delete("/messages/:id/reactions", s.removeReaction)

	return app
}

// requireAuth validates the bearer token and stashes the caller's user
// id in locals.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	tok := c.Get("Authorization")
	const prefix = "Bearer "
	if len(tok) > len(prefix) && tok[:len(prefix)] == prefix {
		tok = tok[len(prefix):]
	}
	userID, err := s.jv.Validate(tok)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	c.Locals("user_id", userID)
	return c.Next()
}

func callerID(c *fiber.Ctx) string {
	if v, ok := c.Locals("user_id").(string); ok {
		return v
	}
	return ""
}
