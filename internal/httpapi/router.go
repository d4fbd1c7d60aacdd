package httpapi

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tonads/escrow-coordinator/internal/apperr"
	"github.com/tonads/escrow-coordinator/internal/config"
	"github.com/tonads/escrow-coordinator/internal/middleware"
)

// NewApp wires every route and the shared Fiber ErrorHandler, which maps
// any apperr.Error escaping a handler or middleware to its Kind's HTTP
// status. The handlers in this package write their own error responses
// through respondErr, which applies the same Kind-to-status mapping.
func NewApp(cfg *config.Config, log *zap.Logger, rdb *redis.Client, h *Handlers, hub *Hub) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if ae, ok := apperr.As(err); ok {
				return c.Status(ae.Kind.HTTPStatus()).JSON(Envelope{Success: false, Error: ae.Message, Fields: ae.Fields})
			}
			code := fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				code = fe.Code
			}
			return c.Status(code).JSON(Envelope{Success: false, Error: err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	app.Get("/health", h.Health)

	api := app.Group("/api")
	api.Post("/auth", h.TelegramAuth)

	api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))

	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	protected.Post("/channels", h.CreateChannel)
	protected.Get("/channels", h.ListChannels)
	protected.Get("/channels/:id", h.GetChannel)
	protected.Post("/channels/:id/verify", h.VerifyChannel)
	protected.Post("/channels/:id/admins", h.AddChannelAdmin)
	protected.Get("/channels/:id/admins", h.ListChannelAdmins)

	protected.Post("/campaigns", h.CreateCampaign)
	protected.Get("/campaigns", h.ListCampaigns)

	protected.Post("/deals", h.CreateDeal)
	protected.Get("/deals", h.ListDeals)
	protected.Get("/deals/:id", h.GetDeal)
	protected.Get("/deals/:id/status", h.DealStatus)
	protected.Post("/deals/:id/transition", h.Transition)
	protected.Post("/deals/:id/accept", h.AcceptDeal)
	protected.Post("/deals/:id/post", h.SchedulePost)
	protected.Post("/deals/:id/release", h.ReleaseEscrow)
	protected.Get("/deals/:id/escrow", h.EscrowStatus)
	protected.Post("/deals/:id/escrow/verify", h.VerifyDeposit)

	protected.Post("/permission/check", h.CheckPermission)

	operator := protected.Group("/operator", middleware.OperatorMiddleware(cfg))
	operator.Get("/deals", h.ListAllDeals)

	// The WebSocket handshake carries its own ?token= JWT and operator
	// check inside HandleWS, since upgrade requests don't carry the
	// Authorization header AuthMiddleware expects.
	app.Use("/ws", UpgradeMiddleware())
	app.Get("/ws", websocket.New(hub.HandleWS))

	return app
}
