package httpapi

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tonads/escrow-coordinator/internal/auth"
	"github.com/tonads/escrow-coordinator/internal/config"
	"github.com/tonads/escrow-coordinator/internal/events"
)

// Hub fans deal/escrow lifecycle events out to connected operator
// dashboards; it is read-only, no client message is ever acted on beyond
// keeping the connection alive.
type Hub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[*websocket.Conn]struct{}
}

func NewHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *Hub {
	return &Hub{
		cfg:         cfg,
		subscriber:  subscriber,
		log:         log,
		connections: make(map[*websocket.Conn]struct{}),
	}
}

func (h *Hub) Start(ctx context.Context) {
	if err := h.subscriber.Subscribe(ctx, events.Stream, h.broadcast); err != nil {
		h.log.Error("failed to subscribe operator event hub", zap.Error(err))
	}
}

func (h *Hub) broadcast(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.connections {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
}

// UpgradeMiddleware rejects non-websocket requests before the handshake,
// the standard gofiber/contrib/websocket pattern.
func UpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// HandleWS authenticates the connection as an operator, registers it, and
// blocks on a read loop purely to detect disconnect.
func (h *Hub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}
	claims, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}
	if !h.cfg.IsOperator(claims.TelegramUserID) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"operator access required"}`))
		conn.Close()
		return
	}

	h.mu.Lock()
	h.connections[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.connections, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
