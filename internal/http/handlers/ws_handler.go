package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/auth"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/config"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/events"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/rbac"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// WSHub fans automation events out to websocket clients watching a profile.
type WSHub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[string][]*websocket.Conn
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:         cfg,
		subscriber:  subscriber,
		log:         log,
		connections: make(map[string][]*websocket.Conn),
	}
}

func (h *WSHub) Start(ctx context.Context) error {
	return h.subscriber.Subscribe(ctx, events.StreamAutomation, h.broadcast)
}

func (h *WSHub) broadcast(event events.Event) {
	profileID, _ := event.Payload["profile_id"].(string)
	if profileID == "" {
		return
	}
	h.SendToProfile(profileID, event)
}

func (h *WSHub) SendToProfile(profileID string, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections[profileID] {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug("ws write failed", zap.String("profile_id", profileID), zap.Error(err))
		}
	}
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// HandleWS expects ?token=<jwt>&profile_id=<profile>.
func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	profileID := conn.Query("profile_id")
	if tokenStr == "" || profileID == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"token and profile_id are required"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr)
	if err != nil || !rbac.HasPermission(claims.Role, rbac.PermView) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	h.mu.Lock()
	h.connections[profileID] = append(h.connections[profileID], conn)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		conns := h.connections[profileID]
		for i, c := range conns {
			if c == conn {
				h.connections[profileID] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.connections[profileID]) == 0 {
			delete(h.connections, profileID)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// Read loop (keep alive / pings)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
