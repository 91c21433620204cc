package api

import (
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/peerdeck/peerdeck-server/internal/signal"
)

// GatewayHandler upgrades HTTP connections to control-channel WebSockets.
type GatewayHandler struct {
	hub *signal.Hub
}

// NewGatewayHandler creates a new gateway handler.
func NewGatewayHandler(hub *signal.Hub) *GatewayHandler {
	return &GatewayHandler{hub: hub}
}

// Upgrade handles GET /ws. It upgrades the HTTP connection to a WebSocket and hands it to the Hub.
func (h *GatewayHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return websocket.New(func(conn *websocket.Conn) {
		h.hub.ServeWebSocket(conn.Conn)
	})(c)
}
