package api

import (
	"github.com/gofiber/fiber/v3"

	"github.com/peerdeck/peerdeck-server/internal/config"
	"github.com/peerdeck/peerdeck-server/internal/ice"
)

// ICEHandler serves the ICE server list.
type ICEHandler struct {
	cfg *config.Config
}

// NewICEHandler creates a new ICE handler.
func NewICEHandler(cfg *config.Config) *ICEHandler {
	return &ICEHandler{cfg: cfg}
}

// Servers handles GET /ice-servers. The list is assembled per request so TURN credential rotation via config
// reload needs no handler changes.
func (h *ICEHandler) Servers(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"iceServers": ice.Servers(h.cfg)})
}
