package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
)

// DBPinger is the slice of the connection pool the health check needs.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// ClientCounter reports the number of live control channels.
type ClientCounter interface {
	ClientCount() int
}

// HealthHandler serves the health check endpoint.
type HealthHandler struct {
	db  DBPinger
	hub ClientCounter
}

// NewHealthHandler creates a new health handler. db may be nil when the server started without a reachable database.
func NewHealthHandler(db DBPinger, hub ClientCounter) *HealthHandler {
	return &HealthHandler{db: db, hub: hub}
}

// Health handles GET /health. Signaling works without the database, so a database outage degrades the status
// without failing the endpoint outright.
func (h *HealthHandler) Health(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c, 3*time.Second)
	defer cancel()

	dbStatus := "ok"
	if h.db == nil {
		dbStatus = "unavailable"
	} else if err := h.db.Ping(ctx); err != nil {
		dbStatus = "unavailable"
	}

	overall := "ok"
	status := fiber.StatusOK
	if dbStatus != "ok" {
		overall = "degraded"
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(fiber.Map{
		"status":   overall,
		"database": dbStatus,
		"clients":  h.hub.ClientCount(),
	})
}
