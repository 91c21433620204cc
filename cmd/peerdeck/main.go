package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/peerdeck/peerdeck-server/internal/api"
	"github.com/peerdeck/peerdeck-server/internal/auth"
	"github.com/peerdeck/peerdeck-server/internal/config"
	"github.com/peerdeck/peerdeck-server/internal/machine"
	"github.com/peerdeck/peerdeck-server/internal/postgres"
	"github.com/peerdeck/peerdeck-server/internal/signal"
	"github.com/peerdeck/peerdeck-server/internal/user"
)

// sessionPurgeInterval paces the expired-session cleanup.
const sessionPurgeInterval = time.Hour

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().Str("env", cfg.ServerEnv).Msg("Starting PeerDeck Server")

	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		log.Warn().Msg("ALLOWED_ORIGINS is set to a wildcard \"*\". This allows any origin to make requests to your server. Set an explicit origin (e.g. https://your-client.example.com) for production deployments.")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The pool connects lazily. The server still comes up when the database is down; registry and identity
	// operations fail per-request until it returns, but signaling between already-connected peers keeps working.
	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	dbUp := pingDatabase(ctx, db)
	if dbUp {
		log.Info().Msg("PostgreSQL connected")
		if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		log.Info().Msg("Database migrations complete")
	} else {
		log.Warn().Msg("PostgreSQL unreachable, continuing in degraded mode (migrations deferred to next start)")
	}

	userRepo := user.NewPGRepository(db, log.Logger)
	machineRepo := machine.NewPGRepository(db, log.Logger)
	sessionRepo := auth.NewPGSessionRepository(db)
	authService := auth.NewService(userRepo, sessionRepo, cfg, log.Logger)

	broker := signal.NewBroker(machineRepo, cfg.ConnectTimeout, log.Logger)
	hub := signal.NewHub(cfg, authService, machineRepo, broker, log.Logger)

	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Hub sweep loop stopped")
		}
	}()
	go purgeSessions(ctx, sessionRepo)

	app := fiber.New(fiber.Config{
		AppName: "PeerDeck",
		// ErrorHandler catches errors returned by handlers that are not already mapped to structured responses
		// (e.g. Fiber's built-in 404/405). errors.AsType is a generic helper added in Go 1.26.
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "an internal error occurred"
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				message = e.Message
			} else {
				log.Error().Err(err).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("Unhandled error")
			}
			return c.Status(status).JSON(fiber.Map{"error": message})
		},
	})

	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} ${locals:requestid} ${method} ${path} ${status} ${latency}\n",
		TimeFormat: time.RFC3339,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.AllowedOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))

	registerRoutes(app, cfg, db, authService, hub)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		cancel()
		hub.Shutdown()
		_ = app.Shutdown()
	}()

	log.Info().Str("addr", cfg.Addr()).Msg("Server listening")
	if err := app.Listen(cfg.Addr(), fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func registerRoutes(
	app *fiber.App,
	cfg *config.Config,
	db *pgxpool.Pool,
	authService *auth.Service,
	hub *signal.Hub,
) {
	health := api.NewHealthHandler(db, hub)
	app.Get("/health", health.Health)

	app.Get("/ice-servers", api.NewICEHandler(cfg).Servers)

	authHandler := api.NewAuthHandler(authService, log.Logger)

	// Auth routes with stricter rate limiting
	authGroup := app.Group("/auth")
	authGroup.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitAuthCount,
		Expiration: time.Duration(cfg.RateLimitAuthWindowSeconds) * time.Second,
	}))
	authGroup.Post("/register", authHandler.Register)
	authGroup.Post("/login", authHandler.Login)
	authGroup.Get("/me", authHandler.Me)

	app.Get("/ws", api.NewGatewayHandler(hub).Upgrade)
}

// pingDatabase checks database reachability with a short deadline.
func pingDatabase(ctx context.Context, db *pgxpool.Pool) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.Ping(pingCtx) == nil
}

// purgeSessions periodically deletes expired session rows. Errors are logged and retried on the next tick, which also
// covers the database being away for a while.
func purgeSessions(ctx context.Context, sessions auth.SessionRepository) {
	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := sessions.DeleteExpired(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Session purge failed")
				continue
			}
			if deleted > 0 {
				log.Info().Int64("deleted", deleted).Msg("Purged expired sessions")
			}
		}
	}
}
