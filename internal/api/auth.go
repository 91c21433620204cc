// Package api contains the HTTP handlers: identity endpoints, the health check, the ICE server list, and the
// WebSocket upgrade for the control channel.
package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/peerdeck/peerdeck-server/internal/auth"
	"github.com/peerdeck/peerdeck-server/internal/protocol"
)

// AuthHandler serves authentication endpoints.
type AuthHandler struct {
	auth *auth.Service
	log  zerolog.Logger
}

// NewAuthHandler creates a new authentication handler.
func NewAuthHandler(svc *auth.Service, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{auth: svc, log: logger}
}

// authBody is the response for register and login: the user plus a bearer token for the control channel.
type authBody struct {
	User  protocol.User `json:"user"`
	Token string        `json:"token"`
}

type registerBody struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c fiber.Ctx) error {
	var body registerBody
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.auth.Register(c, auth.RegisterRequest{
		Email:    body.Email,
		Username: body.Username,
		Password: body.Password,
	})
	if err != nil {
		return h.mapAuthError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(authBody{
		User:  result.User.ToModel(),
		Token: result.Token,
	})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	var body loginBody
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.auth.Login(c, auth.LoginRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		return h.mapAuthError(c, err)
	}

	return c.JSON(authBody{
		User:  result.User.ToModel(),
		Token: result.Token,
	})
}

// Me handles GET /auth/me. It resolves the bearer token to the user it names.
func (h *AuthHandler) Me(c fiber.Ctx) error {
	token := bearerToken(c)
	if token == "" {
		return fail(c, fiber.StatusUnauthorized, "missing bearer token")
	}

	u, err := h.auth.UserFromToken(c, token)
	if err != nil {
		return fail(c, fiber.StatusUnauthorized, "invalid or expired token")
	}

	return c.JSON(u.ToModel())
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(c fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// fail writes a flat JSON error body with the given status.
func fail(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}

// mapAuthError converts auth-layer errors to appropriate HTTP responses.
func (h *AuthHandler) mapAuthError(c fiber.Ctx, err error) error {
	switch {
	case auth.IsValidationError(err):
		return fail(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrEmailAlreadyTaken):
		return fail(c, fiber.StatusBadRequest, "unable to register with the provided email")
	case errors.Is(err, auth.ErrInvalidCredentials):
		return fail(c, fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrInvalidToken):
		return fail(c, fiber.StatusUnauthorized, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "auth").Msg("Unhandled auth service error")
		return fail(c, fiber.StatusInternalServerError, "an internal error occurred")
	}
}
