package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/peerdeck/peerdeck-server/internal/config"
	"github.com/peerdeck/peerdeck-server/internal/user"
)

// Service implements identity business logic, keeping HTTP handlers and the control-channel hub thin and focused on
// request parsing / response formatting.
type Service struct {
	users    user.Repository
	sessions SessionRepository
	config   *config.Config
	log      zerolog.Logger
	// dummyHash is a precomputed bcrypt digest used to keep login timing constant when a user is not found,
	// preventing email enumeration via response-time analysis.
	dummyHash string
}

// NewService creates a new identity service. sessions may be nil when the database is unavailable; token issuance
// then skips session bookkeeping.
func NewService(users user.Repository, sessions SessionRepository, cfg *config.Config, logger zerolog.Logger) *Service {
	dummy, err := HashPassword("peerdeck-dummy-password")
	if err != nil {
		// Cannot fail with a valid cost; keep a static digest so the service can still start.
		dummy = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"
	}
	return &Service{
		users:     users,
		sessions:  sessions,
		config:    cfg,
		log:       logger.With().Str("component", "auth").Logger(),
		dummyHash: dummy,
	}
}

// RegisterRequest is the input for Service.Register.
type RegisterRequest struct {
	Email    string
	Username string
	Password string
}

// LoginRequest is the input for Service.Login.
type LoginRequest struct {
	Email    string
	Password string
}

// Result is the output of Register and Login: the stored user plus a signed bearer token.
type Result struct {
	User  *user.User
	Token string
}

// Register validates inputs, stores the user with a bcrypt digest, and returns a token. Returns ErrEmailAlreadyTaken
// when the email is in use.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Result, error) {
	email, err := ValidateEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if err := ValidateUsername(req.Username); err != nil {
		return nil, err
	}
	if err := ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	u, err := s.users.Create(ctx, user.CreateParams{
		Email:        email,
		Username:     req.Username,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, user.ErrAlreadyExists) {
			return nil, ErrEmailAlreadyTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.log.Debug().Str("user_id", u.ID.String()).Msg("User registered")

	token, err := s.IssueToken(ctx, u.ID, u.Email)
	if err != nil {
		return nil, err
	}
	return &Result{User: u, Token: token}, nil
}

// Login verifies credentials and returns a token, or ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*Result, error) {
	email, err := ValidateEmail(req.Email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	c, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// Compare against a dummy digest so "user not found" takes as long as "wrong password".
			VerifyPassword(req.Password, s.dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if !VerifyPassword(req.Password, c.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.IssueToken(ctx, c.ID, c.Email)
	if err != nil {
		return nil, err
	}

	u := c.User
	return &Result{User: &u, Token: token}, nil
}

// IssueToken signs a bearer token for the user and records its digest in the sessions table. Session bookkeeping is
// best-effort: a storage failure is logged but does not block issuance.
func (s *Service) IssueToken(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	token, err := NewToken(userID, email, s.config.JWTSecret, s.config.JWTExpiresIn)
	if err != nil {
		return "", err
	}

	if s.sessions != nil {
		expiresAt := time.Now().Add(s.config.JWTExpiresIn)
		if err := s.sessions.Insert(ctx, userID, HashToken(token), expiresAt); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to record session")
		}
	}
	return token, nil
}

// VerifyToken validates a bearer token and returns its claims, or ErrInvalidToken.
func (s *Service) VerifyToken(token string) (*Claims, error) {
	claims, err := ValidateToken(token, s.config.JWTSecret)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// UserFromToken validates a bearer token and loads the user it names.
func (s *Service) UserFromToken(ctx context.Context, token string) (*user.User, error) {
	claims, err := s.VerifyToken(token)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrInvalidToken
	}
	return s.users.GetByID(ctx, userID)
}
