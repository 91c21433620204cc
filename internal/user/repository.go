package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/peerdeck/peerdeck-server/internal/postgres"
)

// selectColumns lists the columns returned by queries that produce a *User. Every method that scans into a User must
// select these columns in this exact order.
const selectColumns = `id, email, username, created_at`

// scanUser scans a single row into a *User. The row must contain the columns listed in selectColumns.
func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed user repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new user and returns the stored row. Returns ErrAlreadyExists when the email is taken.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`INSERT INTO users (email, username, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING `+selectColumns,
		params.Email, params.Username, params.PasswordHash,
	))
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetByID returns the user matching the given ID, without the password digest.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by id: %w", err)
	}
	return u, nil
}

// GetByEmail returns the user with credentials matching the given email address. This is the only method that returns
// the password digest, since it serves the authentication path.
func (r *PGRepository) GetByEmail(ctx context.Context, email string) (*Credentials, error) {
	var c Credentials
	err := r.db.QueryRow(ctx,
		`SELECT `+selectColumns+`, password_hash FROM users WHERE email = $1`, email,
	).Scan(&c.ID, &c.Email, &c.Username, &c.CreatedAt, &c.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by email: %w", err)
	}
	return &c, nil
}
