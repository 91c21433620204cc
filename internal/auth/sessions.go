package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository persists issued-token bookkeeping. Rows store a digest of the bearer token, never the token
// itself, so a database leak does not leak credentials.
type SessionRepository interface {
	Insert(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// HashToken returns the hex SHA-256 digest of a bearer token, the form stored in the sessions table.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// execer is the slice of pgxpool.Pool the repository needs.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGSessionRepository implements SessionRepository using PostgreSQL.
type PGSessionRepository struct {
	db execer
}

// NewPGSessionRepository creates a new PostgreSQL-backed session repository.
func NewPGSessionRepository(db *pgxpool.Pool) *PGSessionRepository {
	return &PGSessionRepository{db: db}
}

// Insert records an issued token.
func (r *PGSessionRepository) Insert(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sessions (user_id, token_hash, expires_at) VALUES ($1, $2, $3)`,
		userID, tokenHash, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// purgeBatchSize caps rows deleted per statement to avoid long-running deletes on a busy table.
const purgeBatchSize = 1000

// DeleteExpired removes expired session rows in batches, returning the total deleted.
func (r *PGSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	const query = `DELETE FROM sessions WHERE ctid IN (SELECT ctid FROM sessions WHERE expires_at < NOW() LIMIT $1)`

	var total int64
	for {
		tag, err := r.db.Exec(ctx, query, purgeBatchSize)
		if err != nil {
			return total, fmt.Errorf("purge expired sessions: %w", err)
		}
		affected := tag.RowsAffected()
		total += affected
		if affected < purgeBatchSize {
			break
		}
	}
	return total, nil
}
