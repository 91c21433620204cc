package machine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// selectColumns lists the columns returned by queries that produce a Machine. Every method that scans into a Machine
// must select these columns in this exact order.
const selectColumns = `id, user_id, name, platform, last_seen, is_online, capabilities, created_at`

// scanMachine scans a single row into a *Machine. The row must contain the columns listed in selectColumns.
func scanMachine(row pgx.Row) (*Machine, error) {
	var m Machine
	err := row.Scan(
		&m.ID, &m.UserID, &m.Name, &m.Platform,
		&m.LastSeen, &m.IsOnline, &m.Capabilities, &m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan machine: %w", err)
	}
	return &m, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed machine repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Register upserts a machine on the (user_id, name) unique constraint. Re-registration refreshes platform,
// capabilities, and last_seen and flips the machine online, never creating a second row.
func (r *PGRepository) Register(ctx context.Context, params RegisterParams) (*Machine, error) {
	m, err := scanMachine(r.db.QueryRow(ctx,
		`INSERT INTO machines (user_id, name, platform, capabilities, is_online, last_seen)
		 VALUES ($1, $2, $3, $4, TRUE, NOW())
		 ON CONFLICT (user_id, name) DO UPDATE
		 SET platform = EXCLUDED.platform,
		     capabilities = EXCLUDED.capabilities,
		     is_online = TRUE,
		     last_seen = NOW()
		 RETURNING `+selectColumns,
		params.UserID, params.Name, params.Platform, params.Capabilities,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert machine: %w", err)
	}
	return m, nil
}

// SetOnline writes the online flag and refreshes last_seen.
func (r *PGRepository) SetOnline(ctx context.Context, id uuid.UUID, online bool) error {
	_, err := r.db.Exec(ctx,
		`UPDATE machines SET is_online = $1, last_seen = NOW() WHERE id = $2`,
		online, id,
	)
	if err != nil {
		return fmt.Errorf("update machine online flag: %w", err)
	}
	return nil
}

// Heartbeat refreshes last_seen without touching the online flag.
func (r *PGRepository) Heartbeat(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE machines SET last_seen = NOW() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("refresh machine last_seen: %w", err)
	}
	return nil
}

// ListOwned returns the user's machines ordered by name.
func (r *PGRepository) ListOwned(ctx context.Context, userID uuid.UUID) ([]Machine, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM machines WHERE user_id = $1 ORDER BY name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query machines by user: %w", err)
	}
	defer rows.Close()

	var machines []Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, err
		}
		machines = append(machines, *m)
	}
	return machines, rows.Err()
}

// GetByID returns the machine matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Machine, error) {
	m, err := scanMachine(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM machines WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query machine by id: %w", err)
	}
	return m, nil
}

// SweepStale marks offline every machine that is currently online with last_seen older than the timeout, returning
// the transitioned ids. The single UPDATE keeps the transition atomic under concurrent heartbeats.
func (r *PGRepository) SweepStale(ctx context.Context, timeout time.Duration) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE machines
		 SET is_online = FALSE
		 WHERE is_online = TRUE AND last_seen < NOW() - $1::interval
		 RETURNING id`,
		timeout,
	)
	if err != nil {
		return nil, fmt.Errorf("sweep stale machines: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan swept machine id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CanAccess reports whether the user may connect to the machine. The rule is ownership today; team sharing will
// extend this query without touching any caller.
func (r *PGRepository) CanAccess(ctx context.Context, userID, machineID uuid.UUID) (bool, error) {
	var allowed bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM machines WHERE id = $1 AND user_id = $2)`,
		machineID, userID,
	).Scan(&allowed)
	if err != nil {
		return false, fmt.Errorf("check machine access: %w", err)
	}
	return allowed, nil
}

// Delete removes the machine scoped to its owner.
func (r *PGRepository) Delete(ctx context.Context, userID, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM machines WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("delete machine: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Rename renames the machine scoped to its owner. Renaming to the current name is a no-op that still reports success.
func (r *PGRepository) Rename(ctx context.Context, userID, id uuid.UUID, newName string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE machines SET name = $1 WHERE id = $2 AND user_id = $3`,
		newName, id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("rename machine: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
