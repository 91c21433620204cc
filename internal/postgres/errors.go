package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the schema can raise: 23505 from the users email and machines (user_id, name) unique constraints,
// 23503 from the user and machine foreign keys on sessions and machines.
const (
	sqlstateUniqueViolation     = "23505"
	sqlstateForeignKeyViolation = "23503"
)

func sqlstate(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique constraint violation, such as a duplicate registration email or a
// duplicate (owner, name) machine pair.
func IsUniqueViolation(err error) bool {
	return sqlstate(err) == sqlstateUniqueViolation
}

// IsForeignKeyViolation reports whether err is a foreign key violation, e.g. a session or machine row referencing a
// user that no longer exists.
func IsForeignKeyViolation(err error) bool {
	return sqlstate(err) == sqlstateForeignKeyViolation
}
