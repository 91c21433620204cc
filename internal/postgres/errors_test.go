package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}
	if !IsUniqueViolation(unique) {
		t.Error("IsUniqueViolation(23505) = false")
	}
	if !IsUniqueViolation(fmt.Errorf("insert machine: %w", unique)) {
		t.Error("IsUniqueViolation should unwrap")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("IsUniqueViolation(23503) = true")
	}
	if IsUniqueViolation(errors.New("plain")) {
		t.Error("IsUniqueViolation(non-pg error) = true")
	}
}

func TestIsForeignKeyViolation(t *testing.T) {
	if !IsForeignKeyViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("IsForeignKeyViolation(23503) = false")
	}
	if IsForeignKeyViolation(&pgconn.PgError{Code: "23505"}) {
		t.Error("IsForeignKeyViolation(23505) = true")
	}
}
