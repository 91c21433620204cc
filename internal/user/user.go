package user

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/peerdeck/peerdeck-server/internal/protocol"
)

// Sentinel errors for the user package.
var (
	ErrNotFound      = errors.New("user not found")
	ErrAlreadyExists = errors.New("email already taken")
)

// User holds the identity fields read from the database, without the password digest.
type User struct {
	ID        uuid.UUID
	Email     string
	Username  string
	CreatedAt time.Time
}

// ToModel converts the internal user struct to the wire view. HTTP handlers and the control-channel hub both call
// this method rather than maintaining their own copies.
func (u *User) ToModel() protocol.User {
	return protocol.User{
		ID:        u.ID.String(),
		Email:     u.Email,
		Username:  u.Username,
		CreatedAt: u.CreatedAt,
	}
}

// Credentials extends User with the password digest. Only the repository method serving the authentication path
// returns this type; all other reads return *User to prevent digest leakage at the type level.
type Credentials struct {
	User
	PasswordHash string
}

// CreateParams groups the inputs for creating a new user. Email must already be normalised to lower case.
type CreateParams struct {
	Email        string
	Username     string
	PasswordHash string
}

// Repository defines the data-access contract for user operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*Credentials, error)
}
