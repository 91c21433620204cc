package machine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/peerdeck/peerdeck-server/internal/protocol"
)

// Sentinel errors for the machine package.
var (
	ErrNotFound        = errors.New("machine not found")
	ErrInvalidPlatform = errors.New("platform must be one of windows, macos, linux")
	ErrNameLength      = errors.New("machine name must be between 1 and 64 characters")
)

// Platforms accepted for registration.
const (
	PlatformWindows = "windows"
	PlatformMacOS   = "macos"
	PlatformLinux   = "linux"
)

// Machine is a registered endpoint owned by exactly one user. (user_id, name) is unique; re-registering the same pair
// upserts platform and capabilities rather than creating a second row.
type Machine struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Name         string
	Platform     string
	LastSeen     time.Time
	IsOnline     bool
	Capabilities protocol.Capabilities
	CreatedAt    time.Time
}

// ToInfo converts the machine to its wire list-view. isOwn is always true today because listing is owner-scoped; the
// flag exists so shared machines can be distinguished once sharing lands.
func (m *Machine) ToInfo(isOwn bool) protocol.MachineInfo {
	return protocol.MachineInfo{
		ID:           m.ID.String(),
		Name:         m.Name,
		Platform:     m.Platform,
		IsOnline:     m.IsOnline,
		IsOwn:        isOwn,
		LastSeen:     m.LastSeen,
		Capabilities: m.Capabilities,
	}
}

// RegisterParams groups the inputs for registering (or re-registering) a machine.
type RegisterParams struct {
	UserID       uuid.UUID
	Name         string
	Platform     string
	Capabilities protocol.Capabilities
}

// ValidateName checks that a machine name is between 1 and 64 bytes after trimming is the caller's concern.
func ValidateName(name string) error {
	if len(name) < 1 || len(name) > 64 {
		return ErrNameLength
	}
	return nil
}

// ValidatePlatform checks the platform against the accepted set.
func ValidatePlatform(platform string) error {
	switch platform {
	case PlatformWindows, PlatformMacOS, PlatformLinux:
		return nil
	default:
		return ErrInvalidPlatform
	}
}

// Repository defines the data-access contract for machine operations.
type Repository interface {
	// Register upserts on (user_id, name), flips the machine online, and refreshes last_seen.
	Register(ctx context.Context, params RegisterParams) (*Machine, error)
	// SetOnline writes the online flag and refreshes last_seen.
	SetOnline(ctx context.Context, id uuid.UUID, online bool) error
	// Heartbeat refreshes last_seen only.
	Heartbeat(ctx context.Context, id uuid.UUID) error
	// ListOwned returns the user's machines ordered by name.
	ListOwned(ctx context.Context, userID uuid.UUID) ([]Machine, error)
	// GetByID returns the machine or ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*Machine, error)
	// SweepStale atomically marks offline every machine that is online with last_seen older than the timeout, and
	// returns the transitioned ids.
	SweepStale(ctx context.Context, timeout time.Duration) ([]uuid.UUID, error)
	// CanAccess reports whether the user may connect to the machine. Currently ownership; the sharing rule will live
	// here so callers never change.
	CanAccess(ctx context.Context, userID, machineID uuid.UUID) (bool, error)
	// Delete removes the machine scoped to its owner, reporting whether a row was affected.
	Delete(ctx context.Context, userID, id uuid.UUID) (bool, error)
	// Rename renames the machine scoped to its owner, reporting whether a row was affected.
	Rename(ctx context.Context, userID, id uuid.UUID, newName string) (bool, error)
}
