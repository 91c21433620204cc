package machine

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/peerdeck/peerdeck-server/internal/protocol"
)

func TestValidatePlatform(t *testing.T) {
	for _, p := range []string{PlatformWindows, PlatformMacOS, PlatformLinux} {
		if err := ValidatePlatform(p); err != nil {
			t.Errorf("ValidatePlatform(%q) = %v", p, err)
		}
	}
	for _, p := range []string{"", "freebsd", "Linux", "win32"} {
		if !errors.Is(ValidatePlatform(p), ErrInvalidPlatform) {
			t.Errorf("ValidatePlatform(%q) should fail", p)
		}
	}
}

func TestValidateName(t *testing.T) {
	if err := ValidateName("laptop"); err != nil {
		t.Errorf("ValidateName(laptop) = %v", err)
	}
	if !errors.Is(ValidateName(""), ErrNameLength) {
		t.Error("empty name should fail")
	}
	if !errors.Is(ValidateName(strings.Repeat("x", 65)), ErrNameLength) {
		t.Error("65-char name should fail")
	}
}

func TestToInfo(t *testing.T) {
	id := uuid.New()
	seen := time.Now()
	m := Machine{
		ID:       id,
		Name:     "laptop",
		Platform: PlatformLinux,
		IsOnline: true,
		LastSeen: seen,
		Capabilities: protocol.Capabilities{
			HasGit: true, HasNode: true, HasPython: true,
		},
	}

	info := m.ToInfo(true)
	if info.ID != id.String() || info.Name != "laptop" || info.Platform != PlatformLinux {
		t.Errorf("info = %+v", info)
	}
	if !info.IsOnline || !info.IsOwn {
		t.Errorf("flags = online:%v own:%v", info.IsOnline, info.IsOwn)
	}
	if !info.Capabilities.HasGit || info.Capabilities.HasRust {
		t.Errorf("capabilities = %+v", info.Capabilities)
	}
	if !info.LastSeen.Equal(seen) {
		t.Errorf("lastSeen = %s", info.LastSeen)
	}
}
