package ice

import (
	"testing"

	"github.com/peerdeck/peerdeck-server/internal/config"
)

func TestServersSTUNOnly(t *testing.T) {
	cfg := &config.Config{
		STUNServers: []string{"stun:stun.example.com:3478"},
		TURNURL:     "turn:turn.example.com:3478",
		// No credential: TURN entries must be omitted.
	}

	servers := Servers(cfg)
	if len(servers) != 1 {
		t.Fatalf("len(servers) = %d, want 1", len(servers))
	}
	if servers[0].URLs != "stun:stun.example.com:3478" || servers[0].Credential != "" {
		t.Errorf("servers[0] = %+v", servers[0])
	}
}

func TestServersWithTURN(t *testing.T) {
	cfg := &config.Config{
		STUNServers:    []string{"stun:stun.example.com:3478"},
		TURNURL:        "turn:turn.example.com:3478",
		TURNTCPURL:     "turn:turn.example.com:3478?transport=tcp",
		TURNSURL:       "",
		TURNUsername:   "deck",
		TURNCredential: "secret",
	}

	servers := Servers(cfg)
	if len(servers) != 3 {
		t.Fatalf("len(servers) = %d, want 3", len(servers))
	}
	for _, s := range servers[1:] {
		if s.Username != "deck" || s.Credential != "secret" {
			t.Errorf("TURN entry missing credentials: %+v", s)
		}
	}
}
