package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/peerdeck/peerdeck-server/internal/config"
	"github.com/peerdeck/peerdeck-server/internal/ice"
)

func TestICEServersEndpoint(t *testing.T) {
	cfg := &config.Config{
		STUNServers:    []string{"stun:stun.l.google.com:19302"},
		TURNURL:        "turn:turn.example.com:3478",
		TURNUsername:   "deck",
		TURNCredential: "secret",
	}

	app := fiber.New()
	app.Get("/ice-servers", NewICEHandler(cfg).Servers)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ice-servers", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	raw, _ := io.ReadAll(resp.Body)
	var body struct {
		ICEServers []ice.Server `json:"iceServers"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	if len(body.ICEServers) != 2 {
		t.Fatalf("servers = %+v, want STUN + TURN", body.ICEServers)
	}
	if body.ICEServers[1].Credential != "secret" {
		t.Errorf("TURN entry = %+v", body.ICEServers[1])
	}
}
