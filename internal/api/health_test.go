package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeCounter struct{ n int }

func (c fakeCounter) ClientCount() int { return c.n }

func healthApp(db DBPinger, clients int) *fiber.App {
	app := fiber.New()
	app.Get("/health", NewHealthHandler(db, fakeCounter{n: clients}).Health)
	return app
}

func getHealth(t *testing.T, app *fiber.App) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := io.ReadAll(resp.Body)
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return resp, body
}

func TestHealthOK(t *testing.T) {
	resp, body := getHealth(t, healthApp(fakePinger{}, 3))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" || body["database"] != "ok" || body["clients"] != float64(3) {
		t.Errorf("body = %v", body)
	}
}

func TestHealthDegraded(t *testing.T) {
	for name, db := range map[string]DBPinger{
		"ping failure": fakePinger{err: errors.New("connection refused")},
		"no pool":      nil,
	} {
		t.Run(name, func(t *testing.T) {
			resp, body := getHealth(t, healthApp(db, 0))
			if resp.StatusCode != fiber.StatusServiceUnavailable {
				t.Fatalf("status = %d, want 503", resp.StatusCode)
			}
			if body["status"] != "degraded" || body["database"] != "unavailable" {
				t.Errorf("body = %v", body)
			}
		})
	}
}
