package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/peerdeck/peerdeck-server/internal/auth"
	"github.com/peerdeck/peerdeck-server/internal/config"
	"github.com/peerdeck/peerdeck-server/internal/protocol"
	"github.com/peerdeck/peerdeck-server/internal/user"
)

// testTimeout extends the default app.Test() deadline so bcrypt hashing under the race detector does not trigger a
// spurious i/o timeout.
var testTimeout = fiber.TestConfig{Timeout: 30 * time.Second}

// fakeRepo implements user.Repository for handler tests.
type fakeRepo struct {
	users map[string]*user.Credentials
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: make(map[string]*user.Credentials)}
}

func (r *fakeRepo) Create(_ context.Context, params user.CreateParams) (*user.User, error) {
	if _, exists := r.users[params.Email]; exists {
		return nil, user.ErrAlreadyExists
	}
	c := &user.Credentials{
		User: user.User{
			ID:        uuid.New(),
			Email:     params.Email,
			Username:  params.Username,
			CreatedAt: time.Now(),
		},
		PasswordHash: params.PasswordHash,
	}
	r.users[params.Email] = c
	u := c.User
	return &u, nil
}

func (r *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	for _, c := range r.users {
		if c.ID == id {
			u := c.User
			return &u, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r *fakeRepo) GetByEmail(_ context.Context, email string) (*user.Credentials, error) {
	c, ok := r.users[email]
	if !ok {
		return nil, user.ErrNotFound
	}
	return c, nil
}

func newAuthApp(t *testing.T) *fiber.App {
	t.Helper()
	cfg := &config.Config{
		JWTSecret:    "0123456789abcdef0123456789abcdef",
		JWTExpiresIn: time.Hour,
	}
	svc := auth.NewService(newFakeRepo(), nil, cfg, zerolog.Nop())
	handler := NewAuthHandler(svc, zerolog.Nop())

	app := fiber.New()
	app.Post("/auth/register", handler.Register)
	app.Post("/auth/login", handler.Login)
	app.Get("/auth/me", handler.Me)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, testTimeout)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	return resp
}

func decodeAuthBody(t *testing.T, resp *http.Response) authBody {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var body authBody
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal response %s: %v", raw, err)
	}
	return body
}

func TestRegisterEndpoint(t *testing.T) {
	app := newAuthApp(t)

	resp := postJSON(t, app, "/auth/register",
		`{"email":"a@x.dev","username":"al","password":"password1"}`)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	body := decodeAuthBody(t, resp)
	if body.User.Email != "a@x.dev" || body.Token == "" {
		t.Errorf("response = %+v", body)
	}
}

func TestRegisterEndpointValidation(t *testing.T) {
	app := newAuthApp(t)

	cases := []struct {
		name string
		body string
	}{
		{"bad email", `{"email":"nope","username":"al","password":"password1"}`},
		{"short password", `{"email":"a@x.dev","username":"al","password":"pw"}`},
		{"short username", `{"email":"a@x.dev","username":"a","password":"password1"}`},
		{"malformed json", `{"email":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, app, "/auth/register", tc.body)
			if resp.StatusCode != fiber.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestLoginEndpoint(t *testing.T) {
	app := newAuthApp(t)
	postJSON(t, app, "/auth/register",
		`{"email":"a@x.dev","username":"al","password":"password1"}`)

	resp := postJSON(t, app, "/auth/login",
		`{"email":"a@x.dev","password":"password1"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeAuthBody(t, resp)
	if body.Token == "" {
		t.Error("login returned no token")
	}

	resp = postJSON(t, app, "/auth/login",
		`{"email":"a@x.dev","password":"wrong-password"}`)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", resp.StatusCode)
	}
}

func TestMeEndpoint(t *testing.T) {
	app := newAuthApp(t)
	reg := decodeAuthBody(t, postJSON(t, app, "/auth/register",
		`{"email":"a@x.dev","username":"al","password":"password1"}`))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+reg.Token)
	resp, err := app.Test(req, testTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	raw, _ := io.ReadAll(resp.Body)
	var u protocol.User
	if err := json.Unmarshal(raw, &u); err != nil {
		t.Fatal(err)
	}
	if u.ID != reg.User.ID {
		t.Errorf("me = %+v, want user %s", u, reg.User.ID)
	}

	// Missing and garbage tokens are both 401.
	for _, header := range []string{"", "Bearer garbage"} {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		if header != "" {
			req.Header.Set(fiber.HeaderAuthorization, header)
		}
		resp, err := app.Test(req, testTimeout)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != fiber.StatusUnauthorized {
			t.Errorf("header %q status = %d, want 401", header, resp.StatusCode)
		}
	}
}
