package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/concretepros/directory-api/internal/auth"
)

func newTestApp(m *AuthMiddleware) *fiber.App {
	app := fiber.New()
	app.Get("/me", m.Authenticate(), func(c *fiber.Ctx) error {
		return c.SendString(GetUserID(c) + "|" + GetUserEmail(c))
	})
	return app
}

func TestAuthenticate_LegacyToken(t *testing.T) {
	app := newTestApp(NewLegacyAuthMiddleware("secret"))
	token, err := auth.IssueLegacyToken("secret", "admin-1", "admin@example.com", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	cases := map[string]struct {
		path   string
		header string
		want   int
	}{
		"bearer header":       {"/me", "Bearer " + token, http.StatusOK},
		"query token":         {"/me?access_token=" + token, "", http.StatusOK},
		"missing":             {"/me", "", http.StatusUnauthorized},
		"wrong scheme":        {"/me", "Basic " + token, http.StatusUnauthorized},
		"header wins on junk": {"/me?access_token=" + token, "Bearer junk", http.StatusUnauthorized},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req, -1)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tc.want {
				t.Errorf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestAuthenticate_GatewayHeaders(t *testing.T) {
	app := newTestApp(NewGatewayAuthMiddleware())

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-User-Id", "admin-7")
	req.Header.Set("X-User-Email", "ops@example.com")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, _ = app.Test(httptest.NewRequest(http.MethodGet, "/me", nil), -1)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without identity headers, got %d", resp.StatusCode)
	}
}

func TestRateLimiter_NilIsPassThrough(t *testing.T) {
	var rl *RateLimiter
	app := fiber.New()
	app.Get("/", rl.JobsLimit(1), func(c *fiber.Ctx) error { return c.SendStatus(http.StatusNoContent) })

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
		if err != nil || resp.StatusCode != http.StatusNoContent {
			t.Fatalf("request %d: %v %v", i, err, resp)
		}
	}
}
