package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestApp(t *testing.T) *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{
		MaxQueryLength:    50,
		MaxDocumentSize:   64,
		MaxBatchDocuments: 2,
		Logger:            zaptest.NewLogger(t),
	}))
	ok := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) }
	app.Post("/api/v1/query", ok)
	app.Get("/api/v1/query/history", ok)
	app.Post("/api/v1/documents", ok)
	return app
}

func post(t *testing.T, app *fiber.App, path, contentType, body string) int {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestQueryValidation(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"query": "who leads Microsoft"}`, fiber.StatusOK},
		{"words that look like sql are fine", `{"query": "who created and updated the merger"}`, fiber.StatusOK},
		{"with options", `{"query": "tim cook", "kind": "entity", "max_results": 5, "filters": {"entity_type": "person"}}`, fiber.StatusOK},
		{"malformed json", `{"query":`, fiber.StatusBadRequest},
		{"missing query", `{}`, fiber.StatusBadRequest},
		{"blank query", `{"query": "   "}`, fiber.StatusBadRequest},
		{"non string query", `{"query": 42}`, fiber.StatusBadRequest},
		{"too long", `{"query": "` + strings.Repeat("a", 51) + `"}`, fiber.StatusBadRequest},
		{"script", `{"query": "<script>alert(1)</script>"}`, fiber.StatusBadRequest},
		{"unknown kind", `{"query": "x", "kind": "magic"}`, fiber.StatusBadRequest},
		{"zero max results", `{"query": "x", "max_results": 0}`, fiber.StatusBadRequest},
		{"list filters", `{"query": "x", "filters": ["a"]}`, fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, post(t, app, "/api/v1/query", "application/json", tt.body))
		})
	}
}

func TestDocumentValidation(t *testing.T) {
	app := newTestApp(t)

	assert.Equal(t, fiber.StatusOK, post(t, app, "/api/v1/documents", "application/json",
		`{"url": "https://example.com/a", "html_content": "<p>hi</p>"}`))
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, "/api/v1/documents", "application/json",
		`{"url": "ftp://example.com/a"}`))
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, post(t, app, "/api/v1/documents", "application/json",
		`{"url": "https://example.com/a", "html_content": "`+strings.Repeat("x", 65)+`"}`))
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, "/api/v1/documents", "application/json",
		`{"documents": [{}, {}, {}]}`))
}

func TestContentTypeAndMethods(t *testing.T) {
	app := newTestApp(t)

	assert.Equal(t, fiber.StatusUnsupportedMediaType, post(t, app, "/api/v1/query", "text/plain", `{"query": "x"}`))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/query/history", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
