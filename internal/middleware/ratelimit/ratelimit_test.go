package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestTakeRefills(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 2, Logger: zaptest.NewLogger(t)})
	defer rl.Stop()

	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	_, _, ok := rl.take("a")
	assert.True(t, ok)
	_, _, ok = rl.take("a")
	assert.True(t, ok)

	_, wait, ok := rl.take("a")
	assert.False(t, ok)
	assert.InDelta(t, 30*time.Second, wait, float64(time.Millisecond))

	_, _, ok = rl.take("b")
	assert.True(t, ok, "buckets are per key")

	now = now.Add(31 * time.Second)
	_, _, ok = rl.take("a")
	assert.True(t, ok)
}

func TestEvictIdle(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 5})
	defer rl.Stop()

	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }
	rl.take("a")

	now = now.Add(11 * time.Minute)
	rl.evictIdle(10 * time.Minute)
	assert.Empty(t, rl.buckets)
}

func TestMiddleware(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 1, SkipPaths: []string{"/health"}})
	defer rl.Stop()

	app := fiber.New()
	app.Use(rl.Middleware())
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/api", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	send := func(path, client string) int {
		req := httptest.NewRequest("GET", path, nil)
		req.Header.Set("X-Client-ID", client)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusOK, send("/api", "c1"))
	assert.Equal(t, fiber.StatusTooManyRequests, send("/api", "c1"))
	assert.Equal(t, fiber.StatusOK, send("/api", "c2"))
	assert.Equal(t, fiber.StatusOK, send("/health", "c1"))
	assert.Equal(t, fiber.StatusOK, send("/health", "c1"))
}
