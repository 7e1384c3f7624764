package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Register mounts the v1 API on router. ws may be nil to disable streaming.
func Register(router fiber.Router, q *QueryHandler, d *DocumentHandler, ws *WebSocketHandler) {
	api := router.Group("/api/v1")

	api.Post("/query", q.HandleQuery)
	api.Get("/query/history", q.GetQueryHistory)
	api.Get("/analytics", q.GetAnalytics)
	api.Get("/stats", q.GetStats)
	api.Get("/entities/:id/neighborhood", q.GetNeighborhood)

	api.Post("/documents", d.UploadDocument)

	if ws != nil {
		api.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		api.Get("/ws/query", websocket.New(ws.HandleConnection))
	}
}
