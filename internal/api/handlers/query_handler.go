package handlers

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kgraph/backend/internal/query"
	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/logger"
)

type StatsSource interface {
	Stats() models.GraphStats
}

type HistorySource interface {
	GetQueryHistory(ctx context.Context, limit int) ([]models.QueryRecord, error)
}

type QueryHandler struct {
	dispatcher *query.Dispatcher
	stats      StatsSource
	history    HistorySource
}

// NewQueryHandler wires the query routes. history may be nil.
func NewQueryHandler(dispatcher *query.Dispatcher, stats StatsSource, history HistorySource) *QueryHandler {
	return &QueryHandler{
		dispatcher: dispatcher,
		stats:      stats,
		history:    history,
	}
}

type queryRequest struct {
	Query      string          `json:"query"`
	Kind       string          `json:"kind"`
	Filters    json.RawMessage `json:"filters"`
	MaxResults *int            `json:"max_results"`
}

func (r queryRequest) toRequest() query.Request {
	return query.Request{
		Text:       r.Query,
		Kind:       models.QueryKind(r.Kind),
		Filters:    r.Filters,
		MaxResults: r.MaxResults,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req queryRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Debug("Failed to parse query body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	response, err := h.dispatcher.Query(c.Context(), req.toRequest())
	if err != nil {
		return respondError(c, err, "Failed to process query")
	}

	return c.JSON(response)
}

func (h *QueryHandler) GetAnalytics(c *fiber.Ctx) error {
	return c.JSON(h.dispatcher.Analytics(c.Context()))
}

func (h *QueryHandler) GetNeighborhood(c *fiber.Ctx) error {
	depth := c.QueryInt("depth", 1)

	neighborhood, err := h.dispatcher.GetEntityNeighborhood(c.Params("id"), depth)
	if err != nil {
		return respondError(c, err, "Failed to load neighborhood")
	}

	return c.JSON(neighborhood)
}

func (h *QueryHandler) GetStats(c *fiber.Ctx) error {
	return c.JSON(h.stats.Stats())
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	if h.history == nil {
		return c.JSON(fiber.Map{
			"history": []models.QueryRecord{},
		})
	}

	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 500",
		})
	}

	records, err := h.history.GetQueryHistory(c.Context(), limit)
	if err != nil {
		return respondError(c, err, "Failed to load query history")
	}
	if records == nil {
		records = []models.QueryRecord{}
	}

	return c.JSON(fiber.Map{
		"history": records,
	})
}
