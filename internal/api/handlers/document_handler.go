package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kgraph/backend/internal/ingestion"
	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/logger"
)

type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

type DocumentHandler struct {
	processor *ingestion.Processor
	fetcher   PageFetcher
}

// NewDocumentHandler wires document intake. fetcher may be nil, in which case
// pages must be posted with their html_content.
func NewDocumentHandler(processor *ingestion.Processor, fetcher PageFetcher) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
		fetcher:   fetcher,
	}
}

// documentRequest carries one of: a web page (url, with or without
// html_content), a single structured document or a batch of them.
type documentRequest struct {
	URL         string             `json:"url"`
	HTMLContent string             `json:"html_content"`
	Document    *models.Document   `json:"document"`
	Documents   []*models.Document `json:"documents"`
}

type batchItem struct {
	ingestion.Outcome
	Error string `json:"error,omitempty"`
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req documentRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Debug("Failed to parse document body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	switch {
	case req.HTMLContent != "" && req.URL == "":
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "url is required with html_content",
		})

	case req.URL != "":
		html := req.HTMLContent
		if html == "" {
			if h.fetcher == nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "html_content is required",
				})
			}
			fetched, err := h.fetcher.Fetch(c.Context(), req.URL)
			if err != nil {
				return respondError(c, err, "Failed to fetch page")
			}
			html = fetched
		}
		outcome, err := h.processor.IngestHTML(c.Context(), req.URL, html)
		if err != nil {
			return respondError(c, err, "Failed to process document")
		}
		return c.Status(fiber.StatusCreated).JSON(outcome)

	case req.Document != nil:
		outcome, err := h.processor.Ingest(c.Context(), req.Document)
		if err != nil {
			return respondError(c, err, "Failed to process document")
		}
		return c.Status(fiber.StatusCreated).JSON(outcome)

	case len(req.Documents) > 0:
		outcomes, err := h.processor.IngestBatch(c.Context(), req.Documents)
		if err != nil {
			return respondError(c, err, "Failed to process documents")
		}
		items := make([]batchItem, len(outcomes))
		failed := 0
		for i, o := range outcomes {
			items[i] = batchItem{Outcome: o}
			if o.Err != nil {
				items[i].Error = o.Err.Error()
				failed++
			}
		}
		return c.JSON(fiber.Map{
			"results": items,
			"failed":  failed,
		})
	}

	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "one of url, document or documents is required",
	})
}
