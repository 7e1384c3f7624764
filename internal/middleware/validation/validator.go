package validation

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/internal/web"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	QueryPath           string
	DocumentsPath       string
	MaxQueryLength      int
	MaxResults          int
	MaxDocumentSize     int
	MaxBatchDocuments   int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects malformed query and document requests before they reach
// the handlers. It only inspects POST bodies of the two configured paths.
func Middleware(cfg Config) fiber.Handler {
	if cfg.QueryPath == "" {
		cfg.QueryPath = "/api/v1/query"
	}
	if cfg.DocumentsPath == "" {
		cfg.DocumentsPath = "/api/v1/documents"
	}
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 2000
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 1000
	}
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 10 * 1024 * 1024
	}
	if cfg.MaxBatchDocuments == 0 {
		cfg.MaxBatchDocuments = 100
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		if contentType != "" && !allowedType(contentType, cfg.AllowedContentTypes) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		var msg string
		switch c.Path() {
		case cfg.QueryPath:
			msg = checkQuery(c, cfg)
		case cfg.DocumentsPath:
			msg = checkDocuments(c, cfg)
		}
		if msg != "" {
			status := fiber.StatusBadRequest
			if msg == errTooLarge {
				status = fiber.StatusRequestEntityTooLarge
			}
			return c.Status(status).JSON(fiber.Map{
				"error": msg,
			})
		}

		return c.Next()
	}
}

const errTooLarge = "Document content exceeds maximum size"

func allowedType(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func checkQuery(c *fiber.Ctx, cfg Config) string {
	var req struct {
		Query      *string         `json:"query"`
		Kind       string          `json:"kind"`
		Filters    json.RawMessage `json:"filters"`
		MaxResults *int            `json:"max_results"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return "Invalid JSON format"
	}

	if req.Query == nil || strings.TrimSpace(*req.Query) == "" {
		return "query is required and must be a string"
	}
	query := *req.Query
	if len(query) > cfg.MaxQueryLength {
		return "query exceeds maximum length"
	}
	if strings.ContainsRune(query, 0) {
		return "query contains invalid characters"
	}
	if xssPattern.MatchString(query) {
		cfg.Logger.Warn("Potential XSS attempt",
			zap.String("ip", c.IP()),
			zap.String("query", query),
		)
		return "Invalid query content"
	}

	if req.Kind != "" && !models.QueryKind(req.Kind).Valid() {
		return "unknown query kind"
	}
	if req.MaxResults != nil && (*req.MaxResults <= 0 || *req.MaxResults > cfg.MaxResults) {
		return "max_results is out of range"
	}
	if f := strings.TrimSpace(string(req.Filters)); f != "" && f != "null" && !strings.HasPrefix(f, "{") {
		return "filters must be an object"
	}
	return ""
}

func checkDocuments(c *fiber.Ctx, cfg Config) string {
	var req struct {
		URL         string            `json:"url"`
		HTMLContent string            `json:"html_content"`
		Documents   []json.RawMessage `json:"documents"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return "Invalid JSON format"
	}

	if req.URL != "" && !web.IsValidURL(req.URL) {
		return "Invalid URL format"
	}
	if len(req.HTMLContent) > cfg.MaxDocumentSize {
		return errTooLarge
	}
	if len(req.Documents) > cfg.MaxBatchDocuments {
		return "too many documents in one batch"
	}
	return ""
}
