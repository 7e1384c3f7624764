package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/kgraph/backend/internal/query"
	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/logger"
)

type jsonWriter interface {
	WriteJSON(v interface{}) error
}

type WebSocketHandler struct {
	dispatcher   *query.Dispatcher
	queryTimeout time.Duration
}

func NewWebSocketHandler(dispatcher *query.Dispatcher, queryTimeout time.Duration) *WebSocketHandler {
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	return &WebSocketHandler{
		dispatcher:   dispatcher,
		queryTimeout: queryTimeout,
	}
}

type wsMessage struct {
	Type       string          `json:"type"`
	Query      string          `json:"query"`
	Kind       string          `json:"kind"`
	Filters    json.RawMessage `json:"filters"`
	MaxResults *int            `json:"max_results"`
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "query" {
			continue
		}

		req := queryRequest{
			Query:      msg.Query,
			Kind:       msg.Kind,
			Filters:    msg.Filters,
			MaxResults: msg.MaxResults,
		}

		ctx, cancel := context.WithTimeout(context.Background(), h.queryTimeout)
		err := h.streamResponse(ctx, c, req.toRequest())
		cancel()
		if err != nil {
			logger.Warn("Failed to stream query response", zap.Error(err))
			break
		}
	}
}

// streamResponse sends a status message, one message per result and a
// closing summary. Query failures are reported to the client and are not
// returned; only write failures are.
func (h *WebSocketHandler) streamResponse(ctx context.Context, w jsonWriter, req query.Request) error {
	if err := w.WriteJSON(map[string]interface{}{
		"type":    "status",
		"content": "Processing query...",
	}); err != nil {
		return err
	}

	response, err := h.dispatcher.Query(ctx, req)
	if err != nil {
		msg := err.Error()
		status := statusFor(err)
		if status >= 500 {
			msg = "Failed to process query"
		}
		return w.WriteJSON(map[string]interface{}{
			"type":   "error",
			"error":  msg,
			"status": status,
		})
	}

	for i, result := range response.Results {
		if err := w.WriteJSON(map[string]interface{}{
			"type":   "result",
			"index":  i,
			"result": result,
		}); err != nil {
			return err
		}
	}

	return h.sendComplete(w, response)
}

func (h *WebSocketHandler) sendComplete(w jsonWriter, response *models.QueryResponse) error {
	return w.WriteJSON(map[string]interface{}{
		"type":               "complete",
		"query_id":           response.QueryID,
		"kind":               response.Kind,
		"result_count":       len(response.Results),
		"suggestions":        response.Suggestions,
		"cached":             response.Cached,
		"processing_time_ms": response.ProcessingTime.Milliseconds(),
		"metadata":           response.Metadata,
	})
}
