package handlers

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/thetombrider/chatbotcollectibus-sub002/internal/query"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/stream"
	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/logger"
)

const queryTimeout = 120 * time.Second

type WebSocketHandler struct {
	queryEngine   *query.Engine
	maxFrameChars int
}

func NewWebSocketHandler(queryEngine *query.Engine, maxFrameChars int) *WebSocketHandler {
	return &WebSocketHandler{
		queryEngine:   queryEngine,
		maxFrameChars: maxFrameChars,
	}
}

// HandleConnection serves queries over one websocket. Each incoming query
// gets its own delivery controller, so each answer ends in exactly one
// terminal frame; the connection then stays open for the next query.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type             string `json:"type"`
			Query            string `json:"query"`
			ConversationID   string `json:"conversation_id"`
			UserID           string `json:"user_id"`
			WebSearchEnabled bool   `json:"web_search_enabled"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			return
		}

		if msg.Type != "query" || msg.Query == "" {
			continue
		}

		ctrl := stream.NewController(c, h.maxFrameChars)

		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		_, err := h.queryEngine.Process(ctx, query.Request{
			Query:            msg.Query,
			ConversationID:   msg.ConversationID,
			UserID:           msg.UserID,
			WebSearchEnabled: msg.WebSearchEnabled,
		}, ctrl)
		cancel()

		if err != nil {
			logger.Error("Failed to process websocket query", zap.Error(err))
			ctrl.SendError("Failed to process query")
		}
		ctrl.Close()
	}
}
