package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/thetombrider/chatbotcollectibus-sub002/internal/query"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/storage/sqlite"
	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/logger"
)

type QueryHandler struct {
	queryEngine *query.Engine
	db          *sqlite.Client
}

func NewQueryHandler(queryEngine *query.Engine, db *sqlite.Client) *QueryHandler {
	return &QueryHandler{
		queryEngine: queryEngine,
		db:          db,
	}
}

// HandleQuery runs the pipeline synchronously and returns the reconciled
// answer in one response. Streaming clients use the websocket endpoint.
func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Query            string `json:"query"`
		ConversationID   string `json:"conversation_id"`
		UserID           string `json:"user_id"`
		WebSearchEnabled bool   `json:"web_search_enabled"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	response, err := h.queryEngine.Process(c.Context(), query.Request{
		Query:            req.Query,
		ConversationID:   req.ConversationID,
		UserID:           req.UserID,
		WebSearchEnabled: req.WebSearchEnabled,
	}, nil)
	if err != nil {
		logger.Error("Failed to process query", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process query",
		})
	}

	return c.JSON(response)
}

// GetConversationHistory returns the recent turns of one conversation.
func (h *QueryHandler) GetConversationHistory(c *fiber.Ctx) error {
	conversationID := c.Params("id")
	if conversationID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "conversation id is required",
		})
	}

	limit := c.QueryInt("limit", 50)
	messages, err := h.db.GetRecentMessages(conversationID, limit)
	if err != nil {
		logger.Error("Failed to load conversation history",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load conversation history",
		})
	}

	items := make([]fiber.Map, 0, len(messages))
	for _, m := range messages {
		items = append(items, fiber.Map{
			"id":         m.ID,
			"role":       m.Role,
			"content":    m.Content,
			"created_at": m.CreatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"conversation_id": conversationID,
		"messages":        items,
	})
}
