package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/thetombrider/chatbotcollectibus-sub002/internal/ingestion"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/storage/sqlite"
	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/logger"
)

type DocumentHandler struct {
	processor *ingestion.Processor
	db        *sqlite.Client
}

func NewDocumentHandler(processor *ingestion.Processor, db *sqlite.Client) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
		db:        db,
	}
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req struct {
		Folder   string `json:"folder"`
		Filename string `json:"filename"`
		Title    string `json:"title"`
		Content  string `json:"content"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Filename == "" || req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "filename and content are required",
		})
	}

	chunks, err := h.processor.ProcessDocument(c.Context(), ingestion.Document{
		Folder:   req.Folder,
		Filename: req.Filename,
		Title:    req.Title,
		Content:  req.Content,
	})
	if err != nil {
		logger.Error("Failed to process document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process document",
		})
	}

	return c.JSON(fiber.Map{
		"message":  "Document indexed",
		"filename": req.Filename,
		"chunks":   chunks,
	})
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	folder := c.Query("folder")
	limit := c.QueryInt("limit", 100)

	docs, err := h.db.ListDocuments(folder, limit)
	if err != nil {
		logger.Error("Failed to list documents", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list documents",
		})
	}

	items := make([]fiber.Map, 0, len(docs))
	for _, d := range docs {
		items = append(items, fiber.Map{
			"id":          d.ID,
			"folder":      d.Folder,
			"filename":    d.Filename,
			"title":       d.Title,
			"file_type":   d.FileType,
			"chunk_count": d.ChunkCount,
		})
	}

	return c.JSON(fiber.Map{"documents": items})
}

func (h *DocumentHandler) ListFolders(c *fiber.Ctx) error {
	folders, err := h.db.ListFolders()
	if err != nil {
		logger.Error("Failed to list folders", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list folders",
		})
	}

	return c.JSON(fiber.Map{"folders": folders})
}

func (h *DocumentHandler) CollectionStats(c *fiber.Ctx) error {
	stats, err := h.db.CollectionStats()
	if err != nil {
		logger.Error("Failed to read collection stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read collection stats",
		})
	}

	return c.JSON(fiber.Map{
		"document_count": stats.DocumentCount,
		"chunk_count":    stats.ChunkCount,
		"folder_count":   stats.FolderCount,
		"file_types":     stats.FileTypes,
	})
}
