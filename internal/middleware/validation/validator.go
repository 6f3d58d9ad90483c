package validation

import (
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
)

type Config struct {
	MaxQueryLength      int
	MaxDocumentSize     int
	AllowedContentTypes []string
}

// Middleware enforces basic request hygiene before handlers parse bodies:
// content type allow-list, query length cap, document size cap.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = 5000
	}
	if cfg.MaxDocumentSize <= 0 {
		cfg.MaxDocumentSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			if !contentTypeAllowed(c.Get("Content-Type"), cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		path := c.Path()

		if strings.HasSuffix(path, "/query") && c.Method() == fiber.MethodPost {
			var req struct {
				Query string `json:"query"`
			}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}
			if req.Query == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Query is required",
				})
			}
			if len(req.Query) > cfg.MaxQueryLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Query exceeds maximum length",
				})
			}
			if !utf8.ValidString(req.Query) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Query must be valid UTF-8",
				})
			}
		}

		if strings.HasSuffix(path, "/documents") && c.Method() == fiber.MethodPost {
			if len(c.Body()) > cfg.MaxDocumentSize {
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Document content exceeds maximum size",
				})
			}
			var req struct {
				Filename string `json:"filename"`
			}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}
			if strings.Contains(req.Filename, "..") || strings.ContainsAny(req.Filename, "/\\") {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid filename",
				})
			}
		}

		return c.Next()
	}
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	if contentType == "" {
		return true
	}
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}
