package ingestion

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/thetombrider/chatbotcollectibus-sub002/internal/llm"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/storage/models"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/storage/sqlite"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/vector/milvus"
	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/logger"
	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/utils"
)

// Document is one file handed in for indexing. Content is plain text or
// HTML; HTML is detected and stripped.
type Document struct {
	Folder   string
	Filename string
	Title    string
	Content  string
}

// Processor chunks documents, embeds the chunks and writes them to the
// vector store, keeping the metadata table in step.
type Processor struct {
	db           *sqlite.Client
	vectorDB     *milvus.Client
	llmClient    *llm.Client
	chunkSize    int
	chunkOverlap int
}

func NewProcessor(db *sqlite.Client, vectorDB *milvus.Client, llmClient *llm.Client) *Processor {
	return &Processor{
		db:           db,
		vectorDB:     vectorDB,
		llmClient:    llmClient,
		chunkSize:    1000,
		chunkOverlap: 100,
	}
}

func (p *Processor) ProcessDocument(ctx context.Context, doc Document) (int, error) {
	logger.Info("Processing document",
		zap.String("folder", doc.Folder),
		zap.String("filename", doc.Filename),
	)

	text := doc.Content
	if looksLikeHTML(text) {
		text = p.cleanHTML(text)
	}
	text = collapseWhitespace(text)
	if text == "" {
		return 0, fmt.Errorf("no content extracted from %s", doc.Filename)
	}

	title := doc.Title
	if title == "" {
		title = titleFromFilename(doc.Filename)
	}

	chunks := p.chunkText(text)
	logger.Debug("Document chunked",
		zap.String("filename", doc.Filename),
		zap.Int("chunks", len(chunks)),
	)

	embeddings, err := p.llmClient.GenerateBatchEmbeddings(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(chunks))
	}

	docID := utils.HashString(doc.Folder + "/" + doc.Filename)
	vectorChunks := make([]milvus.Chunk, 0, len(chunks))
	for i, chunkText := range chunks {
		vectorChunks = append(vectorChunks, milvus.Chunk{
			ChunkID:   fmt.Sprintf("%s_%d", docID, i),
			Embedding: embeddings[i],
			Text:      chunkText,
			Filename:  doc.Filename,
			Folder:    doc.Folder,
			Title:     title,
		})
	}

	if err := p.vectorDB.InsertChunks(ctx, vectorChunks); err != nil {
		return 0, fmt.Errorf("failed to index chunks: %w", err)
	}

	if err := p.db.UpsertDocument(&models.DocumentMeta{
		ID:         docID,
		Folder:     doc.Folder,
		Filename:   doc.Filename,
		Title:      title,
		FileType:   strings.TrimPrefix(filepath.Ext(doc.Filename), "."),
		ChunkCount: len(chunks),
		CreatedAt:  time.Now(),
	}); err != nil {
		return 0, fmt.Errorf("failed to record document metadata: %w", err)
	}

	logger.Info("Document indexed",
		zap.String("doc_id", docID),
		zap.String("filename", doc.Filename),
		zap.Int("chunks", len(chunks)),
	)

	return len(chunks), nil
}

func looksLikeHTML(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<body") ||
		strings.Contains(lower, "<div") || strings.Contains(lower, "<p>")
}

func (p *Processor) cleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	body := doc.Find("body")
	if body.Length() == 0 {
		return doc.Text()
	}
	return body.Text()
}

var whitespacePattern = regexp.MustCompile(`\s+`)

func collapseWhitespace(text string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}

func titleFromFilename(filename string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	base = strings.ReplaceAll(base, "_", " ")
	base = strings.ReplaceAll(base, "-", " ")
	return strings.TrimSpace(base)
}

// chunkText splits on word boundaries with a character budget per chunk and
// a word-level overlap carried into the next chunk.
func (p *Processor) chunkText(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var currentChunk strings.Builder
	currentSize := 0

	for _, word := range words {
		wordLen := len(word) + 1

		if currentSize+wordLen > p.chunkSize && currentChunk.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(currentChunk.String()))

			overlapWords := strings.Fields(currentChunk.String())
			overlapStart := len(overlapWords) - p.chunkOverlap/10
			if overlapStart < 0 {
				overlapStart = 0
			}
			currentChunk.Reset()
			currentChunk.WriteString(strings.Join(overlapWords[overlapStart:], " ") + " ")
			currentSize = currentChunk.Len()
		}

		currentChunk.WriteString(word + " ")
		currentSize += wordLen
	}

	if currentChunk.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(currentChunk.String()))
	}

	return chunks
}
