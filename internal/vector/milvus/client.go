package milvus

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/logger"
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

// SearchResult is one retrieved chunk. Similarity is cosine similarity in
// [0,1]; it doubles as the vector score for fusion.
type SearchResult struct {
	ChunkID    string
	Text       string
	Filename   string
	Folder     string
	Title      string
	Similarity float64
}

func NewClient(endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

// Chunk is one embedded fragment as written at ingestion time.
type Chunk struct {
	ChunkID   string
	Embedding []float32
	Text      string
	Filename  string
	Folder    string
	Title     string
}

func (m *Client) InsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, 0, len(chunks))
	vectors := make([][]float32, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	filenames := make([]string, 0, len(chunks))
	folders := make([]string, 0, len(chunks))
	titles := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		ids = append(ids, ch.ChunkID)
		vectors = append(vectors, ch.Embedding)
		texts = append(texts, ch.Text)
		filenames = append(filenames, ch.Filename)
		folders = append(folders, ch.Folder)
		titles = append(titles, ch.Title)
	}

	_, err := m.client.Insert(ctx, m.collectionName, "",
		entity.NewColumnVarChar("chunk_id", ids),
		entity.NewColumnFloatVector("embedding", m.vectorDim, vectors),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("filename", filenames),
		entity.NewColumnVarChar("folder", folders),
		entity.NewColumnVarChar("title", titles),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush collection: %w", err)
	}

	logger.Info("Chunks inserted",
		zap.String("collection", m.collectionName),
		zap.Int("count", len(chunks)),
	)
	return nil
}

func (m *Client) CreateCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Knowledge base chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:       "text",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "8192"},
			},
			{
				Name:       "filename",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "512"},
			},
			{
				Name:       "folder",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "512"},
			},
			{
				Name:       "title",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "1024"},
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, _ := entity.NewIndexIvfFlat(entity.COSINE, 1024)
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

// Search runs a vector search and keeps only hits at or above the similarity
// threshold.
func (m *Client) Search(ctx context.Context, queryEmbedding []float32, topK int, threshold float64) ([]SearchResult, error) {
	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		"",
		[]string{"chunk_id", "text", "filename", "folder", "title"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := collectResults(searchResult, threshold)

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Float64("threshold", threshold),
		zap.Int("results", len(results)),
	)

	return results, nil
}

// SearchByIdentifier looks up chunks whose filename contains any of the given
// tokens. Results carry no vector score; similarity is left at zero.
func (m *Client) SearchByIdentifier(ctx context.Context, tokens []string, limit int) ([]SearchResult, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.ReplaceAll(tok, `"`, "")
		if tok == "" {
			continue
		}
		clauses = append(clauses, fmt.Sprintf(`filename like "%%%s%%"`, tok))
	}
	if len(clauses) == 0 {
		return nil, nil
	}
	expr := strings.Join(clauses, " || ")

	queryResult, err := m.client.Query(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"chunk_id", "text", "filename", "folder", "title"},
		client.WithLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query by identifier: %w", err)
	}

	results := make([]SearchResult, 0)
	n := queryResult.GetColumn("chunk_id").Len()
	for i := 0; i < n && i < limit; i++ {
		r, err := rowFromColumns(queryResult, i)
		if err != nil {
			logger.Warn("Failed to read identifier match", zap.Error(err))
			continue
		}
		results = append(results, r)
	}

	logger.Debug("Identifier lookup completed",
		zap.Strings("tokens", tokens),
		zap.Int("results", len(results)),
	)

	return results, nil
}

func collectResults(searchResult []client.SearchResult, threshold float64) []SearchResult {
	results := make([]SearchResult, 0)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			r, err := rowFromColumns(sr.Fields, i)
			if err != nil {
				logger.Warn("Failed to read search hit", zap.Error(err))
				continue
			}
			r.Similarity = clampSimilarity(float64(sr.Scores[i]))
			if r.Similarity < threshold {
				continue
			}
			results = append(results, r)
		}
	}
	return results
}

func rowFromColumns(cols client.ResultSet, i int) (SearchResult, error) {
	var r SearchResult

	chunkID, err := cols.GetColumn("chunk_id").Get(i)
	if err != nil {
		return r, fmt.Errorf("failed to read chunk_id: %w", err)
	}
	text, err := cols.GetColumn("text").Get(i)
	if err != nil {
		return r, fmt.Errorf("failed to read text: %w", err)
	}
	filename, err := cols.GetColumn("filename").Get(i)
	if err != nil {
		return r, fmt.Errorf("failed to read filename: %w", err)
	}
	folder, err := cols.GetColumn("folder").Get(i)
	if err != nil {
		return r, fmt.Errorf("failed to read folder: %w", err)
	}
	title, err := cols.GetColumn("title").Get(i)
	if err != nil {
		return r, fmt.Errorf("failed to read title: %w", err)
	}

	r.ChunkID = chunkID.(string)
	r.Text = text.(string)
	r.Filename = filename.(string)
	r.Folder = folder.(string)
	r.Title = title.(string)
	return r, nil
}

// clampSimilarity pins cosine scores into [0,1]; Milvus can report values a
// hair outside due to float error.
func clampSimilarity(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
