package fusion

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/thetombrider/chatbotcollectibus-sub002/internal/analyzer"
	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/logger"
)

// Retriever is the retrieval collaborator contract.
type Retriever interface {
	Retrieve(ctx context.Context, embedding []float32, text string, k int, threshold float64) ([]Evidence, error)
	RetrieveByIdentifier(ctx context.Context, tokens []string, limit int) ([]Evidence, error)
}

// Embedder turns text into a query vector.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type Config struct {
	TopK                 int
	SimilarityThreshold  float64
	ComparativeTopK      int
	ComparativeThreshold float64
	FusedCap             int
	BackfillMin          int
	LowSimilarityAvg     float64
	IdentifierLimit      int
}

func DefaultConfig() Config {
	return Config{
		TopK:                 10,
		SimilarityThreshold:  0.30,
		ComparativeTopK:      8,
		ComparativeThreshold: 0.25,
		FusedCap:             15,
		BackfillMin:          10,
		LowSimilarityAvg:     0.5,
		IdentifierLimit:      10,
	}
}

type Engine struct {
	retriever Retriever
	embedder  Embedder
	cfg       Config
}

func NewEngine(retriever Retriever, embedder Embedder, cfg Config) *Engine {
	if cfg.FusedCap == 0 {
		cfg = DefaultConfig()
	}
	return &Engine{
		retriever: retriever,
		embedder:  embedder,
		cfg:       cfg,
	}
}

var filenamePattern = regexp.MustCompile(`(?i)\b[\w][\w\-]*\.(?:pdf|docx?|txt|md|csv|xlsx?|pptx?)\b`)

// ExtractFilenameTokens pulls filename-like tokens out of the raw query.
func ExtractFilenameTokens(query string) []string {
	matches := filenamePattern.FindAllString(query, -1)
	seen := make(map[string]bool, len(matches))
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		m = strings.ToLower(strings.TrimSpace(m))
		if seen[m] {
			continue
		}
		seen[m] = true
		tokens = append(tokens, m)
	}
	return tokens
}

// Fuse retrieves, merges and ranks evidence for the query. rawQuery is the
// user's text (identifier extraction), expandedQuery the retrieval text.
// The returned set carries dense ordinals 1..N.
func (e *Engine) Fuse(ctx context.Context, rawQuery, expandedQuery string, analysis analyzer.Analysis) ([]Evidence, error) {
	queryVec, err := e.embedder.GenerateEmbedding(ctx, expandedQuery)
	if err != nil {
		return nil, err
	}

	var fused []Evidence
	if analysis.IsComparative && len(analysis.ComparativeTerms) >= 2 {
		fused = e.fuseComparative(ctx, expandedQuery, queryVec, analysis.ComparativeTerms)
	} else {
		fused, err = e.retriever.Retrieve(ctx, queryVec, expandedQuery, e.cfg.TopK, e.cfg.SimilarityThreshold)
		if err != nil {
			return nil, err
		}
		fused = capSorted(dedupeMaxWins(fused), e.cfg.FusedCap)
	}

	fused = e.supplementByIdentifier(ctx, rawQuery, analysis, fused)

	for i := range fused {
		fused[i].OrdinalInContext = i + 1
	}

	logger.Info("Evidence fused",
		zap.Int("count", len(fused)),
		zap.Float64("avg_similarity", AvgSimilarity(fused)),
		zap.Bool("comparative", analysis.IsComparative),
	)

	return fused, nil
}

// fuseComparative fans out one retrieval per compared term. Branches run
// concurrently with all-settled semantics: a failed term is logged and
// treated as empty, never failing its siblings.
func (e *Engine) fuseComparative(ctx context.Context, expandedQuery string, queryVec []float32, terms []string) []Evidence {
	var (
		mu      sync.Mutex
		results []Evidence
		wg      sync.WaitGroup
	)

	for _, term := range terms {
		wg.Add(1)
		go func(term string) {
			defer wg.Done()

			vec, err := e.embedder.GenerateEmbedding(ctx, term)
			if err != nil {
				logger.Warn("Term embedding failed, skipping branch",
					zap.String("term", term), zap.Error(err))
				return
			}

			items, err := e.retriever.Retrieve(ctx, vec, term, e.cfg.ComparativeTopK, e.cfg.ComparativeThreshold)
			if err != nil {
				logger.Warn("Term retrieval failed, skipping branch",
					zap.String("term", term), zap.Error(err))
				return
			}

			mu.Lock()
			results = append(results, items...)
			mu.Unlock()
		}(term)
	}
	wg.Wait()

	fused := capSorted(dedupeMaxWins(results), e.cfg.FusedCap)

	// Backfill from the unsplit query when per-term retrieval came up short.
	if len(fused) < e.cfg.BackfillMin {
		extra, err := e.retriever.Retrieve(ctx, queryVec, expandedQuery, e.cfg.TopK, e.cfg.SimilarityThreshold)
		if err != nil {
			logger.Warn("Backfill retrieval failed", zap.Error(err))
			return fused
		}

		present := make(map[string]bool, len(fused))
		for _, it := range fused {
			present[it.ID] = true
		}
		for _, it := range extra {
			if !present[it.ID] {
				fused = append(fused, it)
			}
		}
		fused = capSorted(fused, e.cfg.FusedCap)

		logger.Debug("Backfill pass completed", zap.Int("count", len(fused)))
	}

	return fused
}

// supplementByIdentifier adds chunks matched by filename when the query names
// files, or when vector similarity is weak enough that a literal lookup with
// the query's own tokens is worth trying.
func (e *Engine) supplementByIdentifier(ctx context.Context, rawQuery string, analysis analyzer.Analysis, fused []Evidence) []Evidence {
	tokens := ExtractFilenameTokens(rawQuery)
	if len(tokens) == 0 {
		if AvgSimilarity(fused) >= e.cfg.LowSimilarityAvg && len(fused) > 0 {
			return fused
		}
		tokens = analysis.Tokens
	}
	if len(tokens) == 0 {
		return fused
	}

	extra, err := e.retriever.RetrieveByIdentifier(ctx, tokens, e.cfg.IdentifierLimit)
	if err != nil {
		logger.Warn("Identifier lookup failed", zap.Error(err))
		return fused
	}
	if len(extra) == 0 {
		return fused
	}

	return Combine(fused, extra)
}

// Combine unions vector-derived and identifier-derived evidence by identity.
// On overlap the vector-derived instance (and its score) wins; identifier-only
// matches are marked and appended after the vector-derived items.
func Combine(vectorResults, identifierResults []Evidence) []Evidence {
	present := make(map[string]bool, len(vectorResults))
	for _, it := range vectorResults {
		present[it.ID] = true
	}

	combined := make([]Evidence, len(vectorResults), len(vectorResults)+len(identifierResults))
	copy(combined, vectorResults)

	for _, it := range identifierResults {
		if !present[it.ID] {
			present[it.ID] = true
			it.IdentifierMatch = true
			combined = append(combined, it)
		}
	}
	return combined
}

// dedupeMaxWins merges duplicates by ID keeping the higher-similarity
// instance.
func dedupeMaxWins(items []Evidence) []Evidence {
	best := make(map[string]Evidence, len(items))
	order := make([]string, 0, len(items))
	for _, it := range items {
		prev, ok := best[it.ID]
		if !ok {
			order = append(order, it.ID)
			best[it.ID] = it
			continue
		}
		if it.Similarity > prev.Similarity {
			best[it.ID] = it
		}
	}

	out := make([]Evidence, 0, len(best))
	for _, id := range order {
		out = append(out, best[id])
	}
	return out
}

func capSorted(items []Evidence, cap int) []Evidence {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Similarity > items[j].Similarity
	})
	if len(items) > cap {
		items = items[:cap]
	}
	return items
}
