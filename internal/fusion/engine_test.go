package fusion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thetombrider/chatbotcollectibus-sub002/internal/analyzer"
)

type fakeRetriever struct {
	mu sync.Mutex
	// byText maps retrieval text to the evidence it returns.
	byText       map[string][]Evidence
	byIdentifier []Evidence
	retrieveErr  map[string]error
	identErr     error
	calls        []string
	identCalls   [][]string
}

func (f *fakeRetriever) Retrieve(ctx context.Context, embedding []float32, text string, k int, threshold float64) ([]Evidence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	if err := f.retrieveErr[text]; err != nil {
		return nil, err
	}
	items := f.byText[text]
	if len(items) > k {
		items = items[:k]
	}
	out := make([]Evidence, len(items))
	copy(out, items)
	return out, nil
}

func (f *fakeRetriever) RetrieveByIdentifier(ctx context.Context, tokens []string, limit int) ([]Evidence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identCalls = append(f.identCalls, tokens)
	if f.identErr != nil {
		return nil, f.identErr
	}
	return f.byIdentifier, nil
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func ev(id string, sim float64) Evidence {
	return Evidence{ID: id, Content: "content " + id, Similarity: sim, VectorScore: sim, SourceLabel: id + ".pdf"}
}

func evidenceIDs(items []Evidence) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	return ids
}

func TestFuseSingleQuery(t *testing.T) {
	r := &fakeRetriever{byText: map[string][]Evidence{
		"expanded": {ev("a", 0.9), ev("b", 0.7), ev("c", 0.8)},
	}}
	e := NewEngine(r, &fakeEmbedder{}, DefaultConfig())

	got, err := e.Fuse(context.Background(), "raw", "expanded", analyzer.Analysis{Intent: analyzer.IntentGeneral})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "c", "b"}, evidenceIDs(got), "sorted by similarity")
	for i, it := range got {
		assert.Equal(t, i+1, it.OrdinalInContext, "ordinals are dense and 1-based")
	}
}

func TestFuseDedupeMaxWins(t *testing.T) {
	r := &fakeRetriever{byText: map[string][]Evidence{
		"expanded": {ev("a", 0.6), ev("a", 0.9), ev("b", 0.7)},
	}}
	e := NewEngine(r, &fakeEmbedder{}, DefaultConfig())

	got, err := e.Fuse(context.Background(), "raw", "expanded", analyzer.Analysis{})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, 0.9, got[0].Similarity, "duplicate keeps the higher similarity")
}

func TestFuseComparativeFanOut(t *testing.T) {
	r := &fakeRetriever{byText: map[string][]Evidence{
		"GDPR": {ev("g1", 0.8), ev("g2", 0.75), ev("shared", 0.6),
			ev("g3", 0.74), ev("g4", 0.73), ev("g5", 0.72)},
		"CCPA": {ev("c1", 0.82), ev("c2", 0.7), ev("shared", 0.9),
			ev("c3", 0.69), ev("c4", 0.68)},
	}}
	e := NewEngine(r, &fakeEmbedder{}, DefaultConfig())

	got, err := e.Fuse(context.Background(), "raw", "expanded", analyzer.Analysis{
		IsComparative:    true,
		ComparativeTerms: []string{"GDPR", "CCPA"},
	})
	require.NoError(t, err)

	assert.Contains(t, r.calls, "GDPR")
	assert.Contains(t, r.calls, "CCPA")

	shared := 0
	for _, it := range got {
		if it.ID == "shared" {
			shared++
			assert.Equal(t, 0.9, it.Similarity, "overlap keeps the higher-scoring instance")
		}
	}
	assert.Equal(t, 1, shared)
}

func TestFuseComparativeFailedBranchSkipped(t *testing.T) {
	r := &fakeRetriever{
		byText: map[string][]Evidence{
			"GDPR": {ev("g1", 0.8), ev("g2", 0.7), ev("g3", 0.65),
				ev("g4", 0.64), ev("g5", 0.63), ev("g6", 0.62),
				ev("g7", 0.61), ev("g8", 0.60)},
			"expanded": {ev("x1", 0.55), ev("x2", 0.54)},
		},
		retrieveErr: map[string]error{"CCPA": errors.New("timeout")},
	}
	e := NewEngine(r, &fakeEmbedder{}, DefaultConfig())

	got, err := e.Fuse(context.Background(), "raw", "expanded", analyzer.Analysis{
		IsComparative:    true,
		ComparativeTerms: []string{"GDPR", "CCPA"},
	})
	require.NoError(t, err, "one failed branch never fails the fusion")
	assert.NotEmpty(t, got)
}

func TestFuseComparativeBackfill(t *testing.T) {
	// Per-term retrieval yields fewer than BackfillMin items, so the unsplit
	// query backfills; already-present IDs are not duplicated.
	r := &fakeRetriever{byText: map[string][]Evidence{
		"GDPR":     {ev("g1", 0.8)},
		"CCPA":     {ev("c1", 0.82)},
		"expanded": {ev("g1", 0.5), ev("x1", 0.6), ev("x2", 0.55)},
	}}
	e := NewEngine(r, &fakeEmbedder{}, DefaultConfig())

	got, err := e.Fuse(context.Background(), "raw", "expanded", analyzer.Analysis{
		IsComparative:    true,
		ComparativeTerms: []string{"GDPR", "CCPA"},
	})
	require.NoError(t, err)

	assert.Contains(t, r.calls, "expanded", "backfill queries the unsplit text")
	assert.ElementsMatch(t, []string{"g1", "c1", "x1", "x2"}, evidenceIDs(got))
	for _, it := range got {
		if it.ID == "g1" {
			assert.Equal(t, 0.8, it.Similarity, "per-term instance survives the union")
		}
	}
}

func TestFuseComparativeNoBackfillWhenEnough(t *testing.T) {
	items := make([]Evidence, 0, 8)
	for i := 0; i < 8; i++ {
		items = append(items, ev(fmt.Sprintf("g%d", i), 0.8-float64(i)*0.01))
	}
	other := make([]Evidence, 0, 8)
	for i := 0; i < 8; i++ {
		other = append(other, ev(fmt.Sprintf("c%d", i), 0.8-float64(i)*0.01))
	}
	r := &fakeRetriever{byText: map[string][]Evidence{
		"GDPR": items,
		"CCPA": other,
	}}
	e := NewEngine(r, &fakeEmbedder{}, DefaultConfig())

	got, err := e.Fuse(context.Background(), "raw", "expanded", analyzer.Analysis{
		IsComparative:    true,
		ComparativeTerms: []string{"GDPR", "CCPA"},
	})
	require.NoError(t, err)

	assert.NotContains(t, r.calls, "expanded", "no backfill at or above the minimum")
	assert.Len(t, got, 15, "capped at the fused maximum")
}

func TestFuseCapRespected(t *testing.T) {
	items := make([]Evidence, 0, 20)
	for i := 0; i < 20; i++ {
		items = append(items, ev(fmt.Sprintf("e%d", i), 0.9-float64(i)*0.01))
	}
	cfg := DefaultConfig()
	cfg.TopK = 20
	r := &fakeRetriever{byText: map[string][]Evidence{"expanded": items}}
	e := NewEngine(r, &fakeEmbedder{}, cfg)

	got, err := e.Fuse(context.Background(), "raw", "expanded", analyzer.Analysis{})
	require.NoError(t, err)
	assert.Len(t, got, cfg.FusedCap)
}

func TestSupplementByFilename(t *testing.T) {
	r := &fakeRetriever{
		byText:       map[string][]Evidence{"expanded": {ev("a", 0.9)}},
		byIdentifier: []Evidence{ev("f1", 0), ev("a", 0)},
	}
	e := NewEngine(r, &fakeEmbedder{}, DefaultConfig())

	got, err := e.Fuse(context.Background(), "summarize report-2024.pdf please", "expanded", analyzer.Analysis{})
	require.NoError(t, err)

	require.Len(t, r.identCalls, 1)
	assert.Equal(t, []string{"report-2024.pdf"}, r.identCalls[0])
	assert.Equal(t, []string{"a", "f1"}, evidenceIDs(got), "overlap keeps the vector instance, identifier-only appended last")
	assert.Equal(t, 0.9, got[0].Similarity)
	assert.False(t, got[0].IdentifierMatch, "the vector instance wins the overlap")
	assert.True(t, got[1].IdentifierMatch, "identifier-only matches are marked")
}

func TestSupplementOnLowSimilarity(t *testing.T) {
	r := &fakeRetriever{
		byText:       map[string][]Evidence{"expanded": {ev("a", 0.3), ev("b", 0.35)}},
		byIdentifier: []Evidence{ev("t1", 0)},
	}
	e := NewEngine(r, &fakeEmbedder{}, DefaultConfig())

	got, err := e.Fuse(context.Background(), "no filenames here", "expanded", analyzer.Analysis{
		Tokens: []string{"retention", "policy"},
	})
	require.NoError(t, err)

	require.Len(t, r.identCalls, 1)
	assert.Equal(t, []string{"retention", "policy"}, r.identCalls[0], "falls back to analysis tokens")
	assert.Contains(t, evidenceIDs(got), "t1")
}

func TestNoSupplementOnStrongSimilarity(t *testing.T) {
	r := &fakeRetriever{
		byText:       map[string][]Evidence{"expanded": {ev("a", 0.8), ev("b", 0.75)}},
		byIdentifier: []Evidence{ev("t1", 0)},
	}
	e := NewEngine(r, &fakeEmbedder{}, DefaultConfig())

	got, err := e.Fuse(context.Background(), "no filenames here", "expanded", analyzer.Analysis{
		Tokens: []string{"retention"},
	})
	require.NoError(t, err)

	assert.Empty(t, r.identCalls)
	assert.Equal(t, []string{"a", "b"}, evidenceIDs(got))
}

func TestFuseEmbeddingErrorFails(t *testing.T) {
	e := NewEngine(&fakeRetriever{}, &fakeEmbedder{err: errors.New("embed down")}, DefaultConfig())
	_, err := e.Fuse(context.Background(), "raw", "expanded", analyzer.Analysis{})
	assert.Error(t, err)
}

func TestExtractFilenameTokens(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"summarize report-2024.pdf and notes.docx", []string{"report-2024.pdf", "notes.docx"}},
		{"what does Policy.PDF say", []string{"policy.pdf"}},
		{"report.pdf report.pdf", []string{"report.pdf"}},
		{"nothing to see", nil},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := ExtractFilenameTokens(tt.query)
			if tt.want == nil {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestAvgSimilarity(t *testing.T) {
	assert.Equal(t, 0.0, AvgSimilarity(nil))
	assert.InDelta(t, 0.5, AvgSimilarity([]Evidence{ev("a", 0.4), ev("b", 0.6)}), 1e-9)
}

func TestVectorAvgSimilarity(t *testing.T) {
	mixed := []Evidence{
		ev("a", 0.8), ev("b", 0.9),
		{ID: "f1", IdentifierMatch: true},
		{ID: "f2", IdentifierMatch: true},
	}

	assert.InDelta(t, 0.85, VectorAvgSimilarity(mixed), 1e-9, "unscored identifier matches do not dilute the mean")
	assert.Equal(t, 0.0, VectorAvgSimilarity([]Evidence{{ID: "f1", IdentifierMatch: true}}))
	assert.Equal(t, 0.0, VectorAvgSimilarity(nil))
}
