package analyzer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thetombrider/chatbotcollectibus-sub002/internal/cache/memory"
)

type stubClassifier struct {
	label string
	err   error
	calls int
}

func (s *stubClassifier) ClassifyIntent(ctx context.Context, query string, labels []string) (string, error) {
	s.calls++
	return s.label, s.err
}

func TestDetectStructuralMeta(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantMeta bool
		wantType MetaType
	}{
		{"document count", "How many documents do I have?", true, MetaStats},
		{"collection stats", "Show me the statistics of the knowledge base", true, MetaStats},
		{"folder listing", "Which folders do I have?", true, MetaFolders},
		{"document listing", "List all the documents", true, MetaList},
		{"file types", "What file types are stored?", true, MetaList},
		{"structure", "How is the collection organized?", true, MetaStructure},
		{"thematic is content", "Which documents discuss data retention?", false, ""},
		{"topical mention", "Do any policies mention encryption?", false, ""},
		{"plain content", "What is the notification deadline?", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnalyzer(nil, nil, 0)
			analysis := a.Analyze(context.Background(), tt.query)
			assert.Equal(t, tt.wantMeta, analysis.IsMeta)
			if tt.wantMeta {
				assert.Equal(t, tt.wantType, analysis.MetaType)
				assert.Equal(t, IntentMeta, analysis.Intent)
			}
		})
	}
}

func TestStructuralBeatsThematic(t *testing.T) {
	// Carries both a structural and a thematic signal; structural wins.
	a := NewAnalyzer(nil, nil, 0)
	analysis := a.Analyze(context.Background(), "How many documents discuss GDPR compliance?")

	assert.True(t, analysis.IsMeta)
	assert.Equal(t, MetaStats, analysis.MetaType)
}

func TestExtractArticleNumber(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantHit bool
	}{
		{"What does Article 17 say?", 17, true},
		{"Summarize art. 5 for me", 5, true},
		{"Art 1330 of the civil code", 1330, true},
		{"articles of incorporation", 0, false},
		{"no number here", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			num, ok := extractArticleNumber(tt.query)
			assert.Equal(t, tt.wantHit, ok)
			if tt.wantHit {
				assert.Equal(t, tt.want, num)
			}
		})
	}
}

func TestArticleLookupIntent(t *testing.T) {
	a := NewAnalyzer(nil, nil, 0)
	analysis := a.Analyze(context.Background(), "What does Article 17 require?")

	require.NotNil(t, analysis.ArticleNumber)
	assert.Equal(t, 17, *analysis.ArticleNumber)
	assert.Equal(t, IntentArticleLookup, analysis.Intent)
}

func TestExtractComparativeTerms(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			"difference between",
			"What is the difference between GDPR and CCPA?",
			[]string{"GDPR", "CCPA"},
		},
		{
			"compare with",
			"Compare the privacy policy with the data retention policy",
			[]string{"privacy policy", "data retention policy"},
		},
		{
			"versus",
			"GDPR vs CCPA",
			[]string{"GDPR", "CCPA"},
		},
		{
			"same term twice",
			"difference between GDPR and gdpr",
			nil,
		},
		{
			"not comparative",
			"What is GDPR?",
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractComparativeTerms(tt.query))
		})
	}
}

func TestComparativeAnalysis(t *testing.T) {
	a := NewAnalyzer(nil, nil, 0)

	analysis := a.Analyze(context.Background(), "What are the differences between GDPR and CCPA?")
	assert.True(t, analysis.IsComparative)
	assert.Equal(t, IntentComparison, analysis.Intent)
	assert.Equal(t, CompareDifferences, analysis.ComparisonType)

	analysis = a.Analyze(context.Background(), "What do GDPR and CCPA have in common, compare GDPR and CCPA")
	assert.True(t, analysis.IsComparative)
	assert.Equal(t, CompareSimilarities, analysis.ComparisonType)

	analysis = a.Analyze(context.Background(), "Compare GDPR and CCPA")
	assert.Equal(t, CompareGeneral, analysis.ComparisonType)
}

func TestTemporalAndWebSignals(t *testing.T) {
	a := NewAnalyzer(nil, nil, 0)

	analysis := a.Analyze(context.Background(), "What are the latest rules as of 2025?")
	assert.True(t, analysis.HasTemporal)
	assert.Contains(t, analysis.TemporalTerms, "latest")
	assert.Contains(t, analysis.TemporalTerms, "year")

	analysis = a.Analyze(context.Background(), "Search the web for exchange rates")
	assert.True(t, analysis.HasWebSearchRequest)
	assert.Equal(t, "search the web", analysis.WebSearchCommand)

	analysis = a.Analyze(context.Background(), "What is a data controller?")
	assert.False(t, analysis.HasTemporal)
	assert.False(t, analysis.HasWebSearchRequest)
}

func TestClassifierFallback(t *testing.T) {
	t.Run("valid label", func(t *testing.T) {
		cls := &stubClassifier{label: "definition"}
		a := NewAnalyzer(cls, nil, 0)
		analysis := a.Analyze(context.Background(), "What is a data controller?")
		assert.Equal(t, IntentDefinition, analysis.Intent)
		assert.Equal(t, 1, cls.calls)
	})

	t.Run("classifier error degrades to general", func(t *testing.T) {
		cls := &stubClassifier{err: errors.New("boom")}
		a := NewAnalyzer(cls, nil, 0)
		analysis := a.Analyze(context.Background(), "What is a data controller?")
		assert.Equal(t, IntentGeneral, analysis.Intent)
	})

	t.Run("unknown label degrades to general", func(t *testing.T) {
		cls := &stubClassifier{label: "philosophy"}
		a := NewAnalyzer(cls, nil, 0)
		analysis := a.Analyze(context.Background(), "What is a data controller?")
		assert.Equal(t, IntentGeneral, analysis.Intent)
	})

	t.Run("strong signals skip classifier", func(t *testing.T) {
		cls := &stubClassifier{label: "definition"}
		a := NewAnalyzer(cls, nil, 0)
		a.Analyze(context.Background(), "Compare GDPR and CCPA")
		assert.Equal(t, 0, cls.calls)
	})
}

func TestAnalyzeCaching(t *testing.T) {
	cls := &stubClassifier{label: "procedure"}
	a := NewAnalyzer(cls, memory.NewStore(), time.Hour)

	first := a.Analyze(context.Background(), "How do I submit a complaint?")
	second := a.Analyze(context.Background(), "how do i  submit a complaint?")

	assert.Equal(t, first.Intent, second.Intent)
	assert.Equal(t, 1, cls.calls, "normalized repeat should hit the cache")
}

func TestExtractTokens(t *testing.T) {
	tokens := ExtractTokens("What are the data retention requirements?", 5)

	assert.LessOrEqual(t, len(tokens), 5)
	assert.Contains(t, tokens, "data")
	assert.Contains(t, tokens, "retention")
	for _, tok := range tokens {
		assert.GreaterOrEqual(t, len(tok), 3)
		assert.Equal(t, strings.ToLower(tok), tok)
	}

	// Deduplicated in order of appearance.
	tokens = ExtractTokens("policy policy policy review", 5)
	assert.Equal(t, []string{"policy", "review"}, tokens)
}
