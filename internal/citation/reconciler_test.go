package citation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kbCandidates(ordinals ...int) []Candidate {
	out := make([]Candidate, 0, len(ordinals))
	for _, ord := range ordinals {
		out = append(out, Candidate{
			Ordinal:    ord,
			Kind:       KindKnowledgeBase,
			Label:      "doc",
			Similarity: 0.8,
		})
	}
	return out
}

func TestReconcileDenseRenumbering(t *testing.T) {
	text := "First [cit:3], then [cit:5], finally [cit:8]."
	got, sources := Reconcile(text, kbCandidates(1, 2, 3, 4, 5, 6, 7, 8))

	assert.Equal(t, "First [cit:1], then [cit:2], finally [cit:3].", got)
	require.Len(t, sources, 3)
	for i, s := range sources {
		assert.Equal(t, i+1, s.Index)
		assert.Equal(t, KindKnowledgeBase, s.Kind)
	}
}

func TestReconcileUncitedCandidatesDropped(t *testing.T) {
	got, sources := Reconcile("Only [cit:2] matters.", kbCandidates(1, 2, 3))

	assert.Equal(t, "Only [cit:1] matters.", got)
	require.Len(t, sources, 1)
	assert.Equal(t, 1, sources[0].Index)
}

func TestReconcileIdempotent(t *testing.T) {
	text := "See [cit:3] and [cit:7,2]."
	once, sourcesOnce := Reconcile(text, kbCandidates(1, 2, 3, 4, 5, 6, 7))

	recited := make([]Candidate, 0, len(sourcesOnce))
	for _, s := range sourcesOnce {
		recited = append(recited, Candidate{
			Ordinal:    s.Index,
			Kind:       s.Kind,
			Label:      s.Label,
			Similarity: s.Similarity,
			URL:        s.URL,
		})
	}

	twice, sourcesTwice := Reconcile(once, recited)
	assert.Equal(t, once, twice)
	assert.Equal(t, sourcesOnce, sourcesTwice)
}

func TestReconcileMultiOrdinalToken(t *testing.T) {
	got, sources := Reconcile("Combined [cit:5,2] claim.", kbCandidates(1, 2, 3, 4, 5))

	assert.Equal(t, "Combined [cit:2,1] claim.", got)
	assert.Len(t, sources, 2)
}

func TestReconcileUnknownOrdinalDropped(t *testing.T) {
	got, sources := Reconcile("Real [cit:1] and invented [cit:9].", kbCandidates(1, 2))

	assert.Equal(t, "Real [cit:1] and invented .", got)
	require.Len(t, sources, 1)

	// A multi-ordinal token keeps its valid ordinals only.
	got, _ = Reconcile("Mixed [cit:1,9].", kbCandidates(1, 2))
	assert.Equal(t, "Mixed [cit:1].", got)
}

func TestReconcileMalformedWebTokensStripped(t *testing.T) {
	text := "Result [web_search_1699999999_abc] and [cit:1]."
	got, sources := Reconcile(text, kbCandidates(1))

	assert.NotContains(t, got, "web_search")
	assert.Contains(t, got, "[cit:1]")
	assert.Len(t, sources, 1)
}

func TestReconcileIndependentNamespaces(t *testing.T) {
	candidates := append(kbCandidates(1, 2, 3),
		Candidate{Ordinal: 1, Kind: KindWeb, Label: "Site A", Similarity: 0.9, URL: "https://a.example"},
		Candidate{Ordinal: 2, Kind: KindWeb, Label: "Site B", Similarity: 0.6, URL: "https://b.example"},
	)

	got, sources := Reconcile("Doc [cit:3] and site [web:2].", candidates)

	assert.Equal(t, "Doc [cit:1] and site [web:1].", got)
	require.Len(t, sources, 2)
	assert.Equal(t, KindKnowledgeBase, sources[0].Kind)
	assert.Equal(t, 1, sources[0].Index)
	assert.Equal(t, KindWeb, sources[1].Kind)
	assert.Equal(t, 1, sources[1].Index, "web namespace renumbers independently")
	assert.Equal(t, "https://b.example", sources[1].URL)
}

func TestReconcileDuplicateOrdinalKeepsHigherSimilarity(t *testing.T) {
	candidates := []Candidate{
		{Ordinal: 1, Kind: KindKnowledgeBase, Label: "low", Similarity: 0.4},
		{Ordinal: 1, Kind: KindKnowledgeBase, Label: "high", Similarity: 0.9},
	}

	_, sources := Reconcile("See [cit:1].", candidates)

	require.Len(t, sources, 1)
	assert.Equal(t, "high", sources[0].Label)
	assert.Equal(t, 0.9, sources[0].Similarity)
}

func TestReconcileNoCitations(t *testing.T) {
	got, sources := Reconcile("Plain answer without citations.", kbCandidates(1, 2))

	assert.Equal(t, "Plain answer without citations.", got)
	assert.Empty(t, sources)
}

func TestReconcileContentAndWebOrdering(t *testing.T) {
	candidates := append(kbCandidates(1),
		Candidate{Ordinal: 1, Kind: KindWeb, Label: "web", Similarity: 0.5, URL: "https://w.example"},
	)

	_, sources := Reconcile("[web:1] before [cit:1].", candidates)

	require.Len(t, sources, 2)
	assert.Equal(t, KindKnowledgeBase, sources[0].Kind, "content sources always precede web sources")
	assert.Equal(t, KindWeb, sources[1].Kind)
}
