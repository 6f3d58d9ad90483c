package query

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thetombrider/chatbotcollectibus-sub002/internal/citation"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/fusion"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/vector/milvus"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/websearch"
)

func milvusResult(folder, filename, title string) milvus.SearchResult {
	return milvus.SearchResult{Folder: folder, Filename: filename, Title: title}
}

func TestBuildUserPromptNumbersEvidence(t *testing.T) {
	evidence := []fusion.Evidence{
		{OrdinalInContext: 1, Content: "first chunk", SourceLabel: "policies/gdpr.pdf", Similarity: 0.9},
		{OrdinalInContext: 2, Content: "second chunk", SourceLabel: "policies/ccpa.pdf", Similarity: 0.7},
	}
	web := []websearch.Result{
		{Title: "Site", URL: "https://example.com", Content: "web content", Score: 0.9},
	}

	prompt := buildUserPrompt("what applies?", evidence, web)

	assert.Contains(t, prompt, "[1] (policies/gdpr.pdf, relevance 0.90)")
	assert.Contains(t, prompt, "[2] (policies/ccpa.pdf, relevance 0.70)")
	assert.Contains(t, prompt, "[web 1] Site (https://example.com)")
	assert.Contains(t, prompt, "Question: what applies?")
	assert.Less(t, strings.Index(prompt, "[1]"), strings.Index(prompt, "[web 1]"),
		"knowledge-base excerpts come before web results")
}

func TestBuildUserPromptTruncatesLongExcerpts(t *testing.T) {
	evidence := []fusion.Evidence{
		{OrdinalInContext: 1, Content: strings.Repeat("a", 5000), SourceLabel: "big.pdf"},
	}

	prompt := buildUserPrompt("q", evidence, nil)
	assert.NotContains(t, prompt, strings.Repeat("a", maxExcerptChars+1))
}

func TestBuildUserPromptTruncatesOnRuneBoundary(t *testing.T) {
	evidence := []fusion.Evidence{
		{OrdinalInContext: 1, Content: strings.Repeat("è", 5000), SourceLabel: "big.pdf"},
	}
	web := []websearch.Result{
		{Title: "Site", URL: "https://example.com", Content: strings.Repeat("測", 5000), Score: 0.9},
	}

	prompt := buildUserPrompt("q", evidence, web)
	assert.True(t, utf8.ValidString(prompt), "truncation never splits a multibyte rune")
	assert.Contains(t, prompt, strings.Repeat("è", maxExcerptChars))
	assert.NotContains(t, prompt, strings.Repeat("è", maxExcerptChars+1))
}

func TestConversationTitleTruncatesOnRuneBoundary(t *testing.T) {
	short := "what changed?"
	assert.Equal(t, short, conversationTitle(short))

	long := strings.Repeat("è", 200)
	title := conversationTitle(long)
	assert.Equal(t, 80, utf8.RuneCountInString(title))
	assert.True(t, utf8.ValidString(title))
}

func TestBuildUserPromptNoEvidence(t *testing.T) {
	prompt := buildUserPrompt("anything new?", nil, nil)
	assert.Contains(t, prompt, "No relevant excerpts were found")
	assert.Contains(t, prompt, "Question: anything new?")
}

func TestBuildCandidatesMirrorsPromptOrdinals(t *testing.T) {
	evidence := []fusion.Evidence{
		{OrdinalInContext: 1, SourceLabel: "a.pdf", Similarity: 0.9},
		{OrdinalInContext: 2, SourceLabel: "b.pdf", Similarity: 0.7},
	}
	web := []websearch.Result{
		{Title: "Site A", URL: "https://a.example", Score: 1.0},
		{Title: "Site B", URL: "https://b.example", Score: 0.9},
	}

	candidates := buildCandidates(evidence, web)
	require.Len(t, candidates, 4)

	assert.Equal(t, 1, candidates[0].Ordinal)
	assert.Equal(t, citation.KindKnowledgeBase, candidates[0].Kind)
	assert.Equal(t, "a.pdf", candidates[0].Label)

	assert.Equal(t, 1, candidates[2].Ordinal, "web ordinals restart at 1")
	assert.Equal(t, citation.KindWeb, candidates[2].Kind)
	assert.Equal(t, "https://a.example", candidates[2].URL)
	assert.Equal(t, 2, candidates[3].Ordinal)
}

func TestSourceLabel(t *testing.T) {
	r := milvusResult("contracts", "nda.pdf", "Mutual NDA")
	assert.Equal(t, "contracts/Mutual NDA", sourceLabel(r))

	r = milvusResult("", "nda.pdf", "")
	assert.Equal(t, "nda.pdf", sourceLabel(r))

	r = milvusResult("contracts", "nda.pdf", "")
	assert.Equal(t, "contracts/nda.pdf", sourceLabel(r))
}
