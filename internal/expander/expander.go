package expander

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/thetombrider/chatbotcollectibus-sub002/internal/analyzer"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/llm"
	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/logger"
	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/utils"
)

const (
	// maxWindowTurns and maxTurnChars bound the conversation context handed
	// to guided rewriting.
	maxWindowTurns = 3
	maxTurnChars   = 200
)

// Rewriter performs guided query rewriting. Satisfied by llm.Client.
type Rewriter interface {
	RewriteQuery(ctx context.Context, query, instructions string, window []llm.Message) (string, error)
}

type Expander struct {
	rewriter Rewriter
}

func NewExpander(rewriter Rewriter) *Expander {
	return &Expander{rewriter: rewriter}
}

// Static vocabulary injected per intent. Appending domain terms keeps the
// original phrasing intact while widening recall.
var injectionTerms = map[analyzer.Intent]string{
	analyzer.IntentRequirements:  "requirements obligations must shall mandatory compliance conditions",
	analyzer.IntentDefinition:    "definition meaning term concept refers to means",
	analyzer.IntentProcedure:     "procedure process steps method how carried out",
	analyzer.IntentTimeline:      "timeline dates deadline period schedule entry into force",
	analyzer.IntentCausesEffects: "causes effects consequences impact results reasons",
}

// Expand rewrites the query for retrieval according to the detected intent.
// It never fails: any error falls back to the original query.
func (e *Expander) Expand(ctx context.Context, query string, analysis analyzer.Analysis, history []llm.Message) string {
	switch analysis.Intent {
	case analyzer.IntentMeta:
		// Meta queries are answered from the document store, never expanded.
		return query

	case analyzer.IntentArticleLookup:
		return expandArticleLookup(query, analysis)

	case analyzer.IntentComparison:
		return e.expandComparison(ctx, query, analysis)
	}

	if terms, ok := injectionTerms[analysis.Intent]; ok {
		return query + " " + terms
	}

	return e.rewrite(ctx, query, "", Window(history))
}

// expandArticleLookup appends canonical numbering variants so chunks citing
// "Art. 17" match a query about "article 17".
func expandArticleLookup(query string, analysis analyzer.Analysis) string {
	if analysis.ArticleNumber == nil {
		return query
	}
	n := *analysis.ArticleNumber
	variants := []string{
		query,
		fmt.Sprintf("Article %d", n),
		fmt.Sprintf("Art. %d", n),
		fmt.Sprintf("art %d", n),
		fmt.Sprintf("provisions of article %d", n),
		fmt.Sprintf("article %d states", n),
	}
	return strings.Join(variants, " ")
}

// expandComparison expands each compared term on its own and concatenates the
// results. Expanding the whole query at once dilutes per-term relevance.
func (e *Expander) expandComparison(ctx context.Context, query string, analysis analyzer.Analysis) string {
	parts := make([]string, 0, len(analysis.ComparativeTerms))
	for _, term := range analysis.ComparativeTerms {
		expanded := e.rewrite(ctx, term, "Expand this single topic term for document retrieval.", nil)
		parts = append(parts, expanded)
	}
	if len(parts) == 0 {
		return query
	}
	return strings.Join(parts, " ")
}

func (e *Expander) rewrite(ctx context.Context, query, instructions string, window []llm.Message) string {
	if e.rewriter == nil {
		return query
	}

	rewritten, err := e.rewriter.RewriteQuery(ctx, query, instructions, window)
	if err != nil {
		logger.Warn("Query expansion failed, using original query",
			zap.String("query", query),
			zap.Error(err),
		)
		return query
	}
	return rewritten
}

// Window truncates conversation history to the last maxWindowTurns turns,
// each capped at maxTurnChars characters.
func Window(history []llm.Message) []llm.Message {
	if len(history) == 0 {
		return nil
	}

	start := len(history) - maxWindowTurns
	if start < 0 {
		start = 0
	}

	window := make([]llm.Message, 0, maxWindowTurns)
	for _, m := range history[start:] {
		window = append(window, llm.Message{
			Role:    m.Role,
			Content: utils.TruncateRunes(m.Content, maxTurnChars),
		})
	}
	return window
}
