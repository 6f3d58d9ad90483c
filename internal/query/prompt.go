package query

import (
	"fmt"
	"strings"

	"github.com/thetombrider/chatbotcollectibus-sub002/internal/fusion"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/websearch"
	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/utils"
)

const systemPrompt = `You are an assistant that answers questions about a curated document knowledge base.
Ground every claim in the numbered excerpts you are given. When you use an excerpt,
cite it inline with [cit:N] where N is the excerpt number; combine numbers as [cit:2,5].
When you use a web result, cite it with [web:N]. Never cite a number you were not given.
If the excerpts do not cover the question, say so instead of guessing.`

const maxExcerptChars = 1500

// buildUserPrompt lays out the evidence as numbered blocks the generator can
// cite. Knowledge-base excerpts and web results number independently.
func buildUserPrompt(query string, evidence []fusion.Evidence, webResults []websearch.Result) string {
	var b strings.Builder

	if len(evidence) > 0 {
		b.WriteString("Document excerpts:\n")
		for _, ev := range evidence {
			text := utils.TruncateRunes(ev.Content, maxExcerptChars)
			fmt.Fprintf(&b, "\n[%d] (%s, relevance %.2f)\n%s\n", ev.OrdinalInContext, ev.SourceLabel, ev.Similarity, text)
		}
	}

	if len(webResults) > 0 {
		b.WriteString("\nWeb results:\n")
		for i, r := range webResults {
			text := utils.TruncateRunes(r.Content, maxExcerptChars)
			fmt.Fprintf(&b, "\n[web %d] %s (%s)\n%s\n", i+1, r.Title, r.URL, text)
		}
	}

	if b.Len() == 0 {
		b.WriteString("No relevant excerpts were found in the knowledge base.\n")
	}

	fmt.Fprintf(&b, "\nQuestion: %s", query)
	return b.String()
}
