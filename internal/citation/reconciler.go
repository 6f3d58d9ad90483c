package citation

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/logger"
)

// Kind tags where a cited source came from.
type Kind string

const (
	KindKnowledgeBase Kind = "knowledge-base"
	KindWeb           Kind = "web"
)

// Candidate is one item that was offered to the generator, identified by the
// ordinal it carried in the prompt. Content and web candidates live in
// independent ordinal namespaces.
type Candidate struct {
	Ordinal    int
	Kind       Kind
	Label      string
	Similarity float64
	URL        string
}

// Source is a cited candidate as exposed to the client: densely renumbered,
// immutable once emitted.
type Source struct {
	Index      int     `json:"index"`
	Kind       Kind    `json:"kind"`
	Label      string  `json:"label"`
	Similarity float64 `json:"similarity"`
	URL        string  `json:"url,omitempty"`
}

var (
	// Canonical citation tokens: bracketed, comma-separated ordinals per
	// namespace, e.g. [cit:3] or [web:1,4].
	contentTokenPattern = regexp.MustCompile(`\[cit:(\d+(?:\s*,\s*\d+)*)\]`)
	webTokenPattern     = regexp.MustCompile(`\[web:(\d+(?:\s*,\s*\d+)*)\]`)

	// Runtime tool-call identifiers the generator sometimes echoes verbatim,
	// e.g. [web_search_1699999999_foo]. Never a valid reference.
	malformedWebPattern = regexp.MustCompile(`\[web_[^\]]*\]`)
)

// Reconcile matches the citation tokens in generated text against the
// candidates that were actually offered, drops everything uncited, renumbers
// the cited candidates densely and rewrites the text accordingly.
// Reconciling already-reconciled output is a no-op.
func Reconcile(text string, candidates []Candidate) (string, []Source) {
	text = malformedWebPattern.ReplaceAllString(text, "")

	var content, web []Candidate
	for _, c := range candidates {
		if c.Kind == KindWeb {
			web = append(web, c)
		} else {
			content = append(content, c)
		}
	}

	text, contentSources := reconcileNamespace(text, contentTokenPattern, "cit", content)
	text, webSources := reconcileNamespace(text, webTokenPattern, "web", web)

	sources := append(contentSources, webSources...)

	logger.Debug("Citations reconciled",
		zap.Int("candidates", len(candidates)),
		zap.Int("cited", len(sources)),
	)

	return text, sources
}

func reconcileNamespace(text string, pattern *regexp.Regexp, prefix string, candidates []Candidate) (string, []Source) {
	cited := extractOrdinals(text, pattern)
	if len(cited) == 0 {
		// Nothing cited in this namespace: drop any stray tokens outright.
		return pattern.ReplaceAllString(text, ""), nil
	}

	// Duplicate ordinal mentions keep the higher-similarity candidate.
	byOrdinal := make(map[int]Candidate, len(candidates))
	for _, c := range candidates {
		prev, ok := byOrdinal[c.Ordinal]
		if !ok || c.Similarity > prev.Similarity {
			byOrdinal[c.Ordinal] = c
		}
	}

	// Surviving ordinals, renumbered in ascending original order.
	survivors := make([]int, 0, len(cited))
	for ord := range cited {
		if _, ok := byOrdinal[ord]; ok {
			survivors = append(survivors, ord)
		}
	}
	sort.Ints(survivors)

	renumber := make(map[int]int, len(survivors))
	sources := make([]Source, 0, len(survivors))
	for i, ord := range survivors {
		renumber[ord] = i + 1
		c := byOrdinal[ord]
		sources = append(sources, Source{
			Index:      i + 1,
			Kind:       c.Kind,
			Label:      c.Label,
			Similarity: c.Similarity,
			URL:        c.URL,
		})
	}

	rewritten := pattern.ReplaceAllStringFunc(text, func(token string) string {
		return rewriteToken(token, pattern, prefix, renumber)
	})

	return rewritten, sources
}

// rewriteToken maps a token's ordinals through the renumbering. Ordinals with
// no surviving mapping are dropped; a token left with none disappears.
func rewriteToken(token string, pattern *regexp.Regexp, prefix string, renumber map[int]int) string {
	m := pattern.FindStringSubmatch(token)
	if m == nil {
		return token
	}

	var mapped []string
	for _, part := range strings.Split(m[1], ",") {
		ord, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if next, ok := renumber[ord]; ok {
			mapped = append(mapped, strconv.Itoa(next))
		}
	}

	if len(mapped) == 0 {
		return ""
	}
	return fmt.Sprintf("[%s:%s]", prefix, strings.Join(mapped, ","))
}

func extractOrdinals(text string, pattern *regexp.Regexp) map[int]bool {
	cited := make(map[int]bool)
	for _, m := range pattern.FindAllStringSubmatch(text, -1) {
		for _, part := range strings.Split(m[1], ",") {
			if ord, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
				cited[ord] = true
			}
		}
	}
	return cited
}
