package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/thetombrider/chatbotcollectibus-sub002/internal/cache"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/metrics"
	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/logger"
	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/utils"
)

type Intent string

const (
	IntentComparison    Intent = "comparison"
	IntentDefinition    Intent = "definition"
	IntentRequirements  Intent = "requirements"
	IntentProcedure     Intent = "procedure"
	IntentArticleLookup Intent = "article_lookup"
	IntentMeta          Intent = "meta"
	IntentTimeline      Intent = "timeline"
	IntentCausesEffects Intent = "causes_effects"
	IntentExploratory   Intent = "exploratory"
	IntentGeneral       Intent = "general"
)

var intentLabels = []string{
	string(IntentComparison), string(IntentDefinition), string(IntentRequirements),
	string(IntentProcedure), string(IntentArticleLookup), string(IntentMeta),
	string(IntentTimeline), string(IntentCausesEffects), string(IntentExploratory),
	string(IntentGeneral),
}

type MetaType string

const (
	MetaStats     MetaType = "stats"
	MetaList      MetaType = "list"
	MetaFolders   MetaType = "folders"
	MetaStructure MetaType = "structure"
)

type ComparisonType string

const (
	CompareDifferences  ComparisonType = "differences"
	CompareSimilarities ComparisonType = "similarities"
	CompareGeneral      ComparisonType = "general"
)

// Analysis is the immutable classification of one query. It is produced once
// and cached by normalized query text.
type Analysis struct {
	Intent              Intent         `json:"intent"`
	IsComparative       bool           `json:"is_comparative"`
	ComparativeTerms    []string       `json:"comparative_terms,omitempty"`
	ComparisonType      ComparisonType `json:"comparison_type,omitempty"`
	ArticleNumber       *int           `json:"article_number,omitempty"`
	IsMeta              bool           `json:"is_meta"`
	MetaType            MetaType       `json:"meta_type,omitempty"`
	HasTemporal         bool           `json:"has_temporal"`
	TemporalTerms       []string       `json:"temporal_terms,omitempty"`
	HasWebSearchRequest bool           `json:"has_web_search_request"`
	WebSearchCommand    string         `json:"web_search_command,omitempty"`
	Tokens              []string       `json:"tokens,omitempty"`
}

// Classifier runs the guided intent inference pass. Satisfied by llm.Client.
type Classifier interface {
	ClassifyIntent(ctx context.Context, query string, labels []string) (string, error)
}

type Analyzer struct {
	classifier Classifier
	cache      cache.Store
	cacheTTL   time.Duration
}

func NewAnalyzer(classifier Classifier, store cache.Store, cacheTTL time.Duration) *Analyzer {
	return &Analyzer{
		classifier: classifier,
		cache:      store,
		cacheTTL:   cacheTTL,
	}
}

type rule struct {
	pattern *regexp.Regexp
	tag     string
}

// Ordered rule tables, evaluated top to bottom. First match wins where a
// single tag is extracted.
var (
	// Structural meta signals. These are checked before thematic signals:
	// "how many documents discuss GDPR" is a count request, not a topic query.
	structuralMetaRules = []rule{
		{regexp.MustCompile(`(?i)\bhow many (?:documents|files|pdfs)\b`), string(MetaStats)},
		{regexp.MustCompile(`(?i)\b(?:count|number) of (?:documents|files|pdfs|folders)\b`), string(MetaStats)},
		{regexp.MustCompile(`(?i)\b(?:stats|statistics)\b.*\b(?:database|collection|documents|knowledge base)\b`), string(MetaStats)},
		{regexp.MustCompile(`(?i)\b(?:database|collection|knowledge base)\b.*\b(?:stats|statistics)\b`), string(MetaStats)},
		{regexp.MustCompile(`(?i)\b(?:what|which|list)(?:\s+\w+)?\s+folders\b`), string(MetaFolders)},
		{regexp.MustCompile(`(?i)\bfolders? (?:do i have|in the (?:database|collection))\b`), string(MetaFolders)},
		{regexp.MustCompile(`(?i)\blist (?:all )?(?:the )?(?:documents|files|pdfs)\b`), string(MetaList)},
		{regexp.MustCompile(`(?i)\b(?:what|which) (?:documents|files|pdfs) (?:do i have|are (?:there|available|stored|indexed))\b`), string(MetaList)},
		{regexp.MustCompile(`(?i)\b(?:file types?|kinds? of files)\b`), string(MetaList)},
		{regexp.MustCompile(`(?i)\b(?:structure|organization|organisation) of (?:the )?(?:database|collection|documents|knowledge base)\b`), string(MetaStructure)},
		{regexp.MustCompile(`(?i)\bhow (?:is|are) (?:the )?(?:database|collection|documents) (?:organized|organised|structured)\b`), string(MetaStructure)},
	}

	// Thematic signals mention document content topically. On their own they
	// never mark a query as meta; they exist so structural priority is explicit.
	thematicMetaRules = []rule{
		{regexp.MustCompile(`(?i)\bdocuments? (?:about|discussing|mentioning|on|covering)\b`), "thematic"},
		{regexp.MustCompile(`(?i)\b(?:discuss|mention|cover|talk about)\b`), "thematic"},
	}

	temporalRules = []rule{
		{regexp.MustCompile(`(?i)\blatest\b`), "latest"},
		{regexp.MustCompile(`(?i)\bmost recent\b`), "most recent"},
		{regexp.MustCompile(`(?i)\brecent(?:ly)?\b`), "recent"},
		{regexp.MustCompile(`(?i)\btoday\b`), "today"},
		{regexp.MustCompile(`(?i)\bthis (?:year|month|week)\b`), "this period"},
		{regexp.MustCompile(`(?i)\bcurrent(?:ly)?\b`), "current"},
		{regexp.MustCompile(`(?i)\bright now\b`), "now"},
		{regexp.MustCompile(`(?i)\bup[- ]to[- ]date\b`), "up to date"},
		{regexp.MustCompile(`(?i)\bnews\b`), "news"},
		{regexp.MustCompile(`(?i)\b20(2[4-9]|3\d)\b`), "year"},
	}

	webCommandRules = []rule{
		{regexp.MustCompile(`(?i)\bsearch (?:the )?(?:web|internet|online)\b`), "search the web"},
		{regexp.MustCompile(`(?i)\blook (?:it )?up online\b`), "look up online"},
		{regexp.MustCompile(`(?i)\bgoogle (?:it|this|for)\b`), "google"},
		{regexp.MustCompile(`(?i)\bweb search\b`), "web search"},
		{regexp.MustCompile(`(?i)\bcheck online\b`), "check online"},
	}

	comparisonTypeRules = []rule{
		{regexp.MustCompile(`(?i)\bdifferen(?:ce|ces|t)\b`), string(CompareDifferences)},
		{regexp.MustCompile(`(?i)\b(?:distinguish|contrast)\b`), string(CompareDifferences)},
		{regexp.MustCompile(`(?i)\bsimilar(?:ity|ities)?\b`), string(CompareSimilarities)},
		{regexp.MustCompile(`(?i)\bin common\b`), string(CompareSimilarities)},
	}

	// Ordered: more specific extraction patterns first.
	comparativeExtractors = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:difference|differences|similarity|similarities)\s+between\s+(.+?)\s+and\s+(.+)$`),
		regexp.MustCompile(`(?i)\bcompare\s+(.+?)\s+(?:and|with|to|against)\s+(.+)$`),
		regexp.MustCompile(`(?i)\bbetween\s+(.+?)\s+and\s+(.+)$`),
		regexp.MustCompile(`(?i)^(.+?)\s+(?:vs\.?|versus)\s+(.+)$`),
	}

	articleNumberPattern = regexp.MustCompile(`(?i)\b(?:article|art\.?)\s*(\d{1,4})\b`)

	termTrimPattern = regexp.MustCompile(`^[\s"'?.,;:!]+|[\s"'?.,;:!]+$`)
)

// Analyze classifies a query. It never fails: any internal error degrades to
// the conservative default so retrieval can still proceed.
func (a *Analyzer) Analyze(ctx context.Context, query string) Analysis {
	normalized := utils.NormalizeQuery(query)
	cacheKey := "analysis:" + utils.HashString(normalized)

	if a.cache != nil {
		var cached Analysis
		if ok, err := a.cache.Get(ctx, cacheKey, &cached); err == nil && ok {
			metrics.CacheHits.WithLabelValues("analysis").Inc()
			return cached
		} else if err != nil {
			logger.Warn("Analysis cache read failed", zap.Error(err))
		}
		metrics.CacheMisses.WithLabelValues("analysis").Inc()
	}

	analysis := a.analyze(ctx, query)

	if a.cache != nil {
		if err := a.cache.Put(ctx, cacheKey, analysis, a.cacheTTL); err != nil {
			logger.Warn("Analysis cache write failed", zap.Error(err))
		}
	}

	return analysis
}

func (a *Analyzer) analyze(ctx context.Context, query string) Analysis {
	analysis := Analysis{Intent: IntentGeneral}

	analysis.Tokens = ExtractTokens(query, 5)

	if num, ok := extractArticleNumber(query); ok {
		analysis.ArticleNumber = &num
	}

	if metaType, ok := detectStructuralMeta(query); ok {
		analysis.IsMeta = true
		analysis.MetaType = metaType
	} else if matchesAny(thematicMetaRules, query) {
		// Thematic mention of documents is a content question; explicitly
		// not meta so the priority rule stays visible here.
		analysis.IsMeta = false
	}

	if terms := ExtractComparativeTerms(query); len(terms) >= 2 {
		analysis.IsComparative = true
		analysis.ComparativeTerms = terms
		analysis.ComparisonType = detectComparisonType(query)
	}

	analysis.TemporalTerms = collectTags(temporalRules, query)
	analysis.HasTemporal = len(analysis.TemporalTerms) > 0

	if cmd, ok := firstTag(webCommandRules, query); ok {
		analysis.HasWebSearchRequest = true
		analysis.WebSearchCommand = cmd
	}

	analysis.Intent = a.classifyIntent(ctx, query, analysis)

	return analysis
}

// classifyIntent resolves intent from the strong signals first and only falls
// back to the guided inference pass for ambiguous queries.
func (a *Analyzer) classifyIntent(ctx context.Context, query string, analysis Analysis) Intent {
	switch {
	case analysis.IsMeta:
		return IntentMeta
	case analysis.ArticleNumber != nil:
		return IntentArticleLookup
	case analysis.IsComparative:
		return IntentComparison
	}

	if a.classifier == nil {
		return IntentGeneral
	}

	label, err := a.classifier.ClassifyIntent(ctx, query, intentLabels)
	if err != nil {
		logger.Warn("Intent classification failed, using default", zap.Error(err))
		return IntentGeneral
	}

	intent := Intent(strings.TrimSpace(label))
	for _, known := range intentLabels {
		if string(intent) == known {
			return intent
		}
	}

	logger.Warn("Classifier returned unknown intent", zap.String("label", label))
	return IntentGeneral
}

func detectStructuralMeta(query string) (MetaType, bool) {
	for _, r := range structuralMetaRules {
		if r.pattern.MatchString(query) {
			return MetaType(r.tag), true
		}
	}
	return "", false
}

func detectComparisonType(query string) ComparisonType {
	if tag, ok := firstTag(comparisonTypeRules, query); ok {
		return ComparisonType(tag)
	}
	return CompareGeneral
}

// ExtractComparativeTerms pulls the compared subjects out of the query.
// Fewer than two distinct terms means the query is not comparative.
func ExtractComparativeTerms(query string) []string {
	for _, re := range comparativeExtractors {
		m := re.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		terms := dedupeTerms([]string{cleanTerm(m[1]), cleanTerm(m[2])})
		if len(terms) >= 2 {
			return terms
		}
	}
	return nil
}

func cleanTerm(term string) string {
	term = termTrimPattern.ReplaceAllString(term, "")
	for _, prefix := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(strings.ToLower(term), prefix) {
			term = term[len(prefix):]
			break
		}
	}
	return strings.TrimSpace(term)
}

func dedupeTerms(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

func extractArticleNumber(query string) (int, bool) {
	m := articleNumberPattern.FindStringSubmatch(query)
	if m == nil {
		return 0, false
	}
	num, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return num, true
}

// ExtractTokens returns up to max lowercase word tokens of length >= 3,
// deduplicated in order of appearance. Used as the fallback token set for
// identifier lookups.
func ExtractTokens(query string, max int) []string {
	doc, err := prose.NewDocument(query,
		prose.WithExtraction(false),
		prose.WithTagging(false),
		prose.WithSegmentation(false),
	)

	var words []string
	if err != nil {
		logger.Warn("Tokenization failed, splitting on whitespace", zap.Error(err))
		words = strings.Fields(query)
	} else {
		for _, tok := range doc.Tokens() {
			words = append(words, tok.Text)
		}
	}

	seen := make(map[string]bool)
	tokens := make([]string, 0, max)
	for _, w := range words {
		w = strings.ToLower(strings.Trim(w, `"'.,;:!?`))
		if len(w) < 3 || !isWordToken(w) || seen[w] {
			continue
		}
		seen[w] = true
		tokens = append(tokens, w)
		if len(tokens) >= max {
			break
		}
	}
	return tokens
}

func isWordToken(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_' || r == '.') {
			return false
		}
	}
	return true
}

func matchesAny(rules []rule, query string) bool {
	for _, r := range rules {
		if r.pattern.MatchString(query) {
			return true
		}
	}
	return false
}

func firstTag(rules []rule, query string) (string, bool) {
	for _, r := range rules {
		if r.pattern.MatchString(query) {
			return r.tag, true
		}
	}
	return "", false
}

func collectTags(rules []rule, query string) []string {
	var tags []string
	for _, r := range rules {
		if r.pattern.MatchString(query) {
			tags = append(tags, r.tag)
		}
	}
	return tags
}

func (a Analysis) String() string {
	return fmt.Sprintf("intent=%s comparative=%t meta=%t temporal=%t web=%t",
		a.Intent, a.IsComparative, a.IsMeta, a.HasTemporal, a.HasWebSearchRequest)
}
