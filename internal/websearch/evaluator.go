package websearch

import (
	"fmt"

	"github.com/thetombrider/chatbotcollectibus-sub002/internal/analyzer"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/fusion"
)

// Decision is the outcome of the web-search evaluation. Reasons lists every
// triggered path in order; Factors names each path's boolean for logging.
type Decision struct {
	Required bool            `json:"required"`
	Reasons  []string        `json:"reasons"`
	Factors  map[string]bool `json:"factors"`
}

// Decide is a pure function: no I/O, no side effects. Any one of four paths
// makes web search required; all triggered reasons are reported.
// hasKBContext says whether any knowledge-base context backs the answer;
// the preference path only fires when there is none to fall back on.
func Decide(evidence []fusion.Evidence, avgSimilarity float64, analysis analyzer.Analysis, userEnabled, hasKBContext bool) Decision {
	count := len(evidence)

	baseWeak := count == 0 ||
		(count < 3 && avgSimilarity < 0.55) ||
		(count >= 3 && avgSimilarity < 0.50)
	temporalOverride := userEnabled && analysis.HasTemporal
	explicitOverride := userEnabled && analysis.HasWebSearchRequest
	preferenceOverride := userEnabled && analysis.Intent == analyzer.IntentGeneral && !hasKBContext

	d := Decision{
		Factors: map[string]bool{
			"base_weakness":       baseWeak,
			"temporal_override":   temporalOverride,
			"explicit_override":   explicitOverride,
			"preference_override": preferenceOverride,
		},
	}

	if baseWeak {
		d.Reasons = append(d.Reasons,
			fmt.Sprintf("knowledge base evidence is weak (%d results, avg similarity %.2f)", count, avgSimilarity))
	}
	if temporalOverride {
		d.Reasons = append(d.Reasons,
			fmt.Sprintf("query contains temporal terms %v and web search is enabled", analysis.TemporalTerms))
	}
	if explicitOverride {
		d.Reasons = append(d.Reasons,
			fmt.Sprintf("query explicitly requests a web search (%q)", analysis.WebSearchCommand))
	}
	if preferenceOverride {
		d.Reasons = append(d.Reasons,
			"general query with no knowledge base context and web search enabled")
	}

	d.Required = baseWeak || temporalOverride || explicitOverride || preferenceOverride
	return d
}
