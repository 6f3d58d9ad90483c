package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thetombrider/chatbotcollectibus-sub002/internal/analyzer"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/background"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/citation"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/expander"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/fusion"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/llm"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/metrics"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/storage/models"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/storage/sqlite"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/stream"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/websearch"
	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/logger"
	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/utils"
)

const historyLimit = 10

// Engine drives one query through analysis, expansion, retrieval fusion,
// the web-search decision, generation and citation reconciliation.
type Engine struct {
	db            *sqlite.Client
	analyzer      *analyzer.Analyzer
	expander      *expander.Expander
	fusion        *fusion.Engine
	llmClient     *llm.Client
	searchClient  *websearch.Client
	executor      *background.Executor
	searchEnabled bool
	maxWebResults int
}

type Request struct {
	Query            string
	ConversationID   string
	UserID           string
	WebSearchEnabled bool
}

type Response struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Query          string            `json:"query"`
	Answer         string            `json:"answer"`
	Sources        []citation.Source `json:"sources"`
	Intent         string            `json:"intent"`
	WebSearchUsed  bool              `json:"web_search_used"`
	LatencyMS      int               `json:"latency_ms"`
}

func NewEngine(
	db *sqlite.Client,
	an *analyzer.Analyzer,
	ex *expander.Expander,
	fu *fusion.Engine,
	llmClient *llm.Client,
	searchClient *websearch.Client,
	executor *background.Executor,
	searchEnabled bool,
	maxWebResults int,
) *Engine {
	if maxWebResults <= 0 {
		maxWebResults = 5
	}
	return &Engine{
		db:            db,
		analyzer:      an,
		expander:      ex,
		fusion:        fu,
		llmClient:     llmClient,
		searchClient:  searchClient,
		executor:      executor,
		searchEnabled: searchEnabled,
		maxWebResults: maxWebResults,
	}
}

// Process runs the full pipeline. ctrl may be nil for non-streaming callers;
// when set, stage transitions and the final answer are delivered through it
// and the returned Response mirrors what was streamed.
func (e *Engine) Process(ctx context.Context, req Request, ctrl *stream.Controller) (*Response, error) {
	startTime := time.Now()
	queryID := uuid.New().String()
	if req.ConversationID == "" {
		req.ConversationID = uuid.New().String()
	}

	logger.Info("Processing query",
		zap.String("query_id", queryID),
		zap.String("conversation_id", req.ConversationID),
		zap.String("query", req.Query),
	)

	e.sendStatus(ctrl, "analyzing")

	history := e.loadHistory(req.ConversationID)
	analysis := e.analyzer.Analyze(ctx, req.Query)

	if analysis.IsMeta {
		return e.answerMeta(req, queryID, analysis, startTime, ctrl)
	}

	expanded := e.expander.Expand(ctx, req.Query, analysis, history)
	if expanded != req.Query {
		logger.Debug("Query expanded",
			zap.String("query_id", queryID),
			zap.String("expanded", expanded),
		)
	}

	e.sendStatus(ctrl, "retrieving")

	evidence, err := e.fusion.Fuse(ctx, req.Query, expanded, analysis)
	if err != nil {
		logger.Warn("Retrieval failed, continuing without knowledge-base context",
			zap.String("query_id", queryID),
			zap.Error(err),
		)
		evidence = nil
	}
	// Identifier matches carry no similarity score, so the decision average
	// covers vector-derived evidence only.
	avgSim := fusion.VectorAvgSimilarity(evidence)
	metrics.EvidenceCount.Observe(float64(len(evidence)))
	if len(evidence) > 0 {
		metrics.EvidenceSimilarity.Observe(avgSim)
	}

	decision := websearch.Decide(evidence, avgSim, analysis, e.webSearchAllowed(req), len(evidence) > 0)
	var webResults []websearch.Result
	if decision.Required && e.searchClient != nil {
		e.sendStatus(ctrl, "searching_web")
		for _, reason := range decision.Reasons {
			metrics.WebSearchTriggered.WithLabelValues(reason).Inc()
		}
		webResults, err = e.searchClient.Search(ctx, expanded, e.maxWebResults)
		if err != nil {
			logger.Warn("Web search failed, continuing without web context",
				zap.String("query_id", queryID),
				zap.Error(err),
			)
			webResults = nil
		}
	}

	e.sendStatus(ctrl, "generating")

	userPrompt := buildUserPrompt(req.Query, evidence, webResults)
	answer, err := e.llmClient.GenerateAnswer(ctx, systemPrompt, userPrompt, history)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		if ctrl != nil {
			ctrl.SendError("failed to generate an answer")
		}
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	finalText, sources := citation.Reconcile(answer, buildCandidates(evidence, webResults))
	for _, s := range sources {
		metrics.CitationsEmitted.WithLabelValues(string(s.Kind)).Inc()
	}

	latency := int(time.Since(startTime).Milliseconds())
	resp := &Response{
		ID:             queryID,
		ConversationID: req.ConversationID,
		Query:          req.Query,
		Answer:         finalText,
		Sources:        sources,
		Intent:         string(analysis.Intent),
		WebSearchUsed:  len(webResults) > 0,
		LatencyMS:      latency,
	}

	if ctrl != nil {
		ctrl.SendTextComplete(finalText)
		ctrl.SendDone(sources)
	}

	e.persistExchange(req, finalText)

	metrics.QueryTotal.WithLabelValues("success").Inc()
	metrics.QueryDuration.WithLabelValues(string(analysis.Intent)).Observe(time.Since(startTime).Seconds())

	logger.Info("Query processed",
		zap.String("query_id", queryID),
		zap.String("intent", string(analysis.Intent)),
		zap.Int("evidence_count", len(evidence)),
		zap.Int("sources", len(sources)),
		zap.Bool("web_search_used", resp.WebSearchUsed),
		zap.Int("latency_ms", latency),
	)

	return resp, nil
}

func (e *Engine) webSearchAllowed(req Request) bool {
	return e.searchEnabled && req.WebSearchEnabled && e.searchClient != nil
}

func (e *Engine) sendStatus(ctrl *stream.Controller, stage string) {
	if ctrl != nil {
		ctrl.SendStatus(stage)
	}
}

func (e *Engine) loadHistory(conversationID string) []llm.Message {
	msgs, err := e.db.GetRecentMessages(conversationID, historyLimit)
	if err != nil {
		logger.Warn("Failed to load conversation history", zap.Error(err))
		return nil
	}
	history := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}
	return history
}

// answerMeta serves collection questions straight from the metadata store,
// bypassing retrieval and generation.
func (e *Engine) answerMeta(req Request, queryID string, analysis analyzer.Analysis, startTime time.Time, ctrl *stream.Controller) (*Response, error) {
	text, err := e.metaAnswer(analysis.MetaType)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		if ctrl != nil {
			ctrl.SendError("failed to read collection metadata")
		}
		return nil, fmt.Errorf("failed to answer meta query: %w", err)
	}

	latency := int(time.Since(startTime).Milliseconds())
	resp := &Response{
		ID:             queryID,
		ConversationID: req.ConversationID,
		Query:          req.Query,
		Answer:         text,
		Sources:        []citation.Source{},
		Intent:         string(analyzer.IntentMeta),
		LatencyMS:      latency,
	}

	if ctrl != nil {
		ctrl.SendTextComplete(text)
		ctrl.SendDone(resp.Sources)
	}

	e.persistExchange(req, text)
	metrics.QueryTotal.WithLabelValues("success").Inc()
	metrics.QueryDuration.WithLabelValues(string(analyzer.IntentMeta)).Observe(time.Since(startTime).Seconds())
	return resp, nil
}

func (e *Engine) metaAnswer(metaType analyzer.MetaType) (string, error) {
	switch metaType {
	case analyzer.MetaFolders:
		folders, err := e.db.ListFolders()
		if err != nil {
			return "", err
		}
		if len(folders) == 0 {
			return "The knowledge base has no folders yet.", nil
		}
		return fmt.Sprintf("The knowledge base contains %d folders:\n- %s",
			len(folders), strings.Join(folders, "\n- ")), nil

	case analyzer.MetaList:
		docs, err := e.db.ListDocuments("", 100)
		if err != nil {
			return "", err
		}
		if len(docs) == 0 {
			return "The knowledge base contains no documents yet.", nil
		}
		var b strings.Builder
		fmt.Fprintf(&b, "The knowledge base contains %d documents:\n", len(docs))
		for _, d := range docs {
			fmt.Fprintf(&b, "- %s (%s)\n", d.Filename, d.Folder)
		}
		return b.String(), nil

	case analyzer.MetaStructure:
		docs, err := e.db.ListDocuments("", 500)
		if err != nil {
			return "", err
		}
		byFolder := make(map[string][]string)
		for _, d := range docs {
			byFolder[d.Folder] = append(byFolder[d.Folder], d.Filename)
		}
		folders := make([]string, 0, len(byFolder))
		for f := range byFolder {
			folders = append(folders, f)
		}
		sort.Strings(folders)
		var b strings.Builder
		b.WriteString("Knowledge base structure:\n")
		for _, f := range folders {
			fmt.Fprintf(&b, "%s/\n", f)
			for _, name := range byFolder[f] {
				fmt.Fprintf(&b, "  %s\n", name)
			}
		}
		return b.String(), nil

	default:
		stats, err := e.db.CollectionStats()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("The knowledge base holds %d documents in %d folders, indexed as %d chunks.",
			stats.DocumentCount, stats.FolderCount, stats.ChunkCount), nil
	}
}

// buildCandidates maps the prompt's numbered blocks to citation candidates.
// Ordinals must match what buildUserPrompt rendered.
func buildCandidates(evidence []fusion.Evidence, webResults []websearch.Result) []citation.Candidate {
	candidates := make([]citation.Candidate, 0, len(evidence)+len(webResults))
	for _, ev := range evidence {
		candidates = append(candidates, citation.Candidate{
			Ordinal:    ev.OrdinalInContext,
			Kind:       citation.KindKnowledgeBase,
			Label:      ev.SourceLabel,
			Similarity: ev.Similarity,
		})
	}
	for i, r := range webResults {
		candidates = append(candidates, citation.Candidate{
			Ordinal:    i + 1,
			Kind:       citation.KindWeb,
			Label:      r.Title,
			Similarity: r.Score,
			URL:        r.URL,
		})
	}
	return candidates
}

// persistExchange saves the turn off the request path. Persistence failures
// never affect the response.
func (e *Engine) persistExchange(req Request, answer string) {
	convID := req.ConversationID
	userID := req.UserID
	query := req.Query

	e.executor.Submit(background.Task{
		Name: "persist_exchange",
		Run: func(ctx context.Context) error {
			now := time.Now()
			if err := e.db.EnsureConversation(&models.Conversation{
				ID:        convID,
				UserID:    userID,
				Title:     conversationTitle(query),
				CreatedAt: now,
				UpdatedAt: now,
			}); err != nil {
				return err
			}
			if err := e.db.InsertMessage(&models.Message{
				ID:             uuid.New().String(),
				ConversationID: convID,
				Role:           "user",
				Content:        query,
				CreatedAt:      now,
			}); err != nil {
				return err
			}
			return e.db.InsertMessage(&models.Message{
				ID:             uuid.New().String(),
				ConversationID: convID,
				Role:           "assistant",
				Content:        answer,
				CreatedAt:      now.Add(time.Millisecond),
			})
		},
	})
}

func conversationTitle(query string) string {
	const maxTitle = 80
	return utils.TruncateRunes(query, maxTitle)
}
