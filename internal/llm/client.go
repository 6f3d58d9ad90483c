package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/thetombrider/chatbotcollectibus-sub002/internal/metrics"
	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/circuitbreaker"
	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/logger"
	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/retry"
)

const (
	completionTimeout = 60 * time.Second
	embeddingTimeout  = 15 * time.Second
	batchTimeout      = 60 * time.Second
)

// Client wraps the OpenAI API behind a circuit breaker and retry policy so
// upstream outages degrade into fast failures instead of piled-up requests.
type Client struct {
	api            *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	breaker        *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

type Message struct {
	Role    string
	Content string
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	History      []Message
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(apiKey, model, embeddingModel string, temperature float32, maxTokens int) *Client {
	c := &Client{
		api:            openai.NewClient(apiKey),
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
		breaker: circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
			MaxRequests:      5,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Logger:           logger.GetLogger(),
		}),
		retryConfig: retry.Config{
			MaxAttempts:    3,
			InitialDelay:   500 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		},
	}

	logger.Info("LLM client initialized",
		zap.String("model", model),
		zap.String("embedding_model", embeddingModel),
	)
	return c
}

// guarded runs fn under the breaker with retries inside, so a trip counts a
// whole request rather than each attempt.
func (c *Client) guarded(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return c.breaker.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			return fn(ctx)
		})
	})
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	messages := buildMessages(req)

	var result *CompletionResponse
	err := c.guarded(ctx, completionTimeout, func(ctx context.Context) error {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: req.Temperature,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return fmt.Errorf("failed to create completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("completion returned no choices")
		}

		metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(resp.Usage.CompletionTokens))

		result = &CompletionResponse{
			Content: resp.Choices[0].Message.Content,
			Usage: Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func buildMessages(req CompletionRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: req.SystemPrompt,
	})
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})
}

func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embed(ctx, embeddingTimeout, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.embed(ctx, batchTimeout, texts)
}

func (c *Client) embed(ctx context.Context, timeout time.Duration, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := c.guarded(ctx, timeout, func(ctx context.Context) error {
		resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(c.embeddingModel),
		})
		if err != nil {
			return fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(resp.Data) != len(texts) {
			return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(texts))
		}

		metrics.LLMTokensUsed.WithLabelValues(c.embeddingModel, "embedding").Add(float64(resp.Usage.PromptTokens))

		vectors = make([][]float32, len(resp.Data))
		for i, d := range resp.Data {
			vectors[i] = make([]float32, len(d.Embedding))
			copy(vectors[i], d.Embedding)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// ClassifyIntent runs a deterministic guided pass returning one bare intent
// label. Temperature is pinned to zero so repeated queries classify the same.
func (c *Client) ClassifyIntent(ctx context.Context, query string, labels []string) (string, error) {
	systemPrompt := fmt.Sprintf(`You are a query intent classifier for a document knowledge base.
Classify the user query into exactly one of these intents:
%s

Reply with ONLY the intent label, nothing else.`, strings.Join(labels, ", "))

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   query,
		Temperature:  0,
		MaxTokens:    10,
	})
	if err != nil {
		return "", fmt.Errorf("failed to classify intent: %w", err)
	}

	return strings.ToLower(strings.TrimSpace(resp.Content)), nil
}

// RewriteQuery asks for a retrieval-friendly expansion of the query. The
// conversation window lets the model resolve references like "that folder".
func (c *Client) RewriteQuery(ctx context.Context, query, instructions string, window []Message) (string, error) {
	systemPrompt := `You rewrite user queries to improve document retrieval.
Add synonyms, acronym expansions and domain context while preserving the
original intent. ` + instructions + `
Return ONLY the rewritten query, nothing else.`

	var sb strings.Builder
	if len(window) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, m := range window {
			sb.WriteString(fmt.Sprintf("%s: %s\n", m.Role, m.Content))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Query: ")
	sb.WriteString(query)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   sb.String(),
		Temperature:  0.3,
		MaxTokens:    200,
	})
	if err != nil {
		return "", fmt.Errorf("failed to rewrite query: %w", err)
	}

	rewritten := strings.TrimSpace(resp.Content)
	if rewritten == "" {
		return "", fmt.Errorf("rewriter returned empty query")
	}

	logger.Debug("Query rewritten",
		zap.String("original", query),
		zap.String("rewritten", rewritten),
	)
	return rewritten, nil
}

// GenerateAnswer produces the grounded answer. The prompts carry the numbered
// evidence blocks and citation instructions; history is the persisted
// conversation, truncated by the caller.
func (c *Client) GenerateAnswer(ctx context.Context, systemPrompt, userPrompt string, history []Message) (string, error) {
	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		History:      history,
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}

	logger.Info("Answer generated",
		zap.Int("response_length", len(resp.Content)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return resp.Content, nil
}
