package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/logger"
)

type Client struct {
	serpAPIKey string
	httpClient *http.Client
}

// Result is one external web search hit. Score decays with rank so web
// evidence can be ordered alongside knowledge base similarities.
type Result struct {
	Title   string
	URL     string
	Content string
	Score   float64
}

func NewClient(serpAPIKey string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		serpAPIKey: serpAPIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	logger.Info("Performing web search", zap.String("query", query))

	if c.serpAPIKey != "" {
		return c.searchWithSerpAPI(ctx, query, maxResults)
	}
	return c.searchWithDuckDuckGo(ctx, query, maxResults)
}

func (c *Client) searchWithSerpAPI(ctx context.Context, query string, maxResults int) ([]Result, error) {
	params := url.Values{}
	params.Add("q", query)
	params.Add("api_key", c.serpAPIKey)
	params.Add("num", fmt.Sprintf("%d", maxResults))

	req, err := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("https://serpapi.com/search?%s", params.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var searchResp struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
	}

	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]Result, 0, len(searchResp.OrganicResults))
	for i, r := range searchResp.OrganicResults {
		if i >= maxResults {
			break
		}
		content, err := c.scrapeContent(ctx, r.Link)
		if err != nil {
			logger.Warn("Failed to scrape content, using snippet",
				zap.String("url", r.Link), zap.Error(err))
			content = r.Snippet
		}
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.Link,
			Content: content,
			Score:   rankScore(i),
		})
	}

	logger.Info("Web search completed", zap.Int("results", len(results)))

	return results, nil
}

func (c *Client) searchWithDuckDuckGo(ctx context.Context, query string, maxResults int) ([]Result, error) {
	searchURL := fmt.Sprintf("https://html.duckduckgo.com/html/?q=%s", url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	results := make([]Result, 0, maxResults)
	doc.Find("div.result").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if len(results) >= maxResults {
			return false
		}

		title := strings.TrimSpace(s.Find("a.result__a").Text())
		link, _ := s.Find("a.result__a").Attr("href")
		snippet := strings.TrimSpace(s.Find("a.result__snippet").Text())

		if title == "" || link == "" {
			return true
		}

		content, err := c.scrapeContent(ctx, link)
		if err != nil {
			content = snippet
		}

		results = append(results, Result{
			Title:   title,
			URL:     link,
			Content: content,
			Score:   rankScore(len(results)),
		})
		return true
	})

	logger.Info("Web search completed", zap.Int("results", len(results)))

	return results, nil
}

func (c *Client) scrapeContent(ctx context.Context, urlStr string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", urlStr, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	doc.Find("script, style, nav, footer, header").Remove()
	text := strings.TrimSpace(doc.Find("body").Text())

	if len(text) > 5000 {
		text = text[:5000]
	}

	return text, nil
}

func rankScore(rank int) float64 {
	score := 1.0 - float64(rank)*0.1
	if score < 0.1 {
		score = 0.1
	}
	return score
}
