package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	serperEndpoint    = "https://google.serper.dev/search"
	wikipediaEndpoint = "https://en.wikipedia.org/w/api.php"
)

// SearchResult represents a single web search result.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// searchTool searches the web via the Serper API.
type searchTool struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func (t *searchTool) Name() string { return "search" }

func (t *searchTool) Description() string {
	return "Search the web for current information. Returns titles, URLs, and short snippets."
}

func (t *searchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query",
			},
			"count": map[string]interface{}{
				"type":        "integer",
				"description": "Number of results (1-10, default 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *searchTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query, ok := args["query"].(string)
	if !ok {
		return nil, fmt.Errorf("query is required")
	}
	if t.apiKey == "" {
		return nil, fmt.Errorf("no search API configured; set SERPER_API_KEY")
	}

	count := 5
	if c, ok := args["count"].(float64); ok {
		count = int(c)
		if count < 1 {
			count = 1
		} else if count > 10 {
			count = 10
		}
	}

	reqBody, _ := json.Marshal(map[string]interface{}{
		"q":   query,
		"num": count,
	})

	req, err := http.NewRequestWithContext(ctx, "POST", t.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search error (%d): %s", resp.StatusCode, string(body))
	}

	var serperResp struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&serperResp); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	results := make([]SearchResult, 0, len(serperResp.Organic))
	for _, r := range serperResp.Organic {
		results = append(results, SearchResult{
			Title:   r.Title,
			URL:     r.Link,
			Snippet: r.Snippet,
		})
	}
	return results, nil
}

// wikipediaTool looks up a topic on Wikipedia and returns page extracts.
type wikipediaTool struct {
	endpoint string
	client   *http.Client
}

func (t *wikipediaTool) Name() string { return "wikipedia" }

func (t *wikipediaTool) Description() string {
	return "Look up a topic on Wikipedia. Returns summaries of the top matching pages."
}

func (t *wikipediaTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Topic to look up",
			},
		},
		"required": []string{"query"},
	}
}

func (t *wikipediaTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query, ok := args["query"].(string)
	if !ok {
		return nil, fmt.Errorf("query is required")
	}

	params := url.Values{}
	params.Set("action", "query")
	params.Set("format", "json")
	params.Set("generator", "search")
	params.Set("gsrsearch", query)
	params.Set("gsrlimit", "3")
	params.Set("prop", "extracts")
	params.Set("exintro", "1")
	params.Set("explaintext", "1")

	req, err := http.NewRequestWithContext(ctx, "GET", t.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wikipedia lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("wikipedia error (%d)", resp.StatusCode)
	}

	var wikiResp struct {
		Query struct {
			Pages map[string]struct {
				Title   string `json:"title"`
				Extract string `json:"extract"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wikiResp); err != nil {
		return nil, fmt.Errorf("failed to parse wikipedia response: %w", err)
	}

	if len(wikiResp.Query.Pages) == 0 {
		return "No Wikipedia pages found for: " + query, nil
	}

	var sb strings.Builder
	for _, page := range wikiResp.Query.Pages {
		if page.Extract == "" {
			continue
		}
		fmt.Fprintf(&sb, "Page: %s\nSummary: %s\n\n", page.Title, page.Extract)
	}
	if sb.Len() == 0 {
		return "No Wikipedia pages found for: " + query, nil
	}
	return strings.TrimSpace(sb.String()), nil
}
