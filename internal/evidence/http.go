package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dealdesk/internal/types"
)

// HTTPProvider queries a JSON search API (Tavily-compatible request shape).
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider builds a provider for the given endpoint. The HTTP client
// carries its own transport-level timeout; the pipeline-facing timeout is
// applied by Resilient.
func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type searchRequest struct {
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results,omitempty"`
	IncludeAnswer bool   `json:"include_answer"`
}

type searchResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search performs one provider query and maps results to evidence items.
func (p *HTTPProvider) Search(ctx context.Context, query string, opts types.SearchOptions) (types.SearchResult, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	body, err := json.Marshal(searchRequest{
		Query:         query,
		MaxResults:    maxResults,
		IncludeAnswer: true,
	})
	if err != nil {
		return types.SearchResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return types.SearchResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return types.SearchResult{}, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.SearchResult{}, fmt.Errorf("search provider returned status %d", resp.StatusCode)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return types.SearchResult{}, fmt.Errorf("failed to decode search response: %w", err)
	}

	now := time.Now().UTC()
	items := make([]types.EvidenceItem, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		if r.URL == "" {
			continue
		}
		items = append(items, types.EvidenceItem{
			ID:          ItemID(r.URL),
			Title:       r.Title,
			URL:         r.URL,
			Snippet:     r.Content,
			Source:      "search",
			RetrievedAt: now,
		})
	}
	return types.SearchResult{Items: items, Answer: decoded.Answer}, nil
}
