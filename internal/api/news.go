package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rickgao/pricepulse/internal/model"
)

// NewsClient fetches cryptocurrency headlines from newsdata.io.
type NewsClient struct {
	c *Client
}

// NewNewsClient creates a newsdata.io client.
func NewNewsClient(baseURL, apiKey string, opts ...ClientOption) *NewsClient {
	opts = append([]ClientOption{WithKeyParam("apikey")}, opts...)
	return &NewsClient{c: NewClient(baseURL, apiKey, opts...)}
}

// Configured reports whether an API key is set.
func (n *NewsClient) Configured() bool {
	return n.c.HasKey()
}

// Latest returns up to MaxArticles English business headlines about
// cryptocurrency.
func (n *NewsClient) Latest(ctx context.Context) ([]model.Article, error) {
	query := url.Values{
		"q":        {"cryptocurrency"},
		"language": {"en"},
		"category": {"business"},
	}

	var resp NewsDataResponse
	if err := n.c.get(ctx, "/news", query, &resp); err != nil {
		return nil, fmt.Errorf("latest news: %w", err)
	}

	count := min(len(resp.Results), MaxArticles)
	out := make([]model.Article, 0, count)
	for _, a := range resp.Results[:count] {
		out = append(out, ToArticle(a))
	}
	return out, nil
}
