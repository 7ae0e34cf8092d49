// Package search runs web searches that ground benchmarking and market
// research in public information.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrNotConfigured is returned by searchers that have no credentials.
var ErrNotConfigured = errors.New("web search is not configured")

// Result is one web search hit.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

// Searcher looks up num results for a query.
type Searcher interface {
	Search(ctx context.Context, query string, num int) ([]Result, error)
}

// Disabled is a Searcher that always reports ErrNotConfigured.
type Disabled struct{}

func (Disabled) Search(context.Context, string, int) ([]Result, error) {
	return nil, ErrNotConfigured
}

// Google searches with the Programmable Search Engine (Custom Search JSON API).
type Google struct {
	svc      *customsearch.Service
	engineID string
	logger   *slog.Logger
}

// New returns a Google searcher, or Disabled when apiKey or engineID is empty.
// Extra client options (such as option.WithEndpoint) are passed through.
func New(ctx context.Context, apiKey, engineID string, opts ...option.ClientOption) (Searcher, error) {
	if apiKey == "" || engineID == "" {
		return Disabled{}, nil
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating custom search service: %w", err)
	}
	return &Google{
		svc:      svc,
		engineID: engineID,
		logger:   slog.Default().With("component", "web-search"),
	}, nil
}

// Search returns up to num results (the API caps num at 10).
func (g *Google) Search(ctx context.Context, query string, num int) ([]Result, error) {
	if num < 1 {
		num = 1
	}
	if num > 10 {
		num = 10
	}

	resp, err := g.svc.Cse.List().Cx(g.engineID).Q(query).Num(int64(num)).Context(ctx).Do()
	if err != nil {
		if isRateLimited(err) {
			g.logger.Warn("web search rate limited", "query", query)
		}
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}

	results := make([]Result, 0, len(resp.Items))
	for _, item := range resp.Items {
		results = append(results, Result{Title: item.Title, Snippet: item.Snippet, Link: item.Link})
	}
	return results, nil
}

func isRateLimited(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests
	}
	return false
}
