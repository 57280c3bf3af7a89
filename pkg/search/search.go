// Package search defines the narrow interface the retrieval-grounded agents
// depend on. The real document-search service is an external collaborator;
// this package only fixes the contract and ships a deterministic mock.
package search

import "context"

// Document is one retrieval hit.
type Document struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Snippet string  `json:"snippet,omitempty"`
	Source  string  `json:"source,omitempty"`
	URL     string  `json:"url,omitempty"`
	Page    *int    `json:"page,omitempty"`
	// Score is the provider-native relevance score. Its scale is provider
	// specific; see the relevance normalization divisor in the agents.
	Score float64 `json:"score"`
}

// Strategy selects how the collaborator executes a query.
type Strategy string

const (
	StrategySemantic Strategy = "semantic"
	StrategyKeyword  Strategy = "keyword"
	StrategyHybrid   Strategy = "hybrid"
)

// Options tunes a single search call.
type Options struct {
	// TopK bounds the number of returned documents. 0 = collaborator default.
	TopK int
	// Strategy hints the execution mode. Empty = collaborator default.
	Strategy Strategy
}

// Searcher is implemented by the external document-search collaborator.
type Searcher interface {
	Search(ctx context.Context, query string, opts Options) ([]Document, error)
}
