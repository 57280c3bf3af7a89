package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// MockSearcher returns deterministic documents derived from the query text.
// The same query always yields the same document ids and scores, which keeps
// orchestrator tests stable.
type MockSearcher struct {
	// Docs overrides generation when non-nil: queries return these documents
	// filtered by naive substring match.
	Docs []Document
	// Fail makes every call return an error; used to test wait-all-settled
	// aggregation.
	Fail bool
}

// Search implements Searcher.
func (m *MockSearcher) Search(ctx context.Context, query string, opts Options) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Fail {
		return nil, fmt.Errorf("mock search: unavailable")
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}

	if m.Docs != nil {
		out := make([]Document, 0, topK)
		for _, d := range m.Docs {
			if strings.Contains(strings.ToLower(d.Content+d.Title), strings.ToLower(firstWord(query))) {
				out = append(out, d)
			}
			if len(out) == topK {
				break
			}
		}
		return out, nil
	}

	// Generated mode: id is a stable hash of query+rank so distinct queries
	// rarely collide and identical queries always do.
	out := make([]Document, 0, topK)
	for i := 0; i < topK; i++ {
		sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", query, i)))
		id := "doc-" + hex.EncodeToString(sum[:6])
		out = append(out, Document{
			ID:      id,
			Title:   fmt.Sprintf("Result %d for %q", i+1, truncate(query, 40)),
			Content: fmt.Sprintf("Deterministic mock content for %q (rank %d).", query, i+1),
			Snippet: fmt.Sprintf("mock snippet %d", i+1),
			Source:  "mock",
			Score:   9.0 - float64(i), // provider-native 0..10 scale
		})
	}
	return out, nil
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	return fields[0]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
