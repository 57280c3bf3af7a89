package agent

import "github.com/parleyhq/parley/pkg/search"

// RelevanceDivisor normalizes provider-native document scores into [0,1].
// The default assumes a 0..10 score scale.
const RelevanceDivisor = 10.0

// Finding is the outcome of one sub-query's search.
type Finding struct {
	SubQuery  SubQuery
	Documents []search.Document
	// Relevance is the normalized average document score in [0,1].
	Relevance float64
	// Err is the search failure message, empty on success.
	Err string
}

// SearchResults aggregates all sub-query findings of a parallel search.
type SearchResults struct {
	Findings []Finding
	// BestSubQueryID is the sub-query with the highest relevance among those
	// that retrieved at least one document. Empty when nothing was found.
	BestSubQueryID string
	// TotalDocuments counts distinct documents across findings.
	TotalDocuments int
}

// RankedResult is one selected sub-query with its ranking score.
type RankedResult struct {
	SubQueryID string  `json:"id"`
	Score      float64 `json:"score"`
}

// RankingResult is the ranker's selection plus the synthesized context the
// writer grounds the answer on.
type RankingResult struct {
	Selected   []RankedResult
	Context    string
	Confidence float64
	Reasoning  string
}

// finding returns the finding for a sub-query id, or nil.
func (r *SearchResults) finding(id string) *Finding {
	for i := range r.Findings {
		if r.Findings[i].SubQuery.ID == id {
			return &r.Findings[i]
		}
	}
	return nil
}

// clamp01 bounds v to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
