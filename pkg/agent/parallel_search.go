package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/search"
)

// ParallelSearchAgent fans the plan's sub-queries out to the search
// collaborator concurrently and aggregates the results. Join semantics are
// wait-all-settled: one sub-query failing does not cancel the others.
type ParallelSearchAgent struct {
	searcher search.Searcher
	topK     int
}

// NewParallelSearchAgent creates the fan-out search agent.
func NewParallelSearchAgent(searcher search.Searcher) *ParallelSearchAgent {
	return &ParallelSearchAgent{searcher: searcher, topK: ragDefaultTopK}
}

func (a *ParallelSearchAgent) Name() string { return NameParallelSearch }

func (a *ParallelSearchAgent) Run(ctx context.Context, actx *Context, emit EmitFunc) (*Result, error) {
	if actx.Plan == nil || len(actx.Plan.SubQueries) == 0 {
		return nil, fmt.Errorf("parallel search: no execution plan")
	}
	if err := emit(events.AgentUpdated(NameParallelSearch, events.ContentThoughts, "searching")); err != nil {
		return nil, err
	}

	subQueries := actx.Plan.SubQueries
	findings := make([]Finding, len(subQueries))

	var wg sync.WaitGroup
	for i, sq := range subQueries {
		wg.Add(1)
		go func(i int, sq SubQuery) {
			defer wg.Done()
			findings[i] = a.searchOne(ctx, sq)
		}(i, sq)
	}
	wg.Wait()

	results := aggregate(findings)
	if err := emit(events.Data(fmt.Sprintf("Searched %d sub-quer%s, retrieved %d document(s).\n",
		len(subQueries), pluralIES(len(subQueries)), results.TotalDocuments))); err != nil {
		return nil, err
	}

	handoff := &Handoff{TargetName: NameWriter, Reason: "no documents retrieved"}
	if results.TotalDocuments > 0 {
		handoff = &Handoff{TargetName: NameResultRanker, Reason: "rank retrieved documents"}
	}
	return &Result{Findings: results, Handoff: handoff}, nil
}

// searchOne runs a single sub-query. A nil searcher settles as a failed
// finding rather than an agent error.
func (a *ParallelSearchAgent) searchOne(ctx context.Context, sq SubQuery) Finding {
	f := Finding{SubQuery: sq}
	if a.searcher == nil {
		f.Err = "search not configured"
		return f
	}
	docs, err := a.searcher.Search(ctx, sq.Query, search.Options{TopK: a.topK, Strategy: sq.Strategy()})
	if err != nil {
		f.Err = err.Error()
		return f
	}
	f.Documents = docs
	f.Relevance = relevance(docs)
	return f
}

// relevance is the normalized average document score: clamp(avg/10) on the
// default score scale.
func relevance(docs []search.Document) float64 {
	if len(docs) == 0 {
		return 0
	}
	var sum float64
	for _, d := range docs {
		sum += d.Score
	}
	return clamp01(sum / float64(len(docs)) / RelevanceDivisor)
}

// aggregate deduplicates documents across findings by id (first occurrence
// wins, in sub-query order) and picks the best sub-query.
func aggregate(findings []Finding) *SearchResults {
	seen := make(map[string]bool)
	results := &SearchResults{Findings: findings}

	best := -1
	for i := range findings {
		f := &findings[i]
		kept := f.Documents[:0]
		for _, d := range f.Documents {
			if d.ID != "" && seen[d.ID] {
				continue
			}
			if d.ID != "" {
				seen[d.ID] = true
			}
			kept = append(kept, d)
		}
		f.Documents = kept
		results.TotalDocuments += len(kept)

		if len(f.Documents) > 0 && (best < 0 || f.Relevance > findings[best].Relevance) {
			best = i
		}
	}
	if best >= 0 {
		results.BestSubQueryID = findings[best].SubQuery.ID
	}
	return results
}
